// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides process identity and binary entrypoint
// helpers.
//
// [ID] is the live process identity the export pipeline compares
// against the identity that started its worker. [ContainerID] reads
// the container id from the cgroup file so the exporter can tag its
// requests. [Fatal] reports an error from main() to stderr before the
// structured logger exists and exits.
package process
