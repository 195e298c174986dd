// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of an embedded span pipeline.
//
// A pipeline runs inside someone else's process, so the sources are
// layered rather than exclusive. From lowest to highest precedence:
//
//   - [Default] values
//   - the file named by SPANPIPE_CONFIG (via [Load]) or passed to
//     [LoadFile]; YAML, or JSON with comments for .json and .jsonc
//   - the development, staging or production section of that file
//     matching [Config].Environment
//   - SPANPIPE_* environment variables (SPANPIPE_FLUSH_INTERVAL,
//     SPANPIPE_ARENA_MAX_CAPACITY, SPANPIPE_ENDPOINT, ...)
//
// The export endpoint is expanded after loading: ${VAR} and
// ${VAR:-default} patterns are replaced from the environment.
//
// Key exports:
//
//   - [Config] -- master struct with Arena and Export sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends on no other spanpipe packages.
package config
