// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "fmt"

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateNotStarted State = iota
	StateStartingUp
	StateRunning
	StateSuspended
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStartingUp:
		return "starting-up"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
