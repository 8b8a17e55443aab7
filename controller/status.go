// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
)

// State is the display goroutine state.
type State int

// Uninitialized -> Initializing -> Idle <-> Busy. Failed is terminal.
const (
	Uninitialized State = iota
	Initializing
	Idle
	Busy
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the display state.
type Status struct {
	State State `json:"state"`
	// Initialized is false before the first Init and after Sleep.
	Initialized   bool          `json:"initialized"`
	Busy          bool          `json:"busy"`
	LastOperation cmdqueue.Kind `json:"last_operation"`
	LastUpdate    time.Time     `json:"last_update"`
	Message       string        `json:"message"`
	LastError     string        `json:"last_error,omitempty"`
	// Frames counts completed refreshes.
	Frames       uint64 `json:"frames"`
	BusyTimeouts uint64 `json:"busy_timeouts"`
}
