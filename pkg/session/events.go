// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
)

// Event is a notification produced by the session
type Event interface {
	Time() time.Time
}

// Direction of observed bytes
type Direction int

const (
	DirectionRX Direction = iota
	DirectionTX
)

func (d Direction) String() string {
	if d == DirectionTX {
		return "TX"
	}
	return "RX"
}

// StatusUpdated carries the reading of a successful STATUS exchange
type StatusUpdated struct {
	Reading dewproto.StatusReading
	At      time.Time
}

func (e StatusUpdated) Time() time.Time { return e.At }

// CommandAcknowledged is emitted exactly once for every command written to
// the link, when it resolves.
type CommandAcknowledged struct {
	Command dewproto.Command
	Success bool

	// Err is nil on success and wraps ErrProtocolNak, ErrTimeout,
	// ErrTransport, ErrDisconnected or dewproto.ErrMalformedStatus otherwise
	Err error

	// Response and Raw describe the resolving frame, if any
	Response dewproto.ResponseKind
	Raw      []byte

	// FirstConnection is set when HELLO was answered with HELLO
	FirstConnection bool

	// Boot is set for commands sent by the boot sequence
	Boot bool

	Duration time.Duration
	At       time.Time
}

func (e CommandAcknowledged) Time() time.Time { return e.At }

// ConnectionStateChanged reports link progress
type ConnectionStateChanged struct {
	State ConnState
	At    time.Time
}

func (e ConnectionStateChanged) Time() time.Time { return e.At }

// RawBytesObserved reports bytes as they cross the link
type RawBytesObserved struct {
	Direction Direction
	Data      []byte
	At        time.Time
}

func (e RawBytesObserved) Time() time.Time { return e.At }

// UnknownFrameReceived reports a frame that did not resolve the outstanding
// command. The session keeps waiting.
type UnknownFrameReceived struct {
	Command dewproto.Command
	Raw     []byte
	Err     error
	At      time.Time
}

func (e UnknownFrameReceived) Time() time.Time { return e.At }

// BytesDiscarded reports received bytes thrown away because the receive
// buffer overflowed
type BytesDiscarded struct {
	Count uint64
	At    time.Time
}

func (e BytesDiscarded) Time() time.Time { return e.At }
