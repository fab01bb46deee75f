// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned when a command parameter is out of range
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMalformedStatus is returned when a STATUS frame closed but its
	// payload is not seven numeric fields
	ErrMalformedStatus = errors.New("malformed status")

	// ErrUnknownFrame is returned for frames matching no known response shape
	ErrUnknownFrame = errors.New("unknown frame")

	// ErrInvalidHex is returned by ParseHex
	ErrInvalidHex = errors.New("invalid hex")
)

// FrameError describes a frame that could not be parsed. Raw holds the
// complete frame for diagnostics.
type FrameError struct {
	Err    error
	Raw    []byte
	Reason string
}

func (e *FrameError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: % X", e.Err, e.Raw)
	}
	return fmt.Sprintf("%v: %s: % X", e.Err, e.Reason, e.Raw)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
