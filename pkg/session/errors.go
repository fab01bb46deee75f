// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "errors"

var (
	// ErrBusy is returned when a command is issued while another is outstanding
	ErrBusy = errors.New("command outstanding")

	// ErrBooting is returned for user commands during the boot window
	ErrBooting = errors.New("device booting")

	// ErrNotConnected is returned when no session loop is running
	ErrNotConnected = errors.New("not connected")

	// ErrTransport wraps write and read failures of the underlying link
	ErrTransport = errors.New("transport error")

	// ErrTimeout is reported when no frame resolved a command in time
	ErrTimeout = errors.New("response timeout")

	// ErrProtocolNak is reported when the controller answered ERROR
	ErrProtocolNak = errors.New("command rejected")

	// ErrDisconnected is reported for a command outstanding at disconnect
	ErrDisconnected = errors.New("disconnected")

	// ErrEmptyFrame is returned by SendRaw for an empty byte string
	ErrEmptyFrame = errors.New("empty frame")
)
