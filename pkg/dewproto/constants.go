// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dewproto implements the DarkiDew dew heater serial protocol.
//
// The host sends single order bytes (0x30-0x39), some followed by one
// parameter byte. The controller answers every order with RECEIVED (0x35) or
// ERROR (0x34). HELLO is answered with HELLO or ALREADY_CONNECTED before the
// RECEIVED marker, and STATUS with an ASCII payload framed by '[' and ']':
//
//	[temperature#humidity#tube#dew_point#pwm#delta#offset]5
//
// This package provides command encoding, frame extraction from a partial
// byte stream, and frame parsing.
package dewproto

// Order bytes
const (
	ByteHello            = 0x30
	ByteSetDelta         = 0x31
	ByteSetOffset        = 0x32
	ByteAlreadyConnected = 0x33
	ByteNak              = 0x34 // ERROR
	ByteAck              = 0x35 // RECEIVED
	ByteModeFull         = 0x36
	ByteModeRegul        = 0x37
	ByteStatus           = 0x38
	ByteSave             = 0x39
)

// Status payload framing
const (
	StatusOpen     = 0x5B // '['
	StatusClose    = 0x5D // ']'
	FieldSeparator = '#'
)

// Limits
const (
	StatusFieldCount = 7
	MaxDigitParam    = 9
	MaxPowerPercent  = 100
	MaxPWM           = 255
	MaxBufferSize    = 256
	DefaultBaudRate  = 19200
)
