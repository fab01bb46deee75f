// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResponseKind classifies an extracted frame
type ResponseKind int

const (
	KindUnknown ResponseKind = iota
	KindAck
	KindNak
	KindHelloAck
	KindStatusAck
	KindStatusNak
)

func (k ResponseKind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindNak:
		return "NAK"
	case KindHelloAck:
		return "HELLO_ACK"
	case KindStatusAck:
		return "STATUS_ACK"
	case KindStatusNak:
		return "STATUS_NAK"
	default:
		return "UNKNOWN"
	}
}

// Response is a parsed frame
type Response struct {
	Kind ResponseKind

	// FirstConnection is set for HelloAck when the controller answered HELLO
	// rather than ALREADY_CONNECTED
	FirstConnection bool

	// Reading is set for StatusAck
	Reading *StatusReading

	Raw []byte
}

// Success reports whether the frame ends with the RECEIVED marker
func (r *Response) Success() bool {
	switch r.Kind {
	case KindAck, KindHelloAck, KindStatusAck:
		return true
	}
	return false
}

// ParseFrame classifies a frame and decodes its payload.
//
// Status frames with a bad payload return a *FrameError wrapping
// ErrMalformedStatus; unrecognized frames return a Response of KindUnknown
// together with a *FrameError wrapping ErrUnknownFrame.
func ParseFrame(frame []byte) (*Response, error) {
	raw := make([]byte, len(frame))
	copy(raw, frame)
	resp := &Response{Kind: KindUnknown, Raw: raw}

	switch {
	case len(frame) == 1 && frame[0] == ByteAck:
		resp.Kind = KindAck
		return resp, nil

	case len(frame) == 1 && frame[0] == ByteNak:
		resp.Kind = KindNak
		return resp, nil

	case len(frame) == 2 && frame[1] == ByteAck && (frame[0] == ByteHello || frame[0] == ByteAlreadyConnected):
		resp.Kind = KindHelloAck
		resp.FirstConnection = frame[0] == ByteHello
		return resp, nil

	case isStatusFrame(frame, ByteAck):
		reading, err := ParseStatusPayload(frame[1 : len(frame)-2])
		if err != nil {
			return nil, &FrameError{Err: ErrMalformedStatus, Raw: raw, Reason: err.Error()}
		}
		resp.Kind = KindStatusAck
		resp.Reading = reading
		return resp, nil

	case isStatusFrame(frame, ByteNak):
		resp.Kind = KindStatusNak
		return resp, nil
	}

	return resp, &FrameError{Err: ErrUnknownFrame, Raw: raw}
}

func isStatusFrame(frame []byte, marker byte) bool {
	n := len(frame)
	return n >= 3 && frame[0] == StatusOpen && frame[n-2] == StatusClose && frame[n-1] == marker
}

// ParseStatusPayload decodes the text between '[' and ']'. The reading is
// stamped with the current time.
func ParseStatusPayload(payload []byte) (*StatusReading, error) {
	fields := bytes.Split(payload, []byte{FieldSeparator})
	if len(fields) != StatusFieldCount {
		return nil, fmt.Errorf("expected %d fields, got %d", StatusFieldCount, len(fields))
	}

	var floats [5]float64
	for i := range floats {
		v, err := strconv.ParseFloat(field(fields[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d (%s): %q is not a number", i+1, statusFieldNames[i], fields[i])
		}
		floats[i] = v
	}

	var ints [2]int
	for i := range ints {
		idx := len(floats) + i
		v, err := strconv.Atoi(field(fields[idx]))
		if err != nil {
			return nil, fmt.Errorf("field %d (%s): %q is not an integer", idx+1, statusFieldNames[idx], fields[idx])
		}
		ints[i] = v
	}

	return &StatusReading{
		Timestamp:       time.Now(),
		Temperature:     floats[0],
		Humidity:        floats[1],
		TubeTemperature: floats[2],
		DewPoint:        floats[3],
		PWM:             floats[4],
		DeltaTemp:       ints[0],
		DewOffset:       ints[1],
	}, nil
}

// The controller pads short values with spaces
func field(b []byte) string {
	return strings.TrimSpace(string(b))
}

var statusFieldNames = [StatusFieldCount]string{
	"temperature",
	"humidity",
	"tube_temperature",
	"dew_point",
	"pwm",
	"delta_temp",
	"dew_offset",
}
