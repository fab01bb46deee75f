// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
)

// Phase is the session state variant
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingBoot
	PhaseAwaitingResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseAwaitingBoot:
		return "AWAITING_BOOT"
	case PhaseAwaitingResponse:
		return "AWAITING_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// State is a snapshot of the session. Command and Started are set for
// PhaseAwaitingResponse; Started is the connect time for PhaseAwaitingBoot.
type State struct {
	Phase   Phase
	Command dewproto.Command
	Started time.Time
}

func (s State) String() string {
	if s.Phase == PhaseAwaitingResponse {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Command)
	}
	return s.Phase.String()
}

// ConnState is the link state reported to observers
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnBooting
	ConnReady
)

func (c ConnState) String() string {
	switch c {
	case ConnDisconnected:
		return "DISCONNECTED"
	case ConnBooting:
		return "BOOTING"
	case ConnReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}
