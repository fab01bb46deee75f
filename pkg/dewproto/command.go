// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

import (
	"fmt"
	"strings"
)

// Command is a host order. Its value is the order byte sent on the wire.
type Command byte

const (
	CmdHello     Command = ByteHello
	CmdSetDelta  Command = ByteSetDelta
	CmdSetOffset Command = ByteSetOffset
	CmdModeFull  Command = ByteModeFull
	CmdModeRegul Command = ByteModeRegul
	CmdStatus    Command = ByteStatus
	CmdSave      Command = ByteSave
)

// Commands lists every command the host can issue
var Commands = []Command{
	CmdHello,
	CmdSetDelta,
	CmdSetOffset,
	CmdModeFull,
	CmdModeRegul,
	CmdStatus,
	CmdSave,
}

func (c Command) String() string {
	switch c {
	case CmdHello:
		return "HELLO"
	case CmdSetDelta:
		return "SET_DELTA"
	case CmdSetOffset:
		return "SET_OFFSET"
	case CmdModeFull:
		return "SET_MODE_FULL"
	case CmdModeRegul:
		return "SET_MODE_REGUL"
	case CmdStatus:
		return "STATUS"
	case CmdSave:
		return "SAVE"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", byte(c))
	}
}

// Valid reports whether c is a known host command
func (c Command) Valid() bool {
	for _, known := range Commands {
		if c == known {
			return true
		}
	}
	return false
}

// TakesParameter reports whether the command is followed by a parameter byte
func (c Command) TakesParameter() bool {
	switch c {
	case CmdSetDelta, CmdSetOffset, CmdModeFull:
		return true
	}
	return false
}

// ParameterRange returns the inclusive range accepted by the command
func (c Command) ParameterRange() (lo, hi int) {
	switch c {
	case CmdSetDelta, CmdSetOffset:
		return 0, MaxDigitParam
	case CmdModeFull:
		return 0, MaxPowerPercent
	}
	return 0, 0
}

var commandAliases = map[string]Command{
	"hello":  CmdHello,
	"delta":  CmdSetDelta,
	"offset": CmdSetOffset,
	"full":   CmdModeFull,
	"maxi":   CmdModeFull,
	"regul":  CmdModeRegul,
	"status": CmdStatus,
	"save":   CmdSave,
}

// ParseCommand resolves a command from its wire name (SET_DELTA) or short
// alias (delta), case-insensitively.
func ParseCommand(name string) (Command, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if cmd, ok := commandAliases[key]; ok {
		return cmd, nil
	}
	for _, cmd := range Commands {
		if strings.EqualFold(cmd.String(), key) {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

// EncodeCommand builds the wire bytes for a command. Commands without a
// parameter ignore param.
func EncodeCommand(cmd Command, param int) ([]byte, error) {
	switch cmd {
	case CmdSetDelta, CmdSetOffset:
		if param < 0 || param > MaxDigitParam {
			return nil, fmt.Errorf("%w: %s value %d outside 0-%d", ErrInvalidParameter, cmd, param, MaxDigitParam)
		}
		return []byte{byte(cmd), byte('0' + param)}, nil

	case CmdModeFull:
		if param < 0 || param > MaxPowerPercent {
			return nil, fmt.Errorf("%w: %s power %d outside 0-%d", ErrInvalidParameter, cmd, param, MaxPowerPercent)
		}
		return []byte{byte(cmd), ScalePower(param)}, nil

	case CmdHello, CmdModeRegul, CmdStatus, CmdSave:
		return []byte{byte(cmd)}, nil
	}

	return nil, fmt.Errorf("%w: unsupported command 0x%02X", ErrInvalidParameter, byte(cmd))
}

// ScalePower converts a 0-100 percentage to the 0-255 PWM byte using
// integer floor division. percent must already be in range.
func ScalePower(percent int) byte {
	return byte((MaxPWM * percent) / MaxPowerPercent)
}

// Request is a command with its parameter
type Request struct {
	Command Command
	Param   int
}

// Encode returns the wire bytes for the request
func (r Request) Encode() ([]byte, error) {
	return EncodeCommand(r.Command, r.Param)
}

func (r Request) String() string {
	if r.Command.TakesParameter() {
		return fmt.Sprintf("%s(%d)", r.Command, r.Param)
	}
	return r.Command.String()
}

// Hello creates a HELLO request
func Hello() Request { return Request{Command: CmdHello} }

// SetDelta creates a SET_DELTA request (0-9)
func SetDelta(v int) Request { return Request{Command: CmdSetDelta, Param: v} }

// SetOffset creates a SET_OFFSET request (0-9)
func SetOffset(v int) Request { return Request{Command: CmdSetOffset, Param: v} }

// SetModeFull creates a SET_MODE_FULL request with a power percentage (0-100)
func SetModeFull(percent int) Request { return Request{Command: CmdModeFull, Param: percent} }

// SetModeRegul creates a SET_MODE_REGUL request
func SetModeRegul() Request { return Request{Command: CmdModeRegul} }

// Status creates a STATUS request
func Status() Request { return Request{Command: CmdStatus} }

// Save creates a SAVE request
func Save() Request { return Request{Command: CmdSave} }
