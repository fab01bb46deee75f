// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
)

// Boot sequence progress
type bootStep int

const (
	bootHello bootStep = iota
	bootHelloPending
	bootStatus
	bootStatusPending
	bootDone
)

// Machine is the command session state machine. It performs no I/O and
// reads no clock: callers pass the current time, write the bytes it returns,
// and deliver the events it produces. Machine is not safe for concurrent use.
type Machine struct {
	cfg       Config
	state     State
	connected bool
	boot      bootStep
	bootAt    time.Time
	connectAt time.Time
	extractor *dewproto.Extractor
}

// NewMachine creates a disconnected machine
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:       cfg,
		state:     State{Phase: PhaseIdle},
		boot:      bootDone,
		extractor: dewproto.NewExtractor(),
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Connected reports whether Connect was called without a later Disconnect
func (m *Machine) Connected() bool {
	return m.connected
}

// Ready reports whether the boot sequence has completed
func (m *Machine) Ready() bool {
	return m.connected && m.boot == bootDone
}

// FramePhase reports the STATUS framing sub-state of the receive buffer
func (m *Machine) FramePhase() dewproto.StatusPhase {
	return m.extractor.Phase()
}

// BootRemaining returns the time left before the next boot command, or zero
func (m *Machine) BootRemaining(now time.Time) time.Duration {
	if m.state.Phase != PhaseAwaitingBoot || now.After(m.bootAt) {
		return 0
	}
	return m.bootAt.Sub(now)
}

// Connect starts the boot window
func (m *Machine) Connect(now time.Time) []Event {
	m.connected = true
	m.connectAt = now
	m.extractor.Reset()

	if m.cfg.SkipBoot {
		m.boot = bootDone
		m.state = State{Phase: PhaseIdle}
		return []Event{ConnectionStateChanged{State: ConnReady, At: now}}
	}

	m.boot = bootHello
	m.bootAt = now.Add(m.cfg.BootDelay)
	m.state = State{Phase: PhaseAwaitingBoot, Started: now}
	return []Event{ConnectionStateChanged{State: ConnBooting, At: now}}
}

// Disconnect forces the machine back to idle. An outstanding command
// resolves with ErrDisconnected.
func (m *Machine) Disconnect(now time.Time) []Event {
	if !m.connected {
		return nil
	}

	var events []Event
	if m.state.Phase == PhaseAwaitingResponse {
		events = append(events, m.acknowledgement(now, nil, ErrDisconnected))
	}

	m.connected = false
	m.boot = bootDone
	m.state = State{Phase: PhaseIdle}
	m.extractor.Reset()

	return append(events, ConnectionStateChanged{State: ConnDisconnected, At: now})
}

// Begin validates a user command and marks it outstanding. The returned
// bytes must be written to the link; if the write fails call Abort.
func (m *Machine) Begin(cmd dewproto.Command, param int, now time.Time) ([]byte, error) {
	data, err := dewproto.EncodeCommand(cmd, param)
	if err != nil {
		return nil, err
	}

	if err := m.checkIdle(); err != nil {
		return nil, err
	}

	m.start(cmd, now)
	return data, nil
}

// BeginRaw marks arbitrary bytes outstanding as one command. The first
// byte names the command: known command bytes resolve on their usual
// replies, other bytes on RECEIVED or ERROR. The response timeout is that
// of the named command.
func (m *Machine) BeginRaw(data []byte, now time.Time) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	if err := m.checkIdle(); err != nil {
		return nil, err
	}

	m.start(dewproto.Command(data[0]), now)
	return append([]byte(nil), data...), nil
}

// checkIdle reports why a command cannot be started now
func (m *Machine) checkIdle() error {
	if !m.connected {
		return ErrNotConnected
	}

	switch m.state.Phase {
	case PhaseAwaitingResponse:
		return fmt.Errorf("%w: %s", ErrBusy, m.state.Command)
	case PhaseAwaitingBoot:
		return ErrBooting
	case PhaseIdle:
	}
	return nil
}

// Abort resolves the outstanding command after a failed write
func (m *Machine) Abort(cause error, now time.Time) []Event {
	if m.state.Phase != PhaseAwaitingResponse {
		return nil
	}
	return m.resolve(now, nil, fmt.Errorf("%w: %v", ErrTransport, cause))
}

// Receive feeds bytes read from the link. Bytes arriving while no command is
// outstanding are discarded.
func (m *Machine) Receive(data []byte, now time.Time) []Event {
	if m.state.Phase != PhaseAwaitingResponse {
		return nil
	}

	var events []Event
	before := m.extractor.Dropped()
	frames := m.extractor.Feed(data)
	if n := m.extractor.Dropped() - before; n > 0 {
		events = append(events, BytesDiscarded{Count: n, At: now})
	}

	for _, frame := range frames {
		if m.state.Phase != PhaseAwaitingResponse {
			break
		}
		events = append(events, m.handleFrame(frame, now)...)
	}
	return events
}

// Tick applies the passage of time: response timeouts and the boot
// schedule. Non-nil bytes are a boot command to write.
func (m *Machine) Tick(now time.Time) ([]Event, []byte) {
	switch m.state.Phase {
	case PhaseAwaitingResponse:
		cmd := m.state.Command
		timeout := m.cfg.TimeoutFor(cmd)
		if now.Sub(m.state.Started) > timeout {
			return m.resolve(now, nil, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd, timeout)), nil
		}

	case PhaseAwaitingBoot:
		if now.Before(m.bootAt) {
			return nil, nil
		}
		switch m.boot {
		case bootHello:
			m.boot = bootHelloPending
			m.start(dewproto.CmdHello, now)
			return nil, []byte{dewproto.ByteHello}
		case bootStatus:
			m.boot = bootStatusPending
			m.start(dewproto.CmdStatus, now)
			return nil, []byte{dewproto.ByteStatus}
		}

	case PhaseIdle:
	}

	return nil, nil
}

func (m *Machine) start(cmd dewproto.Command, now time.Time) {
	m.extractor.Reset()
	m.state = State{Phase: PhaseAwaitingResponse, Command: cmd, Started: now}
}

func (m *Machine) handleFrame(frame []byte, now time.Time) []Event {
	cmd := m.state.Command
	resp, err := dewproto.ParseFrame(frame)

	if err != nil {
		if errors.Is(err, dewproto.ErrMalformedStatus) && cmd == dewproto.CmdStatus {
			return m.resolve(now, &dewproto.Response{Kind: dewproto.KindStatusAck, Raw: frame}, err)
		}
		return []Event{UnknownFrameReceived{Command: cmd, Raw: frame, Err: err, At: now}}
	}

	if !accepts(cmd, resp.Kind) {
		err := fmt.Errorf("%w: %s in reply to %s", dewproto.ErrUnknownFrame, resp.Kind, cmd)
		return []Event{UnknownFrameReceived{Command: cmd, Raw: frame, Err: err, At: now}}
	}

	if !resp.Success() {
		return m.resolve(now, resp, fmt.Errorf("%w: %s", ErrProtocolNak, cmd))
	}

	if resp.Reading != nil {
		reading := *resp.Reading
		reading.Timestamp = now
		resp.Reading = &reading
	}
	return m.resolve(now, resp, nil)
}

// accepts reports whether a response kind resolves the command
func accepts(cmd dewproto.Command, kind dewproto.ResponseKind) bool {
	switch kind {
	case dewproto.KindNak:
		return true
	case dewproto.KindAck:
		return cmd != dewproto.CmdStatus
	case dewproto.KindHelloAck:
		return cmd == dewproto.CmdHello
	case dewproto.KindStatusAck, dewproto.KindStatusNak:
		return cmd == dewproto.CmdStatus
	}
	return false
}

// resolve ends the outstanding command and advances the boot sequence
func (m *Machine) resolve(now time.Time, resp *dewproto.Response, err error) []Event {
	var events []Event
	if err == nil && resp != nil && resp.Reading != nil {
		events = append(events, StatusUpdated{Reading: *resp.Reading, At: now})
	}
	events = append(events, m.acknowledgement(now, resp, err))

	cmd := m.state.Command
	switch {
	case m.boot == bootHelloPending && cmd == dewproto.CmdHello:
		m.boot = bootStatus
		m.bootAt = now.Add(m.cfg.StatusDelay)
	case m.boot == bootStatusPending && cmd == dewproto.CmdStatus:
		m.boot = bootDone
		events = append(events, ConnectionStateChanged{State: ConnReady, At: now})
	}

	if m.boot == bootDone {
		m.state = State{Phase: PhaseIdle}
	} else {
		m.state = State{Phase: PhaseAwaitingBoot, Started: m.connectAt}
	}
	return events
}

func (m *Machine) acknowledgement(now time.Time, resp *dewproto.Response, err error) CommandAcknowledged {
	ack := CommandAcknowledged{
		Command:  m.state.Command,
		Success:  err == nil,
		Err:      err,
		Boot:     m.boot == bootHelloPending || m.boot == bootStatusPending,
		Duration: now.Sub(m.state.Started),
		At:       now,
	}
	if resp != nil {
		ack.Response = resp.Kind
		ack.Raw = resp.Raw
		ack.FirstConnection = resp.FirstConnection
	}
	return ack
}
