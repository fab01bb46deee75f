// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives one controller over a byte link: it serializes
// commands so at most one is outstanding, resolves replies and timeouts, runs
// the boot sequence after connecting, and publishes events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/sirupsen/logrus"
)

// Transport is the byte link to the controller
type Transport interface {
	Write(p []byte) (int, error)

	// Poll returns the bytes received since the last call without
	// blocking. An empty result means nothing arrived.
	Poll() ([]byte, error)

	Close() error
}

// Recorder receives every event the session emits
type Recorder interface {
	Record(ev Event) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ev Event) error

func (f RecorderFunc) Record(ev Event) error { return f(ev) }

const defaultEventBuffer = 256

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithRecorder adds a recorder
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorders = append(s.recorders, r) }
}

// WithEventBuffer sets the capacity of the event channel. Raw byte events
// are dropped once this many events wait for the reader.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.events = make(chan Event, n) }
}

// WithoutEvents turns event delivery off, for callers that only use Do.
// Recorders still see every event.
func WithoutEvents() Option {
	return func(s *Session) { s.silent = true }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type issueRequest struct {
	cmd    dewproto.Command
	param  int
	raw    []byte
	reply  chan error
	result chan CommandAcknowledged
}

// Session runs a Machine against a Transport. The Machine is owned by the
// goroutine in Run; Issue and Do hand requests to it, so checking for an
// outstanding command, writing and marking it outstanding happen as one step.
type Session struct {
	transport Transport
	cfg       Config
	machine   *Machine
	log       logrus.FieldLogger
	recorders []Recorder
	stats     *Statistics
	now       func() time.Time

	events   chan Event
	queue    *eventQueue
	silent   bool
	requests chan issueRequest
	ready    chan struct{}
	done     chan struct{}

	// Loop goroutine only
	pending   chan CommandAcknowledged
	readyOnce sync.Once

	mu       sync.RWMutex
	state    State
	nextBoot time.Time
	started  bool
	dropped  uint64
}

// New creates a session over an open transport
func New(t Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		transport: t,
		cfg:       cfg,
		machine:   NewMachine(cfg),
		log:       logrus.StandardLogger(),
		stats:     NewStatistics(),
		now:       time.Now,
		events:    make(chan Event, defaultEventBuffer),
		queue:     newEventQueue(),
		requests:  make(chan issueRequest),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the notification channel. It is closed after Run returns
// and every queued event has been received. Only RawBytesObserved events
// are dropped when the reader falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns a snapshot of the session state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Statistics returns the session counters
func (s *Session) Statistics() Snapshot {
	snap := s.stats.Snapshot()
	snap.EventsDropped = s.Dropped()
	return snap
}

// ResetStatistics clears the session counters
func (s *Session) ResetStatistics() {
	s.stats.Reset()
}

// Done is closed when Run returns
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run connects the machine and polls the transport until ctx is cancelled
// or the transport fails. It returns nil on cancellation. The transport is
// not closed.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	if s.silent {
		defer close(s.events)
	} else {
		defer s.queue.close()
		go s.deliver()
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.dispatch(s.machine.Connect(s.now()))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.dispatch(s.machine.Disconnect(s.now()))
			return nil

		case req := <-s.requests:
			s.handleIssue(req)

		case <-ticker.C:
			if err := s.poll(); err != nil {
				s.dispatch(s.machine.Disconnect(s.now()))
				return fmt.Errorf("%w: %v", ErrTransport, err)
			}
		}
	}
}

func (s *Session) poll() error {
	data, err := s.transport.Poll()
	now := s.now()

	if len(data) > 0 {
		s.dispatch([]Event{RawBytesObserved{Direction: DirectionRX, Data: data, At: now}})
		if s.machine.State().Phase != PhaseAwaitingResponse {
			s.log.WithField("raw", dewproto.FormatHex(data)).Debug("Discarding bytes with no command outstanding")
		}
		s.dispatch(s.machine.Receive(data, now))
	}
	if err != nil {
		return err
	}

	events, out := s.machine.Tick(now)
	s.dispatch(events)
	if out != nil {
		s.write(out, now)
	}
	return nil
}

func (s *Session) handleIssue(req issueRequest) {
	now := s.now()
	var data []byte
	var err error
	if req.raw != nil {
		data, err = s.machine.BeginRaw(req.raw, now)
	} else {
		data, err = s.machine.Begin(req.cmd, req.param, now)
	}
	if err != nil {
		req.reply <- err
		return
	}

	s.pending = req.result
	s.syncState()
	req.reply <- s.write(data, now)
}

func (s *Session) write(data []byte, now time.Time) error {
	if _, err := s.transport.Write(data); err != nil {
		s.log.WithError(err).WithField("command", dewproto.FormatRequest(data)).Error("Write failed")
		s.dispatch(s.machine.Abort(err, now))
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	s.dispatch([]Event{RawBytesObserved{Direction: DirectionTX, Data: data, At: now}})
	return nil
}

func (s *Session) dispatch(events []Event) {
	for _, ev := range events {
		s.stats.Record(ev)
		s.logEvent(ev)

		for _, r := range s.recorders {
			if err := r.Record(ev); err != nil {
				s.log.WithError(err).Warn("Recorder failed")
			}
		}

		switch e := ev.(type) {
		case CommandAcknowledged:
			if !e.Boot && s.pending != nil {
				s.pending <- e
				s.pending = nil
			}
		case ConnectionStateChanged:
			if e.State == ConnReady {
				s.readyOnce.Do(func() { close(s.ready) })
			}
		}

		s.enqueue(ev)
	}
	s.syncState()
}

// enqueue hands ev to the delivery goroutine. Raw byte events are dropped
// when a full channel's worth of events is already waiting.
func (s *Session) enqueue(ev Event) {
	if s.silent {
		return
	}
	if _, raw := ev.(RawBytesObserved); raw && s.queue.len() >= cap(s.events) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Debug("Event reader behind, dropping raw bytes event")
		return
	}
	s.queue.push(ev)
}

// deliver moves queued events to the channel and closes it once Run has
// returned and the queue is empty
func (s *Session) deliver() {
	defer close(s.events)
	for {
		ev, ok := s.queue.pop()
		if !ok {
			return
		}
		s.events <- ev
	}
}

func (s *Session) syncState() {
	s.mu.Lock()
	s.state = s.machine.State()
	s.nextBoot = s.machine.bootAt
	s.mu.Unlock()
}

func (s *Session) logEvent(ev Event) {
	switch e := ev.(type) {
	case RawBytesObserved:
		s.log.WithFields(logrus.Fields{
			"direction": e.Direction,
			"raw":       dewproto.FormatHex(e.Data),
		}).Debug("Bytes")

	case StatusUpdated:
		s.log.WithField("reading", dewproto.FormatReadingLine(&e.Reading)).Debug("Status")

	case CommandAcknowledged:
		entry := s.log.WithFields(logrus.Fields{
			"command":  e.Command,
			"duration": e.Duration,
			"boot":     e.Boot,
		})
		if e.Success {
			entry.Info("Command acknowledged")
		} else {
			entry.WithError(e.Err).Warn("Command failed")
		}

	case ConnectionStateChanged:
		s.log.WithField("state", e.State).Info("Connection state changed")

	case UnknownFrameReceived:
		s.log.WithFields(logrus.Fields{
			"command": e.Command,
			"raw":     dewproto.FormatBytes(e.Raw),
		}).WithError(e.Err).Warn("Unexpected frame")

	case BytesDiscarded:
		s.log.WithField("count", e.Count).Warn("Receive buffer full, discarding oldest bytes")
	}
}

// Dropped returns how many raw byte events were dropped because the reader
// fell behind
func (s *Session) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Issue sends a command. It returns once the bytes are written, or with
// dewproto.ErrInvalidParameter, ErrBusy, ErrBooting, ErrNotConnected or
// ErrTransport. The outcome is reported by a CommandAcknowledged event.
func (s *Session) Issue(ctx context.Context, cmd dewproto.Command, param int) error {
	return s.submit(ctx, cmd, param, nil)
}

// Do sends a command and waits for it to resolve. The returned error is the
// acknowledgement's Err, or the reason the command was not sent.
func (s *Session) Do(ctx context.Context, cmd dewproto.Command, param int) (*CommandAcknowledged, error) {
	result := make(chan CommandAcknowledged, 1)
	if err := s.submit(ctx, cmd, param, result); err != nil {
		return nil, err
	}
	return s.await(ctx, result)
}

func (s *Session) await(ctx context.Context, result chan CommandAcknowledged) (*CommandAcknowledged, error) {
	select {
	case ack := <-result:
		return &ack, ack.Err
	case <-s.done:
		select {
		case ack := <-result:
			return &ack, ack.Err
		default:
			return nil, ErrDisconnected
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendRaw writes arbitrary bytes as one command and waits for the reply.
// It goes through the same single-command gate as Do; the first byte
// decides which replies resolve it, and unknown bytes resolve on ACK
// or NAK.
func (s *Session) SendRaw(ctx context.Context, data []byte) (*CommandAcknowledged, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	result := make(chan CommandAcknowledged, 1)
	req := issueRequest{
		cmd:    dewproto.Command(data[0]),
		raw:    append([]byte(nil), data...),
		reply:  make(chan error, 1),
		result: result,
	}
	if err := s.submitRequest(ctx, req); err != nil {
		return nil, err
	}
	return s.await(ctx, result)
}

func (s *Session) submit(ctx context.Context, cmd dewproto.Command, param int, result chan CommandAcknowledged) error {
	// Parameter errors never reach the loop
	if _, err := dewproto.EncodeCommand(cmd, param); err != nil {
		return err
	}

	return s.submitRequest(ctx, issueRequest{
		cmd:    cmd,
		param:  param,
		reply:  make(chan error, 1),
		result: result,
	})
}

func (s *Session) submitRequest(ctx context.Context, req issueRequest) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotConnected
	}

	select {
	case s.requests <- req:
	case <-s.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-req.reply
}

// WaitReady blocks until the boot sequence completes
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BootRemaining returns the time until the next boot command, or zero
func (s *Session) BootRemaining() time.Duration {
	s.mu.RLock()
	phase, next := s.state.Phase, s.nextBoot
	s.mu.RUnlock()
	if phase != PhaseAwaitingBoot {
		return 0
	}
	remaining := next.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
