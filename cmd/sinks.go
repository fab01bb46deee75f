// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/dewstat/pkg/datalog"
	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/metrics"
	"github.com/Thermoquad/dewstat/pkg/publish"
	"github.com/Thermoquad/dewstat/pkg/session"
)

// sinks holds the recorders shared by every session of one command run.
// They outlive reconnects so a TUI run keeps one CSV file and one set of
// counters.
type sinks struct {
	datalog   *datalog.Logger
	metrics   *metrics.Recorder
	publisher *publish.Publisher

	cancel context.CancelFunc
}

// openSinks starts the data log, metrics server and Redis publisher enabled
// in cfg
func openSinks(ctx context.Context) (*sinks, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &sinks{cancel: cancel}

	if cfg.Logging.Dir != "" {
		format, err := datalog.ParseFormat(cfg.Logging.EventFormat)
		if err != nil {
			s.Close()
			return nil, err
		}
		dl, err := datalog.Open(cfg.Logging.Dir, format, datalog.WithLogger(log))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to start data log: %w", err)
		}
		s.datalog = dl
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		s.metrics = metrics.New()
		go func() {
			if err := s.metrics.Serve(ctx, addr, log); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if addr := cfg.Redis.Addr; addr != "" {
		pub, err := publish.Dial(ctx, publish.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			History:  cfg.Redis.History,
		}, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.publisher = pub
	}

	return s, nil
}

// options returns the session options wiring every enabled sink
func (s *sinks) options() []session.Option {
	opts := []session.Option{session.WithLogger(log)}
	if s.datalog != nil {
		opts = append(opts, session.WithRecorder(s.datalog))
	}
	if s.metrics != nil {
		opts = append(opts, session.WithRecorder(s.metrics))
	}
	if s.publisher != nil {
		opts = append(opts, session.WithRecorder(s.publisher))
	}
	return opts
}

// describe lists the enabled sinks for the startup banner
func (s *sinks) describe() []string {
	var lines []string
	if s.datalog != nil {
		lines = append(lines, fmt.Sprintf("Data log: %s, %s", s.datalog.CSVPath(), s.datalog.EventPath()))
	}
	if s.metrics != nil {
		lines = append(lines, fmt.Sprintf("Metrics: http://%s/metrics", cfg.Metrics.Addr))
	}
	if s.publisher != nil {
		lines = append(lines, fmt.Sprintf("Redis: %s (%s)", cfg.Redis.Addr, s.publisher.StatusChannel()))
	}
	return lines
}

// Close stops every sink
func (s *sinks) Close() error {
	s.cancel()

	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.datalog != nil {
		errs = append(errs, s.datalog.Close())
	}
	return errors.Join(errs...)
}

// newSession creates a session over conn using the configured timing
func newSession(conn session.Transport, s *sinks, extra ...session.Option) *session.Session {
	opts := append(s.options(), extra...)
	return session.New(conn, cfg.Protocol.SessionConfig(), opts...)
}

// formatEvent renders an event for line-oriented output. It returns "" for
// events that are not shown; raw bytes are shown only when raw is set.
func formatEvent(ev session.Event, raw bool) string {
	timestamp := ev.Time().Format("15:04:05.000")

	switch e := ev.(type) {
	case session.RawBytesObserved:
		if !raw {
			return ""
		}
		return fmt.Sprintf("[%s] %s %s\n", timestamp, e.Direction, dewproto.FormatBytes(e.Data))

	case session.StatusUpdated:
		return fmt.Sprintf("[%s] STATUS\n%s", timestamp, dewproto.FormatReading(&e.Reading))

	case session.CommandAcknowledged:
		return fmt.Sprintf("[%s] %s\n", timestamp, describeAck(e))

	case session.ConnectionStateChanged:
		return fmt.Sprintf("[%s] Connection %s\n", timestamp, e.State)

	case session.UnknownFrameReceived:
		line := fmt.Sprintf("[%s] Unexpected frame while awaiting %s: %s", timestamp, e.Command, dewproto.FormatBytes(e.Raw))
		if e.Err != nil {
			line += fmt.Sprintf(" (%v)", e.Err)
		}
		return line + "\n"

	case session.BytesDiscarded:
		return fmt.Sprintf("[%s] Receive buffer full, %d bytes discarded\n", timestamp, e.Count)
	}
	return ""
}

// describeAck summarizes an acknowledgement on one line
func describeAck(e session.CommandAcknowledged) string {
	var s strings.Builder
	s.WriteString(e.Command.String())
	if e.Boot {
		s.WriteString(" (boot)")
	}

	switch {
	case e.Success && e.Command == dewproto.CmdHello && e.FirstConnection:
		s.WriteString(" OK, first connection")
	case e.Success && e.Command == dewproto.CmdHello:
		s.WriteString(" OK, already connected")
	case e.Success:
		s.WriteString(" OK")
	default:
		fmt.Fprintf(&s, " FAILED: %v", e.Err)
	}

	if e.Duration > 0 {
		fmt.Fprintf(&s, " [%dms]", e.Duration.Milliseconds())
	}
	return s.String()
}
