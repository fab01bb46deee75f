// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
)

// Snapshot is a copy of the session counters
type Snapshot struct {
	StartTime time.Time
	Elapsed   time.Duration

	// Counters
	CommandsSent    uint64
	Acks            uint64
	Naks            uint64
	Timeouts        uint64
	Malformed       uint64
	TransportErrors uint64
	Disconnects     uint64
	UnknownFrames   uint64
	Readings        uint64
	BytesTX         uint64
	BytesRX         uint64
	BytesDiscarded  uint64

	// EventsDropped counts raw byte events the event reader missed
	EventsDropped uint64

	LastCommand  string
	LastResponse string

	// Rates (calculated)
	CommandRate float64 // commands/min
	ErrorRate   float64 // errors/min
}

// Received counts commands resolved by a reply frame
func (s Snapshot) Received() uint64 {
	return s.Acks + s.Naks + s.Malformed
}

// Errors counts failed commands other than timeouts
func (s Snapshot) Errors() uint64 {
	return s.Naks + s.Malformed + s.TransportErrors + s.Disconnects
}

// String returns a formatted statistics summary
func (s Snapshot) String() string {
	var successPercent float64
	if resolved := s.Received() + s.Timeouts + s.TransportErrors + s.Disconnects; resolved > 0 {
		successPercent = float64(s.Acks) * 100.0 / float64(resolved)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", s.Elapsed.Seconds())
	result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
	result += fmt.Sprintf("Replies:         %8d\n", s.Received())
	result += fmt.Sprintf("Acknowledged:    %8d (%.1f%%)\n", s.Acks, successPercent)

	if s.Naks > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.Naks)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.Malformed)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", s.TransportErrors)
	}
	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown Frames:  %8d\n", s.UnknownFrames)
	}

	result += fmt.Sprintf("Readings:        %8d\n", s.Readings)
	result += fmt.Sprintf("Bytes TX/RX:     %8d / %d\n", s.BytesTX, s.BytesRX)
	if s.BytesDiscarded > 0 {
		result += fmt.Sprintf("Bytes Discarded: %8d\n", s.BytesDiscarded)
	}
	if s.EventsDropped > 0 {
		result += fmt.Sprintf("Events Dropped:  %8d\n", s.EventsDropped)
	}
	if s.LastCommand != "" {
		result += fmt.Sprintf("Last Command:    %s\n", s.LastCommand)
	}
	if s.LastResponse != "" {
		result += fmt.Sprintf("Last Response:   %s\n", s.LastResponse)
	}
	result += fmt.Sprintf("Command Rate:    %8.1f cmds/min\n", s.CommandRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/min\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Statistics counts session events. It is a Recorder and safe for
// concurrent use.
type Statistics struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{snap: Snapshot{StartTime: time.Now()}}
}

// Record updates the counters from an event
func (s *Statistics) Record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case RawBytesObserved:
		if e.Direction == DirectionTX {
			s.snap.CommandsSent++
			s.snap.BytesTX += uint64(len(e.Data))
			s.snap.LastCommand = dewproto.FormatRequest(e.Data)
		} else {
			s.snap.BytesRX += uint64(len(e.Data))
		}

	case StatusUpdated:
		s.snap.Readings++

	case CommandAcknowledged:
		switch {
		case e.Err == nil:
			s.snap.Acks++
		case errors.Is(e.Err, ErrProtocolNak):
			s.snap.Naks++
		case errors.Is(e.Err, ErrTimeout):
			s.snap.Timeouts++
		case errors.Is(e.Err, dewproto.ErrMalformedStatus):
			s.snap.Malformed++
		case errors.Is(e.Err, ErrTransport):
			s.snap.TransportErrors++
		case errors.Is(e.Err, ErrDisconnected):
			s.snap.Disconnects++
		}
		if len(e.Raw) > 0 {
			s.snap.LastResponse = dewproto.FormatBytes(e.Raw)
		} else if e.Err != nil {
			s.snap.LastResponse = e.Err.Error()
		}

	case UnknownFrameReceived:
		s.snap.UnknownFrames++

	case BytesDiscarded:
		s.snap.BytesDiscarded += e.Count
	}
	return nil
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	snap.Elapsed = time.Since(snap.StartTime)
	if minutes := snap.Elapsed.Minutes(); minutes > 0 {
		snap.CommandRate = float64(snap.CommandsSent) / minutes
		snap.ErrorRate = float64(snap.Errors()+snap.Timeouts) / minutes
	}
	return snap
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{StartTime: time.Now()}
}
