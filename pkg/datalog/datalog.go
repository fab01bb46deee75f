// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package datalog records a session to disk: readings to a CSV file and every
// event to a JSON Lines or CBOR sequence log.
package datalog

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// Event log record types
const (
	TypeData  = "DATA"
	TypeEvent = "EVENT"
	TypeRaw   = "RAW"
)

// SessionLayout formats the session id in file names
const SessionLayout = "20060102_150405"

// Format is the encoding of the event log
type Format int

const (
	FormatJSONL Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Ext returns the event log file extension
func (f Format) Ext() string {
	return "." + f.String()
}

// ParseFormat accepts "jsonl", "json", "cbor", or a file name ending in one
// of the extensions
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "jsonl" || s == "json" || strings.HasSuffix(s, ".jsonl"):
		return FormatJSONL, nil
	case s == "cbor" || strings.HasSuffix(s, ".cbor"):
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("unknown event log format %q", s)
}

// Entry is one event log record
type Entry struct {
	EventType string         `json:"event_type" cbor:"event_type"`
	Timestamp time.Time      `json:"timestamp" cbor:"timestamp"`
	Data      map[string]any `json:"data" cbor:"data"`
}

var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Option configures a Logger
type Option func(*Logger)

// WithSessionID names the files instead of the start time
func WithSessionID(id string) Option {
	return func(l *Logger) { l.session = id }
}

// WithLogger sets the logger for write failures
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Logger) { l.log = log }
}

// Logger writes data_<session>.csv and events_<session>.<format>. It is a
// session.Recorder and safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	dir     string
	session string
	format  Format
	log     logrus.FieldLogger

	csvFile   *os.File
	csv       *csv.Writer
	eventFile *os.File
	encode    func(Entry) error

	rows    int
	entries int
	closed  bool
}

// Open creates the log directory and starts a new session
func Open(dir string, format Format, opts ...Option) (*Logger, error) {
	l := &Logger{
		dir:     dir,
		session: time.Now().Format(SessionLayout),
		format:  format,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	csvFile, err := os.Create(l.CSVPath())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", l.CSVPath(), err)
	}
	l.csvFile = csvFile
	l.csv = csv.NewWriter(csvFile)
	if err := l.csv.Write(dewproto.CSVHeader); err != nil {
		csvFile.Close()
		return nil, err
	}
	l.csv.Flush()

	eventFile, err := os.Create(l.EventPath())
	if err != nil {
		csvFile.Close()
		return nil, fmt.Errorf("create %s: %w", l.EventPath(), err)
	}
	l.eventFile = eventFile

	switch format {
	case FormatCBOR:
		enc := cborEncMode.NewEncoder(eventFile)
		l.encode = func(e Entry) error { return enc.Encode(e) }
	default:
		enc := json.NewEncoder(eventFile)
		l.encode = func(e Entry) error { return enc.Encode(e) }
	}

	l.log.WithFields(logrus.Fields{
		"session": l.session,
		"dir":     dir,
		"format":  format,
	}).Info("Data logging started")
	return l, nil
}

// Session returns the session id used in the file names
func (l *Logger) Session() string {
	return l.session
}

// CSVPath returns the reading log path
func (l *Logger) CSVPath() string {
	return filepath.Join(l.dir, "data_"+l.session+".csv")
}

// EventPath returns the event log path
func (l *Logger) EventPath() string {
	return filepath.Join(l.dir, "events_"+l.session+l.format.Ext())
}

// Counts returns the number of CSV rows and event records written
func (l *Logger) Counts() (rows, entries int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows, l.entries
}

// Record writes one session event
func (l *Logger) Record(ev session.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("datalog closed")
	}

	if e, ok := ev.(session.StatusUpdated); ok {
		if err := l.writeRow(e.Reading.Record()); err != nil {
			return err
		}
	}

	entry, ok := EntryFor(ev)
	if !ok {
		return nil
	}
	if err := l.encode(entry); err != nil {
		return fmt.Errorf("write %s: %w", l.EventPath(), err)
	}
	l.entries++
	return nil
}

func (l *Logger) writeRow(row []string) error {
	if err := l.csv.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", l.CSVPath(), err)
	}
	l.csv.Flush()
	if err := l.csv.Error(); err != nil {
		return fmt.Errorf("write %s: %w", l.CSVPath(), err)
	}
	l.rows++
	return nil
}

// Close flushes and closes both files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.csv.Flush()
	errs := []error{l.csv.Error(), l.csvFile.Close(), l.eventFile.Close()}

	l.log.WithFields(logrus.Fields{
		"session": l.session,
		"rows":    l.rows,
		"entries": l.entries,
	}).Info("Data logging stopped")
	return errors.Join(errs...)
}

// EntryFor converts a session event to an event log record
func EntryFor(ev session.Event) (Entry, bool) {
	entry := Entry{Timestamp: ev.Time()}

	switch e := ev.(type) {
	case session.StatusUpdated:
		r := e.Reading
		entry.EventType = TypeData
		entry.Data = map[string]any{
			"temperature":      r.Temperature,
			"humidity":         r.Humidity,
			"tube_temperature": r.TubeTemperature,
			"dew_point":        r.DewPoint,
			"pwm":              r.PWM,
			"power_percent":    r.PowerPercent(),
			"delta_temp":       r.DeltaTemp,
			"dew_offset":       r.DewOffset,
		}

	case session.RawBytesObserved:
		entry.EventType = TypeRaw
		entry.Data = map[string]any{
			"direction":   e.Direction.String(),
			"data_hex":    hex.EncodeToString(e.Data),
			"data_length": len(e.Data),
		}

	case session.CommandAcknowledged:
		entry.EventType = TypeEvent
		data := map[string]any{
			"type":        "COMMAND",
			"command":     e.Command.String(),
			"success":     e.Success,
			"boot":        e.Boot,
			"duration_ms": e.Duration.Milliseconds(),
		}
		if e.Err != nil {
			data["message"] = e.Err.Error()
		} else {
			data["message"] = e.Command.String() + " acknowledged"
		}
		if e.Command == dewproto.CmdHello && e.Success {
			data["first_connection"] = e.FirstConnection
		}
		entry.Data = data

	case session.ConnectionStateChanged:
		entry.EventType = TypeEvent
		entry.Data = map[string]any{
			"type":    "CONNECTION",
			"state":   e.State.String(),
			"message": "connection " + strings.ToLower(e.State.String()),
		}

	case session.UnknownFrameReceived:
		entry.EventType = TypeEvent
		data := map[string]any{
			"type":     "UNKNOWN_FRAME",
			"command":  e.Command.String(),
			"data_hex": hex.EncodeToString(e.Raw),
		}
		if e.Err != nil {
			data["message"] = e.Err.Error()
		}
		entry.Data = data

	case session.BytesDiscarded:
		entry.EventType = TypeEvent
		entry.Data = map[string]any{
			"type":    "DISCARDED",
			"count":   e.Count,
			"message": fmt.Sprintf("%d bytes discarded, receive buffer full", e.Count),
		}

	default:
		return Entry{}, false
	}

	return entry, true
}

// ReadEvents decodes an event log
func ReadEvents(r io.Reader, format Format) ([]Entry, error) {
	var entries []Entry

	switch format {
	case FormatCBOR:
		dec := cbor.NewDecoder(r)
		for {
			var e Entry
			if err := dec.Decode(&e); err != nil {
				if errors.Is(err, io.EOF) {
					return entries, nil
				}
				return entries, fmt.Errorf("record %d: %w", len(entries)+1, err)
			}
			entries = append(entries, e)
		}
	default:
		dec := json.NewDecoder(r)
		for {
			var e Entry
			if err := dec.Decode(&e); err != nil {
				if errors.Is(err, io.EOF) {
					return entries, nil
				}
				return entries, fmt.Errorf("record %d: %w", len(entries)+1, err)
			}
			entries = append(entries, e)
		}
	}
}

// ReadEventFile decodes an event log, choosing the format from the extension
func ReadEventFile(path string) ([]Entry, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadEvents(f, format)
}

// FormatEntry renders a record as one line
func FormatEntry(e Entry) string {
	ts := e.Timestamp.Format("15:04:05.000")
	switch e.EventType {
	case TypeData:
		return fmt.Sprintf("[%s] DATA  T=%v H=%v Tube=%v Dew=%v PWM=%v Delta=%v Offset=%v",
			ts, e.Data["temperature"], e.Data["humidity"], e.Data["tube_temperature"],
			e.Data["dew_point"], e.Data["pwm"], e.Data["delta_temp"], e.Data["dew_offset"])
	case TypeRaw:
		return fmt.Sprintf("[%s] RAW   %v %v", ts, e.Data["direction"], e.Data["data_hex"])
	default:
		return fmt.Sprintf("[%s] %-5s %v: %v", ts, e.EventType, e.Data["type"], e.Data["message"])
	}
}
