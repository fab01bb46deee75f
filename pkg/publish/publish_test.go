package publish

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/sirupsen/logrus"
)

var testTime = time.Date(2025, 3, 14, 21, 5, 9, 0, time.UTC)

func TestMessageFor_Reading(t *testing.T) {
	ev := session.StatusUpdated{
		Reading: dewproto.StatusReading{Temperature: 12.5, Humidity: 45, PWM: 255, DeltaTemp: 5, DewOffset: 1},
		At:      testTime,
	}

	msg, ok, err := MessageFor("dew", ev)
	if err != nil || !ok {
		t.Fatalf("MessageFor = %v, %v", ok, err)
	}
	if msg.Channel != "dew:status" || !msg.Reading {
		t.Errorf("message = %+v", msg)
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["temperature"] != 12.5 || payload["power_percent"] != 100.0 {
		t.Errorf("payload = %v", payload)
	}
	if payload["timestamp"] != "2025-03-14T21:05:09Z" {
		t.Errorf("timestamp = %v", payload["timestamp"])
	}
}

func TestMessageFor_Events(t *testing.T) {
	tests := []struct {
		name  string
		event session.Event
		want  map[string]any
	}{
		{
			name:  "hello first connection",
			event: session.CommandAcknowledged{Command: dewproto.CmdHello, Success: true, FirstConnection: true, Duration: 40 * time.Millisecond, At: testTime},
			want:  map[string]any{"type": "command", "command": "HELLO", "success": true, "first_connection": true, "duration_ms": 40.0},
		},
		{
			name:  "timeout",
			event: session.CommandAcknowledged{Command: dewproto.CmdSave, Err: session.ErrTimeout, At: testTime},
			want:  map[string]any{"type": "command", "command": "SAVE", "success": false, "error": session.ErrTimeout.Error()},
		},
		{
			name:  "connection",
			event: session.ConnectionStateChanged{State: session.ConnBooting, At: testTime},
			want:  map[string]any{"type": "connection", "state": "BOOTING"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := MessageFor("dewstat", tt.event)
			if err != nil || !ok {
				t.Fatalf("MessageFor = %v, %v", ok, err)
			}
			if msg.Channel != "dewstat:events" || msg.Reading {
				t.Errorf("message = %+v", msg)
			}

			var payload map[string]any
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			for key, want := range tt.want {
				if payload[key] != want {
					t.Errorf("%s = %v, want %v", key, payload[key], want)
				}
			}
			if _, ok := payload["first_connection"]; ok && tt.event.(session.CommandAcknowledged).Command != dewproto.CmdHello {
				t.Errorf("first_connection set on %s", tt.name)
			}
		})
	}
}

func TestMessageFor_Skipped(t *testing.T) {
	for _, ev := range []session.Event{
		session.RawBytesObserved{Data: []byte{0x35}},
		session.UnknownFrameReceived{Raw: []byte{0x41}},
	} {
		if _, ok, err := MessageFor("dewstat", ev); ok || err != nil {
			t.Errorf("MessageFor(%T) = %v, %v", ev, ok, err)
		}
	}
}

func TestPublisher_QueueFull(t *testing.T) {
	p := &Publisher{
		opts:  Options{Prefix: "dewstat"},
		queue: make(chan Message, 1),
		done:  make(chan struct{}),
	}
	ev := session.ConnectionStateChanged{State: session.ConnReady, At: testTime}

	if err := p.Record(ev); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := p.Record(ev); err == nil {
		t.Errorf("expected error when queue is full")
	}
	if p.Dropped() != 1 {
		t.Errorf("dropped = %d", p.Dropped())
	}
	if err := p.Record(session.RawBytesObserved{}); err != nil {
		t.Errorf("skipped event returned %v", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Dial(ctx, Options{Addr: "127.0.0.1:1"}, log); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestChannelNames(t *testing.T) {
	if StatusChannel("a") != "a:status" || EventsChannel("a") != "a:events" || HistoryKey("a") != "a:history" {
		t.Errorf("unexpected channel names")
	}
}
