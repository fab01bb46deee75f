package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
)

// gathered returns metric values keyed by name{labels}
func gathered(t *testing.T, r *Recorder) map[string]float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	values := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			key := family.GetName() + labelString(m.GetLabel())
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return values
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func TestRecorder_Events(t *testing.T) {
	r := New()
	now := time.Unix(1700000000, 0)

	events := []session.Event{
		session.ConnectionStateChanged{State: session.ConnReady, At: now},
		session.RawBytesObserved{Direction: session.DirectionTX, Data: []byte{0x31, 0x33}, At: now},
		session.RawBytesObserved{Direction: session.DirectionRX, Data: []byte{0x35}, At: now},
		session.CommandAcknowledged{Command: dewproto.CmdSetDelta, Success: true, Duration: 50 * time.Millisecond, At: now},
		session.CommandAcknowledged{Command: dewproto.CmdSetDelta, Err: session.ErrTimeout, At: now},
		session.CommandAcknowledged{Command: dewproto.CmdStatus, Err: &dewproto.FrameError{Err: dewproto.ErrMalformedStatus}, At: now},
		session.StatusUpdated{Reading: dewproto.StatusReading{Temperature: 12.5, Humidity: 45, PWM: 200, DeltaTemp: 5, DewOffset: 1}, At: now},
		session.UnknownFrameReceived{Command: dewproto.CmdSave, Raw: []byte{0x41}, At: now},
		session.BytesDiscarded{Count: 7, At: now},
	}
	for _, ev := range events {
		if err := r.Record(ev); err != nil {
			t.Fatalf("Record(%T): %v", ev, err)
		}
	}

	values := gathered(t, r)
	want := map[string]float64{
		`dewstat_connection_state`:                                              2,
		`dewstat_bytes_total{direction="TX"}`:                                   2,
		`dewstat_bytes_total{direction="RX"}`:                                   1,
		`dewstat_commands_total{command="SET_DELTA",result="ack"}`:              1,
		`dewstat_commands_total{command="SET_DELTA",result="timeout"}`:          1,
		`dewstat_commands_total{command="STATUS",result="malformed"}`:           1,
		`dewstat_command_duration_seconds{command="SET_DELTA"}`:                 2,
		`dewstat_temperature_celsius`:                                           12.5,
		`dewstat_humidity_percent`:                                              45,
		`dewstat_pwm`:                                                           200,
		`dewstat_delta_temp`:                                                    5,
		`dewstat_dew_offset`:                                                    1,
		`dewstat_unknown_frames_total`:                                          1,
		`dewstat_discarded_bytes_total`:                                         7,
		`dewstat_last_reading_timestamp_seconds`:                                1700000000,
	}
	for key, v := range want {
		got, ok := values[key]
		if !ok {
			t.Errorf("%s missing", key)
			continue
		}
		if got != v {
			t.Errorf("%s = %v, want %v", key, got, v)
		}
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultAck},
		{fmt.Errorf("%w: SAVE", session.ErrProtocolNak), ResultNak},
		{fmt.Errorf("%w: SAVE after 5s", session.ErrTimeout), ResultTimeout},
		{fmt.Errorf("%w: broken pipe", session.ErrTransport), ResultTransport},
		{session.ErrDisconnected, ResultDisconnected},
		{&dewproto.FrameError{Err: dewproto.ErrMalformedStatus}, ResultMalformed},
		{io.ErrUnexpectedEOF, ResultError},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Result(session.CommandAcknowledged{Err: tt.err}); got != tt.want {
				t.Errorf("Result(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Record(session.RawBytesObserved{Direction: session.DirectionTX, Data: []byte{0x38}})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `dewstat_bytes_total{direction="TX"} 1`) {
		t.Errorf("exposition missing byte counter:\n%s", body)
	}
}

func TestNew_Independent(t *testing.T) {
	// Separate registries must not panic on duplicate registration
	a, b := New(), New()
	a.Record(session.UnknownFrameReceived{})
	if v := gathered(t, b)["dewstat_unknown_frames_total"]; v != 0 {
		t.Errorf("recorders share state: %v", v)
	}
}
