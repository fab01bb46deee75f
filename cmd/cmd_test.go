package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/dewstat/pkg/config"
	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/Thermoquad/dewstat/pkg/transport"
)

func TestParseCommandArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantCmd   dewproto.Command
		wantValue int
		wantErr   string
	}{
		{"hello", []string{"hello"}, dewproto.CmdHello, 0, ""},
		{"wire name", []string{"SET_MODE_REGUL"}, dewproto.CmdModeRegul, 0, ""},
		{"delta", []string{"delta", "5"}, dewproto.CmdSetDelta, 5, ""},
		{"offset upper bound", []string{"offset", "9"}, dewproto.CmdSetOffset, 9, ""},
		{"full", []string{"full", "100"}, dewproto.CmdModeFull, 100, ""},
		{"maxi alias", []string{"maxi", "0"}, dewproto.CmdModeFull, 0, ""},
		{"missing command", nil, 0, 0, "missing command"},
		{"unknown command", []string{"reboot"}, 0, 0, "unknown command"},
		{"value for plain command", []string{"save", "1"}, 0, 0, "takes no value"},
		{"missing value", []string{"delta"}, 0, 0, "needs a value (0-9)"},
		{"non-numeric value", []string{"full", "max"}, 0, 0, "invalid value"},
		{"delta out of range", []string{"delta", "10"}, 0, 0, "outside 0-9"},
		{"full out of range", []string{"full", "101"}, 0, 0, "outside 0-100"},
		{"negative value", []string{"offset", "-1"}, 0, 0, "outside 0-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, value, err := parseCommandArgs(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseCommandArgs(%v) error = %v, want %q", tt.args, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommandArgs(%v) unexpected error: %v", tt.args, err)
			}
			if cmd != tt.wantCmd || value != tt.wantValue {
				t.Errorf("parseCommandArgs(%v) = %s, %d; want %s, %d", tt.args, cmd, value, tt.wantCmd, tt.wantValue)
			}
		})
	}
}

func TestParseCommandArgs_RangeErrorIsInvalidParameter(t *testing.T) {
	_, _, err := parseCommandArgs([]string{"delta", "12"})
	if !errors.Is(err, dewproto.ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
}

func TestDescribeAck(t *testing.T) {
	tests := []struct {
		name string
		ack  session.CommandAcknowledged
		want string
	}{
		{
			name: "first connection",
			ack:  session.CommandAcknowledged{Command: dewproto.CmdHello, Success: true, FirstConnection: true, Duration: 12 * time.Millisecond},
			want: "HELLO OK, first connection [12ms]",
		},
		{
			name: "already connected at boot",
			ack:  session.CommandAcknowledged{Command: dewproto.CmdHello, Success: true, Boot: true},
			want: "HELLO (boot) OK, already connected",
		},
		{
			name: "plain ack",
			ack:  session.CommandAcknowledged{Command: dewproto.CmdSave, Success: true, Duration: 3 * time.Millisecond},
			want: "SAVE OK [3ms]",
		},
		{
			name: "timeout",
			ack:  session.CommandAcknowledged{Command: dewproto.CmdSetDelta, Err: session.ErrTimeout},
			want: "SET_DELTA FAILED: response timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeAck(tt.ack); got != tt.want {
				t.Errorf("describeAck() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2025, 3, 14, 21, 5, 9, 250*int(time.Millisecond), time.Local)

	tests := []struct {
		name string
		ev   session.Event
		raw  bool
		want string
	}{
		{
			name: "raw hidden",
			ev:   session.RawBytesObserved{Direction: session.DirectionRX, Data: []byte{0x35}, At: at},
			want: "",
		},
		{
			name: "connection",
			ev:   session.ConnectionStateChanged{State: session.ConnReady, At: at},
			want: "[21:05:09.250] Connection READY\n",
		},
		{
			name: "ack",
			ev:   session.CommandAcknowledged{Command: dewproto.CmdSave, Success: true, At: at},
			want: "[21:05:09.250] SAVE OK\n",
		},
		{
			name: "discarded",
			ev:   session.BytesDiscarded{Count: 12, At: at},
			want: "[21:05:09.250] Receive buffer full, 12 bytes discarded\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEvent(tt.ev, tt.raw); got != tt.want {
				t.Errorf("formatEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatEvent_Raw(t *testing.T) {
	ev := session.RawBytesObserved{Direction: session.DirectionTX, Data: []byte{0x38}, At: time.Now()}
	got := formatEvent(ev, true)
	if !strings.Contains(got, "TX") || !strings.Contains(got, dewproto.FormatBytes([]byte{0x38})) {
		t.Errorf("formatEvent() = %q, want direction and bytes", got)
	}
}

func TestFormatEvent_UnknownFrame(t *testing.T) {
	ev := session.UnknownFrameReceived{
		Command: dewproto.CmdSave,
		Raw:     []byte{0x33},
		Err:     errors.New("unexpected"),
		At:      time.Now(),
	}
	got := formatEvent(ev, false)
	if !strings.Contains(got, "awaiting SAVE") || !strings.Contains(got, "(unexpected)") {
		t.Errorf("formatEvent() = %q", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{500 * time.Millisecond, "0 seconds"},
		{time.Second, "1 second"},
		{42 * time.Second, "42 seconds"},
		{61 * time.Second, "1 minute and 1 second"},
		{90 * time.Minute, "1 hour and 30 minutes"},
		{time.Hour + time.Minute + time.Second, "1 hour, 1 minute, and 1 second"},
		{48 * time.Hour, "2 days"},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if got := formatUptime(tt.d); got != tt.want {
				t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestEventLog_KeepsNewest(t *testing.T) {
	events := newEventLog(maxLogEntries)
	now := time.Now()
	for i := 0; i < 150; i++ {
		events.add(now, fmt.Sprintf("event %d", i), false)
	}

	if len(events.entries) != maxLogEntries {
		t.Fatalf("len(entries) = %d, want %d", len(events.entries), maxLogEntries)
	}
	if events.entries[0].message != "event 50" {
		t.Errorf("oldest entry = %q, want event 50", events.entries[0].message)
	}

	last := events.last(3)
	if len(last) != 3 || last[2].message != "event 149" {
		t.Errorf("last(3) = %v", last)
	}
	if got := len(events.last(500)); got != maxLogEntries {
		t.Errorf("len(last(500)) = %d, want %d", got, maxLogEntries)
	}
}

func TestFilterPorts(t *testing.T) {
	ports := []transport.PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
	}

	tests := []struct {
		name    string
		usbOnly bool
		want    []string
	}{
		{"all", false, []string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyACM0"}},
		{"usb only", true, []string{"/dev/ttyUSB0", "/dev/ttyACM0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterPorts(ports, tt.usbOnly)
			if len(got) != len(tt.want) {
				t.Fatalf("filterPorts() returned %d ports, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if p.Name != tt.want[i] {
					t.Errorf("port %d = %s, want %s", i, p.Name, tt.want[i])
				}
			}
		})
	}
}

func TestCompleteCommand(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"s", []string{"save", "state", "stats", "status"}},
		{"sta", []string{"state", "stats", "status"}},
		{"DEL", []string{"delta"}},
		{"x", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := completeCommand(tt.line)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("completeCommand(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestConsoleExecute(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{"", ""},
		{"reboot", "unknown command"},
		{"delta", "usage: delta <0-9>"},
		{"status now", "usage: status"},
		{"full 1 2", "usage: full <0-100>"},
		{"delta 12", "outside 0-9"},
		{"stats clear", "usage: stats [reset]"},
		{"hex", "usage: hex <bytes>"},
		{"hex zz", "invalid hex"},
		{"hex 303", "invalid hex"},
		{"hex 30 130", "invalid hex"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := &console{out: &bytes.Buffer{}}
			err := c.execute(tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("execute(%q) unexpected error: %v", tt.input, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("execute(%q) error = %v, want %q", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestConsoleExecute_LocalCommands(t *testing.T) {
	var out bytes.Buffer
	c := &console{out: &out}

	if err := c.execute("raw"); err != nil {
		t.Fatalf("raw: %v", err)
	}
	if !c.raw.Load() {
		t.Error("raw display should be on")
	}
	if err := c.execute("RAW"); err != nil {
		t.Fatalf("RAW: %v", err)
	}
	if c.raw.Load() {
		t.Error("raw display should be off")
	}

	out.Reset()
	if err := c.execute("help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range commandNames() {
		if !strings.Contains(out.String(), consoleCommands[name].Usage) {
			t.Errorf("help output missing %q", consoleCommands[name].Usage)
		}
	}

	if err := c.execute("exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !c.quit {
		t.Error("exit should quit")
	}
}

func TestConsoleEvent_HidesCommandResults(t *testing.T) {
	at := time.Now()
	if got := consoleEvent(session.CommandAcknowledged{Command: dewproto.CmdSave, Success: true, At: at}, false); got != "" {
		t.Errorf("consoleEvent() = %q, want empty for shell command results", got)
	}
	if got := consoleEvent(session.CommandAcknowledged{Command: dewproto.CmdHello, Success: true, Boot: true, At: at}, false); got == "" {
		t.Error("boot acknowledgements should be shown")
	}
}

func TestReadingAnomalies(t *testing.T) {
	normal := dewproto.StatusReading{Temperature: 8, Humidity: 80, TubeTemperature: 10, DewPoint: 4.8, PWM: 128}

	tests := []struct {
		name   string
		modify func(r *dewproto.StatusReading)
		want   string
	}{
		{"normal", func(r *dewproto.StatusReading) {}, ""},
		{"humidity high", func(r *dewproto.StatusReading) { r.Humidity = 120 }, "humidity"},
		{"humidity negative", func(r *dewproto.StatusReading) { r.Humidity = -1 }, "humidity"},
		{"pwm high", func(r *dewproto.StatusReading) { r.PWM = 300 }, "PWM"},
		{"tube at dew point", func(r *dewproto.StatusReading) { r.TubeTemperature = r.DewPoint }, "dew point"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := normal
			tt.modify(&r)
			issues := readingAnomalies(r)
			if tt.want == "" {
				if len(issues) != 0 {
					t.Errorf("readingAnomalies() = %v, want none", issues)
				}
				return
			}
			if len(issues) != 1 || !strings.Contains(issues[0], tt.want) {
				t.Errorf("readingAnomalies() = %v, want one issue about %s", issues, tt.want)
			}
		})
	}
}

func TestMonitorLine(t *testing.T) {
	at := time.Now()
	normal := session.StatusUpdated{
		Reading: dewproto.StatusReading{Humidity: 80, TubeTemperature: 10, DewPoint: 4.8},
		At:      at,
	}

	if got := monitorLine(normal, false); got != "" {
		t.Errorf("normal reading shown without --show-all: %q", got)
	}
	if got := monitorLine(normal, true); !strings.Contains(got, "STATUS") {
		t.Errorf("normal reading with --show-all = %q", got)
	}

	failed := session.CommandAcknowledged{Command: dewproto.CmdSave, Err: session.ErrProtocolNak, Raw: []byte{0x34}, At: at}
	got := monitorLine(failed, false)
	if !strings.Contains(got, "COMMAND FAILED") || !strings.Contains(got, "SAVE") {
		t.Errorf("failed command = %q", got)
	}

	if got := monitorLine(session.ConnectionStateChanged{State: session.ConnDisconnected, At: at}, false); !strings.Contains(got, "DISCONNECTED") {
		t.Errorf("disconnect = %q", got)
	}
	if got := monitorLine(session.ConnectionStateChanged{State: session.ConnReady, At: at}, false); got != "" {
		t.Errorf("ready shown without --show-all: %q", got)
	}
	if got := monitorLine(session.BytesDiscarded{Count: 5, At: at}, false); !strings.Contains(got, "BYTES DISCARDED") || !strings.Contains(got, "5") {
		t.Errorf("discarded bytes = %q", got)
	}
}

func TestSendArgs(t *testing.T) {
	hex := sendCmd.Flags().Lookup("hex")
	t.Cleanup(func() { hex.Changed = false })

	if err := sendCmd.Args(sendCmd, []string{"delta", "3"}); err != nil {
		t.Errorf("command args rejected: %v", err)
	}
	if err := sendCmd.Args(sendCmd, nil); err == nil {
		t.Error("missing command accepted")
	}

	hex.Changed = true
	if err := sendCmd.Args(sendCmd, nil); err != nil {
		t.Errorf("--hex without args rejected: %v", err)
	}
	if err := sendCmd.Args(sendCmd, []string{"save"}); err == nil {
		t.Error("--hex with a command accepted")
	}
}

func TestAckExitCode(t *testing.T) {
	tests := []struct {
		name string
		ack  *session.CommandAcknowledged
		err  error
		want int
	}{
		{"ok", &session.CommandAcknowledged{Command: dewproto.CmdSave, Success: true}, nil, 0},
		{"nak", &session.CommandAcknowledged{Command: dewproto.Command(0x41), Err: session.ErrProtocolNak}, session.ErrProtocolNak, 1},
		{"timeout", &session.CommandAcknowledged{Command: dewproto.CmdSave, Err: session.ErrTimeout}, session.ErrTimeout, 1},
		{"link lost", &session.CommandAcknowledged{Command: dewproto.CmdSave, Err: session.ErrDisconnected}, session.ErrDisconnected, 2},
		{"not sent", nil, fmt.Errorf("%w: broken pipe", session.ErrTransport), 2},
		{"busy", nil, session.ErrBusy, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ackExitCode(tt.ack, tt.err); got != tt.want {
				t.Errorf("ackExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPingSummary(t *testing.T) {
	var s pingSummary
	s.sent = 4
	s.add(10 * time.Millisecond)
	s.add(30 * time.Millisecond)
	s.add(20 * time.Millisecond)

	got := s.String()
	if !strings.Contains(got, "4 pings sent, 3 acknowledged, 25% loss") {
		t.Errorf("summary = %q", got)
	}
	if !strings.Contains(got, "10ms/20ms/30ms") {
		t.Errorf("summary rtt = %q", got)
	}

	empty := pingSummary{sent: 2}
	if got := empty.String(); strings.Contains(got, "rtt") || !strings.Contains(got, "100% loss") {
		t.Errorf("empty summary = %q", got)
	}
}

func TestApplyFlags(t *testing.T) {
	c := config.Default()
	if err := rootCmd.ParseFlags([]string{"--port", "/dev/ttyUSB3", "--baud", "9600", "--skip-boot"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	applyFlags(rootCmd, c)

	if c.Serial.Port != "/dev/ttyUSB3" {
		t.Errorf("Serial.Port = %q", c.Serial.Port)
	}
	if c.Serial.Baud != 9600 {
		t.Errorf("Serial.Baud = %d", c.Serial.Baud)
	}
	if !c.Protocol.SkipBoot {
		t.Error("Protocol.SkipBoot should be set")
	}
	// Flags left alone keep the config value
	if c.Logging.EventFormat != "jsonl" {
		t.Errorf("Logging.EventFormat = %q, want jsonl", c.Logging.EventFormat)
	}
	if c.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty", c.Redis.Addr)
	}
}
