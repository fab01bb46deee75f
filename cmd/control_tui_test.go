package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/dewstat/pkg/config"
	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	tea "github.com/charmbracelet/bubbletea"
)

var testNow = time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T) controlModel {
	t.Helper()
	cfg = config.Default()
	m := initialControlModel(nil, "Serial: /dev/ttyUSB0 @ 19200 baud")
	m.now = func() time.Time { return testNow }
	return m
}

func update(t *testing.T, m controlModel, msg tea.Msg) controlModel {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(controlModel)
}

func TestControlModel_StatusUpdated(t *testing.T) {
	m := newTestModel(t)
	reading := dewproto.StatusReading{Temperature: 8.5, Humidity: 75, TubeTemperature: 12, DewPoint: 4.3, PWM: 64, DeltaTemp: 3, DewOffset: 2}

	m = update(t, m, session.StatusUpdated{Reading: reading, At: testNow})

	if m.reading == nil || *m.reading != reading {
		t.Fatalf("reading = %v, want %v", m.reading, reading)
	}
	if !m.readingAt.Equal(testNow) {
		t.Errorf("readingAt = %v", m.readingAt)
	}
	if !strings.Contains(m.renderReading(), "75.0%") {
		t.Error("reading panel should show humidity")
	}
}

func TestControlModel_HelloAck(t *testing.T) {
	tests := []struct {
		name  string
		first bool
		want  string
	}{
		{"first connection", true, "first connection"},
		{"already connected", false, "already connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m = update(t, m, session.CommandAcknowledged{
				Command:         dewproto.CmdHello,
				Success:         true,
				FirstConnection: tt.first,
				Boot:            true,
				At:              testNow,
			})

			if m.firstConnection == nil || *m.firstConnection != tt.first {
				t.Fatalf("firstConnection = %v, want %v", m.firstConnection, tt.first)
			}
			if len(m.events.entries) != 1 || m.events.entries[0].isError {
				t.Fatalf("events = %v, want one info entry", m.events.entries)
			}
			if !strings.Contains(m.renderLinkLine(), tt.want) {
				t.Errorf("link line missing %q", tt.want)
			}
		})
	}
}

func TestControlModel_AckLogging(t *testing.T) {
	tests := []struct {
		name      string
		ack       session.CommandAcknowledged
		wantLog   bool
		wantError bool
	}{
		{"routine status", session.CommandAcknowledged{Command: dewproto.CmdStatus, Success: true}, false, false},
		{"boot status", session.CommandAcknowledged{Command: dewproto.CmdStatus, Success: true, Boot: true}, true, false},
		{"save", session.CommandAcknowledged{Command: dewproto.CmdSave, Success: true}, true, false},
		{"nak", session.CommandAcknowledged{Command: dewproto.CmdSetDelta, Err: session.ErrProtocolNak}, true, true},
		{"status timeout", session.CommandAcknowledged{Command: dewproto.CmdStatus, Err: session.ErrTimeout}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m = update(t, m, tt.ack)

			if got := len(m.events.entries) == 1; got != tt.wantLog {
				t.Fatalf("logged = %v, want %v", got, tt.wantLog)
			}
			if tt.wantLog && m.events.entries[0].isError != tt.wantError {
				t.Errorf("isError = %v, want %v", m.events.entries[0].isError, tt.wantError)
			}
		})
	}
}

func TestControlModel_Mode(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, commandSentMsg{command: dewproto.CmdModeFull, value: 60})
	m = update(t, m, session.CommandAcknowledged{Command: dewproto.CmdModeFull, Success: true})
	if m.mode != "FULL 60%" {
		t.Errorf("mode = %q, want FULL 60%%", m.mode)
	}

	m = update(t, m, session.CommandAcknowledged{Command: dewproto.CmdModeRegul, Success: true})
	if m.mode != "REGUL" {
		t.Errorf("mode = %q, want REGUL", m.mode)
	}
}

func TestControlModel_CommandSentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"booting", session.ErrBooting, "Controller booting"},
		{"busy", session.ErrBusy, "Busy"},
		{"not connected", session.ErrNotConnected, "Failed to send"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m = update(t, m, commandSentMsg{command: dewproto.CmdSave, err: tt.err})

			if len(m.events.entries) != 1 {
				t.Fatalf("events = %d, want 1", len(m.events.entries))
			}
			entry := m.events.entries[0]
			if !entry.isError || !strings.Contains(entry.message, tt.want) {
				t.Errorf("entry = %+v, want error containing %q", entry, tt.want)
			}
			if _, ok := m.sent[dewproto.CmdSave]; ok {
				t.Error("failed command should not be recorded as sent")
			}
		})
	}
}

func TestControlModel_ConnectionLifecycle(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, session.ConnectionStateChanged{State: session.ConnBooting, At: testNow})
	if m.connState != session.ConnBooting || !m.connectedAt.Equal(testNow) {
		t.Fatalf("after booting: state=%s connectedAt=%v", m.connState, m.connectedAt)
	}

	m = update(t, m, session.ConnectionStateChanged{State: session.ConnReady, At: testNow.Add(3 * time.Second)})
	if m.connState != session.ConnReady || !m.connectedAt.Equal(testNow) {
		t.Fatalf("after ready: state=%s connectedAt=%v", m.connState, m.connectedAt)
	}

	m = update(t, m, connectionLostMsg{})
	if !m.connectionLost || m.connState != session.ConnDisconnected || !m.connectedAt.IsZero() {
		t.Fatalf("after loss: lost=%v state=%s", m.connectionLost, m.connState)
	}
	if !strings.Contains(m.View(), "RECONNECTING") {
		t.Error("view should show reconnecting")
	}

	first := true
	m.firstConnection = &first
	m = update(t, m, reconnectedMsg{connInfo: "Serial: /dev/ttyUSB1 @ 19200 baud"})
	if m.connectionLost || m.connInfo != "Serial: /dev/ttyUSB1 @ 19200 baud" || m.firstConnection != nil {
		t.Errorf("after reconnect: lost=%v info=%q first=%v", m.connectionLost, m.connInfo, m.firstConnection)
	}
}

func TestControlModel_PollStatus(t *testing.T) {
	tests := []struct {
		name      string
		connState session.ConnState
		phase     session.Phase
		auto      bool
		readingAt time.Time
		wantPoll  bool
	}{
		{"ready and idle", session.ConnReady, session.PhaseIdle, true, time.Time{}, true},
		{"stale reading", session.ConnReady, session.PhaseIdle, true, testNow.Add(-time.Minute), true},
		{"fresh reading", session.ConnReady, session.PhaseIdle, true, testNow.Add(-time.Second), false},
		{"booting", session.ConnBooting, session.PhaseAwaitingBoot, true, time.Time{}, false},
		{"awaiting response", session.ConnReady, session.PhaseAwaitingResponse, true, time.Time{}, false},
		{"auto off", session.ConnReady, session.PhaseIdle, false, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m.connState = tt.connState
			m.state = session.State{Phase: tt.phase}
			m.autoStatus = tt.auto
			m.readingAt = tt.readingAt

			m.pollStatus()

			if polled := m.lastStatus.Equal(testNow); polled != tt.wantPoll {
				t.Errorf("polled = %v, want %v", polled, tt.wantPoll)
			}
		})
	}
}

func TestControlModel_CycleFocus(t *testing.T) {
	m := newTestModel(t)

	// Status takes no value, so the input is skipped
	m.cycleFocus(1)
	if m.focusedField != focusButton {
		t.Errorf("focus = %d, want button", m.focusedField)
	}
	m.cycleFocus(1)
	if m.focusedField != focusActionList {
		t.Errorf("focus = %d, want action list", m.focusedField)
	}

	m.actionList.Select(3) // Delta
	if m.selectedAction().command != dewproto.CmdSetDelta {
		t.Fatalf("selected %s, want SET_DELTA", m.selectedAction().command)
	}
	m.cycleFocus(1)
	if m.focusedField != focusValueInput {
		t.Errorf("focus = %d, want value input", m.focusedField)
	}
}

func TestControlModel_EnterFocusesValue(t *testing.T) {
	m := newTestModel(t)
	m.actionList.Select(2) // Full power

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.focusedField != focusValueInput {
		t.Errorf("focus = %d, want value input", m.focusedField)
	}
}

func TestControlModel_SendActionValidates(t *testing.T) {
	m := newTestModel(t)
	m.actionList.Select(3) // Delta
	m.valueInput.SetValue("12")

	if cmd := m.sendAction(m.selectedAction()); cmd != nil {
		t.Error("out of range value should not produce a command")
	}
	if len(m.events.entries) != 1 || !strings.Contains(m.events.entries[0].message, "outside 0-9") {
		t.Errorf("events = %v", m.events.entries)
	}
}

func TestControlModel_ValuePlaceholder(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, session.StatusUpdated{Reading: dewproto.StatusReading{DeltaTemp: 4, DewOffset: 7}, At: testNow})

	tests := []struct {
		index int
		want  string
	}{
		{2, "100"},
		{3, "4"},
		{4, "7"},
		{0, ""},
	}

	for _, tt := range tests {
		m.actionList.Select(tt.index)
		m.syncValuePlaceholder()
		if m.valueInput.Placeholder != tt.want {
			t.Errorf("placeholder for %s = %q, want %q", controlActions[tt.index].command, m.valueInput.Placeholder, tt.want)
		}
	}
}

func TestControlModel_QuitKeys(t *testing.T) {
	m := newTestModel(t)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(controlModel).quitting || cmd == nil {
		t.Error("q should quit from the action list")
	}

	m.actionList.Select(3)
	m.cycleFocus(1)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if next.(controlModel).quitting {
		t.Error("q should be typed into the value input")
	}
}

func TestControlModel_View(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	view := m.View()

	for _, want := range []string{"DEWSTAT CONTROL", "No reading yet", "EVENTS", "Send Status"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestControlModel_BytesDiscarded(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, session.BytesDiscarded{Count: 14, At: testNow})

	if len(m.events.entries) != 1 {
		t.Fatalf("events = %d, want 1", len(m.events.entries))
	}
	if entry := m.events.entries[0]; !entry.isError || !strings.Contains(entry.message, "14 bytes discarded") {
		t.Errorf("entry = %+v", entry)
	}
}

func TestControlModel_StatisticsBarLossCounters(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})

	if bar := m.renderStatisticsBar(); strings.Contains(bar, "Discarded:") || strings.Contains(bar, "Dropped:") {
		t.Errorf("loss counters shown while zero:\n%s", bar)
	}

	m.stats.BytesDiscarded = 3
	m.stats.EventsDropped = 9
	bar := m.renderStatisticsBar()
	for _, want := range []string{"Discarded:", "3", "Dropped:", "9"} {
		if !strings.Contains(bar, want) {
			t.Errorf("statistics bar missing %q:\n%s", want, bar)
		}
	}
}
