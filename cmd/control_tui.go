// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries = 100
	actionWidth   = 30
	issueTimeout  = 5 * time.Second
)

// Focus states
const (
	focusActionList = iota
	focusValueInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// action is a command offered in the action list
type action struct {
	name        string
	description string
	command     dewproto.Command
}

// Implement list.Item interface
func (a action) Title() string       { return a.name }
func (a action) Description() string { return a.description }
func (a action) FilterValue() string { return a.name }

var controlActions = []action{
	{"Status", "Read the sensors", dewproto.CmdStatus},
	{"Regulated", "Heat to dew point + offset", dewproto.CmdModeRegul},
	{"Full power", "Fixed power 0-100 %", dewproto.CmdModeFull},
	{"Delta", "Temperature delta 0-9", dewproto.CmdSetDelta},
	{"Offset", "Dew point offset 0-9", dewproto.CmdSetOffset},
	{"Save", "Store settings in EEPROM", dewproto.CmdSave},
	{"Hello", "Check the controller answers", dewproto.CmdHello},
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Link state
	connState       session.ConnState
	state           session.State
	bootRemaining   time.Duration
	connectedAt     time.Time
	connectionLost  bool
	firstConnection *bool

	// Controller state
	reading   *dewproto.StatusReading
	readingAt time.Time
	mode      string
	sent      map[dewproto.Command]int // Value of the last write per command

	// STATUS polling
	autoStatus     bool
	statusInterval time.Duration
	lastStatus     time.Time

	// Monitoring
	stats  session.Snapshot
	events eventLog

	// Control
	actionList   list.Model
	valueInput   textinput.Model
	focusedField int

	// UI state
	styles   tuiStyles
	width    int
	height   int
	quitting bool
	now      func() time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

type reconnectFailedMsg struct {
	err     error
	retryIn time.Duration
}

type commandSentMsg struct {
	command dewproto.Command
	value   int
	err     error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	// Initialize text input for command values
	ti := textinput.New()
	ti.CharLimit = 3
	ti.Width = 6

	// Initialize action list
	items := make([]list.Item, len(controlActions))
	for i, a := range controlActions {
		items[i] = a
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	actionList := list.New(items, delegate, actionWidth-2, 16)
	actionList.Title = "Commands"
	actionList.SetShowStatusBar(false)
	actionList.SetShowHelp(false)
	actionList.SetFilteringEnabled(false)

	m := controlModel{
		connMgr:        connMgr,
		connInfo:       connInfo,
		connState:      session.ConnDisconnected,
		sent:           make(map[dewproto.Command]int),
		autoStatus:     cfg.Status.Auto,
		statusInterval: cfg.Status.Interval.Std(),
		events:         newEventLog(maxLogEntries),
		actionList:     actionList,
		valueInput:     ti,
		focusedField:   focusActionList,
		styles:         newStyles(),
		width:          80,
		height:         24,
		now:            time.Now,
	}
	m.syncValuePlaceholder()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.actionList, _ = m.actionList.Update(msg)
			m.valueInput.SetValue("")
			m.syncValuePlaceholder()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		m.refresh()
		cmds = append(cmds, controlTickCmd())
		if cmd := m.pollStatus(); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case session.StatusUpdated:
		reading := msg.Reading
		m.reading = &reading
		m.readingAt = msg.At
		m.syncValuePlaceholder()

	case session.CommandAcknowledged:
		m.handleAck(msg)

	case session.ConnectionStateChanged:
		m.connState = msg.State
		switch msg.State {
		case session.ConnBooting:
			m.connectedAt = msg.At
			m.addLogEntry("Connected - waiting for controller boot", false)
		case session.ConnReady:
			if m.connectedAt.IsZero() {
				m.connectedAt = msg.At
			}
			m.addLogEntry("Controller ready", false)
		case session.ConnDisconnected:
			m.addLogEntry("Disconnected", true)
		}
		m.refresh()

	case session.UnknownFrameReceived:
		m.addLogEntry(fmt.Sprintf("Unexpected frame while awaiting %s: %s", msg.Command, dewproto.FormatBytes(msg.Raw)), true)

	case session.BytesDiscarded:
		m.addLogEntry(fmt.Sprintf("Receive buffer full, %d bytes discarded", msg.Count), true)

	case session.RawBytesObserved:
		// Bytes are counted in the statistics only

	case commandSentMsg:
		m.handleSent(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.connState = session.ConnDisconnected
		m.connectedAt = time.Time{}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case reconnectFailedMsg:
		m.addLogEntry(fmt.Sprintf("Reconnect failed: %v (retry in %s)", msg.err, msg.retryIn), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.lastStatus = time.Time{}
		m.firstConnection = nil
		m.addLogEntry("Reconnected", false)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusValueInput {
		m.valueInput, cmd = m.valueInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusValueInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		return m.handleEnter()

	case "up", "k", "down", "j":
		if m.focusedField == focusActionList {
			m.actionList, _ = m.actionList.Update(msg)
			m.valueInput.SetValue("")
			m.syncValuePlaceholder()
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusValueInput {
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) {
	n := focusButton + 1
	m.focusedField = (m.focusedField + delta + n) % n

	// Skip value input for commands without a parameter
	if m.focusedField == focusValueInput && !m.selectedAction().command.TakesParameter() {
		m.focusedField = (m.focusedField + delta + n) % n
	}

	// Update focus state
	if m.focusedField == focusValueInput {
		m.valueInput.Focus()
	} else {
		m.valueInput.Blur()
	}
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	selected := m.selectedAction()

	// Commands with a value take it from the input first
	if m.focusedField == focusActionList && selected.command.TakesParameter() {
		m.focusedField = focusValueInput
		m.valueInput.Focus()
		return m, nil
	}

	cmd := m.sendAction(selected)
	return m, cmd
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := m.styles
	var s strings.Builder

	// Header
	helpText := "q=quit Tab=switch Enter=send"
	s.WriteString(st.title.Render("DEWSTAT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n")
	s.WriteString(m.renderLinkLine())
	s.WriteString("\n\n")

	// Layout: left panel (commands) | right panel (reading and control)
	rightWidth := m.width - actionWidth - 6
	listStyle := st.box.Width(actionWidth)
	if m.focusedField == focusActionList {
		listStyle = st.focusedBox.Width(actionWidth)
	}
	actionPanel := listStyle.Render(m.actionList.View())
	rightPanel := st.box.Width(rightWidth).Render(m.renderReading() + "\n\n" + m.renderControlPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, actionPanel, " ", rightPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	// Event log
	logHeight := m.height - 28
	if logHeight < 4 {
		logHeight = 4
	}
	s.WriteString(renderEventLog(m.events, logHeight, m.width-4, st))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderLinkLine() string {
	st := m.styles

	var state string
	switch {
	case m.connectionLost:
		state = st.err.Render("DISCONNECTED")
	case m.connState == session.ConnBooting && m.state.Phase == session.PhaseAwaitingBoot:
		state = st.warning.Render(fmt.Sprintf("BOOTING (next command in %.0fs)", m.bootRemaining.Seconds()))
	case m.connState == session.ConnBooting:
		state = st.warning.Render(fmt.Sprintf("BOOTING (awaiting %s)", m.state.Command))
	case m.connState == session.ConnReady:
		state = st.value.Render("READY")
	default:
		state = st.header.Render(m.connState.String())
	}

	line := fmt.Sprintf(" %s %s", st.label.Render("Link:"), state)
	if m.connState == session.ConnReady && m.state.Phase == session.PhaseAwaitingResponse {
		line += "  " + st.header.Render("awaiting "+m.state.Command.String())
	}
	if !m.connectedAt.IsZero() && !m.connectionLost {
		line += fmt.Sprintf("  %s %s", st.label.Render("Connected:"), st.value.Render(formatUptime(m.now().Sub(m.connectedAt))))
	}
	if m.firstConnection != nil {
		controller := "already connected"
		if *m.firstConnection {
			controller = "first connection"
		}
		line += fmt.Sprintf("  %s %s", st.label.Render("Controller:"), st.value.Render(controller))
	}
	return line
}

func (m controlModel) renderReading() string {
	st := m.styles
	var s strings.Builder
	s.WriteString(st.label.Render("READING"))
	s.WriteString("\n")

	if m.reading == nil {
		s.WriteString(st.header.Render("No reading yet"))
		return s.String()
	}

	r := m.reading
	field := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render(fmt.Sprintf("%-13s", label)), st.value.Render(value)))
	}
	field("Temperature:", fmt.Sprintf("%.1f°C", r.Temperature))
	field("Humidity:", fmt.Sprintf("%.1f%%", r.Humidity))
	field("Tube:", fmt.Sprintf("%.1f°C", r.TubeTemperature))
	field("Dew point:", fmt.Sprintf("%.1f°C", r.DewPoint))
	field("Power:", fmt.Sprintf("%d%% (pwm %.0f)", r.PowerPercent(), r.PWM))
	field("Delta:", fmt.Sprintf("%d", r.DeltaTemp))
	field("Offset:", fmt.Sprintf("%d", r.DewOffset))
	if m.mode != "" {
		field("Mode:", m.mode)
	}
	s.WriteString(st.header.Render(fmt.Sprintf("updated %s ago", formatUptime(m.now().Sub(m.readingAt)))))

	if r.TubeTemperature <= r.DewPoint {
		s.WriteString("\n")
		s.WriteString(st.warning.Render("Tube at or below dew point"))
	}
	return s.String()
}

func (m controlModel) renderControlPanel() string {
	st := m.styles
	var s strings.Builder

	selected := m.selectedAction()
	s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Command:"), st.value.Render(selected.command.String())))
	s.WriteString(st.header.Render(selected.description))
	s.WriteString("\n\n")

	if selected.command.TakesParameter() {
		lo, hi := selected.command.ParameterRange()
		s.WriteString(st.label.Render(fmt.Sprintf("Value (%d-%d): ", lo, hi)))
		if m.focusedField == focusValueInput {
			s.WriteString(m.valueInput.View())
		} else {
			// Show as plain text when not focused
			val := m.valueInput.Value()
			if val == "" {
				val = m.valueInput.Placeholder
			}
			s.WriteString(fmt.Sprintf("[%s]", val))
		}
		s.WriteString("\n\n")
	}

	btnText := fmt.Sprintf("[ Send %s ]", selected.name)
	if m.focusedField == focusButton {
		s.WriteString(st.focusedButton.Render(btnText))
	} else {
		s.WriteString(st.button.Render(btnText))
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar() string {
	st := m.styles
	stats := m.stats

	var ackPercent float64
	if resolved := stats.Received() + stats.Timeouts + stats.TransportErrors + stats.Disconnects; resolved > 0 {
		ackPercent = float64(stats.Acks) * 100.0 / float64(resolved)
	}

	countStyle := func(n uint64) string {
		if n > 0 {
			return st.err.Render(fmt.Sprintf("%d", n))
		}
		return st.value.Render("0")
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		st.label.Render("Sent:"), st.value.Render(fmt.Sprintf("%d", stats.CommandsSent)),
		st.label.Render("Acked:"), st.value.Render(fmt.Sprintf("%.1f%%", ackPercent)),
		st.label.Render("Timeouts:"), countStyle(stats.Timeouts),
		st.label.Render("Errors:"), countStyle(stats.Errors()),
		st.label.Render("Readings:"), st.value.Render(fmt.Sprintf("%d", stats.Readings)),
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f cmd/min", stats.CommandRate)),
	)
	if stats.BytesDiscarded > 0 || stats.EventsDropped > 0 {
		content += fmt.Sprintf("  %s %s  %s %s",
			st.label.Render("Discarded:"), countStyle(stats.BytesDiscarded),
			st.label.Render("Dropped:"), countStyle(stats.EventsDropped),
		)
	}

	return st.box.Width(m.width - 4).Render(content)
}

//////////////////////////////////////////////////////////////
// Event Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) handleAck(e session.CommandAcknowledged) {
	if !e.Success {
		m.addLogEntry(describeAck(e), true)
		return
	}

	switch e.Command {
	case dewproto.CmdStatus:
		// Routine polls stay out of the log
		if !e.Boot {
			return
		}
	case dewproto.CmdHello:
		first := e.FirstConnection
		m.firstConnection = &first
	case dewproto.CmdModeRegul:
		m.mode = "REGUL"
	case dewproto.CmdModeFull:
		m.mode = fmt.Sprintf("FULL %d%%", m.sent[dewproto.CmdModeFull])
	}
	m.addLogEntry(describeAck(e), false)
}

func (m *controlModel) handleSent(msg commandSentMsg) {
	if msg.err == nil {
		m.sent[msg.command] = msg.value
		if msg.command != dewproto.CmdStatus {
			request := dewproto.Request{Command: msg.command, Param: msg.value}
			m.addLogEntry(fmt.Sprintf("Sent %s", request), false)
		}
		return
	}

	switch {
	case errors.Is(msg.err, session.ErrBooting):
		m.addLogEntry(fmt.Sprintf("Controller booting, %s not sent", msg.command), true)
	case errors.Is(msg.err, session.ErrBusy):
		m.addLogEntry(fmt.Sprintf("Busy, %s not sent", msg.command), true)
	default:
		m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", msg.command, msg.err), true)
	}
}

// refresh copies the session state into the model
func (m *controlModel) refresh() {
	sess := m.session()
	if sess == nil {
		return
	}
	m.state = sess.State()
	m.bootRemaining = sess.BootRemaining()
	m.stats = sess.Statistics()
}

// pollStatus requests STATUS when the session is ready, idle and the last
// reading is older than the interval
func (m *controlModel) pollStatus() tea.Cmd {
	if !m.autoStatus || m.connectionLost {
		return nil
	}
	if m.connState != session.ConnReady || m.state.Phase != session.PhaseIdle {
		return nil
	}

	now := m.now()
	last := m.lastStatus
	if m.readingAt.After(last) {
		last = m.readingAt
	}
	if !last.IsZero() && now.Sub(last) < m.statusInterval {
		return nil
	}

	m.lastStatus = now
	return m.issue(dewproto.CmdStatus, 0)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// sendAction validates the value for the selected command and issues it
func (m *controlModel) sendAction(a action) tea.Cmd {
	value := 0
	if a.command.TakesParameter() {
		raw := m.valueInput.Value()
		if raw == "" {
			raw = m.valueInput.Placeholder
		}
		_, v, err := parseCommandArgs([]string{a.command.String(), raw})
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return nil
		}
		value = v
	}
	return m.issue(a.command, value)
}

// issue hands a command to the session off the UI goroutine
func (m *controlModel) issue(command dewproto.Command, value int) tea.Cmd {
	sess := m.session()
	if sess == nil || m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return nil
	}

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), issueTimeout)
		defer cancel()
		return commandSentMsg{
			command: command,
			value:   value,
			err:     sess.Issue(ctx, command, value),
		}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.events.add(m.now(), message, isError)
}

func (m *controlModel) session() *session.Session {
	if m.connMgr == nil {
		return nil
	}
	return m.connMgr.session()
}

func (m controlModel) selectedAction() action {
	idx := m.actionList.Index()
	if idx < 0 || idx >= len(controlActions) {
		return controlActions[0]
	}
	return controlActions[idx]
}

// syncValuePlaceholder offers the current setting of the selected command
func (m *controlModel) syncValuePlaceholder() {
	placeholder := ""
	switch m.selectedAction().command {
	case dewproto.CmdSetDelta:
		placeholder = "0"
		if m.reading != nil {
			placeholder = fmt.Sprintf("%d", m.reading.DeltaTemp)
		}
	case dewproto.CmdSetOffset:
		placeholder = "0"
		if m.reading != nil {
			placeholder = fmt.Sprintf("%d", m.reading.DewOffset)
		}
	case dewproto.CmdModeFull:
		placeholder = "100"
		if v, ok := m.sent[dewproto.CmdModeFull]; ok {
			placeholder = fmt.Sprintf("%d", v)
		}
	}
	m.valueInput.Placeholder = placeholder
}
