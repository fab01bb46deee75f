// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries    []errorLogEntry
	maxEntries int
}

func newEventLog(maxEntries int) eventLog {
	return eventLog{
		entries:    make([]errorLogEntry, 0),
		maxEntries: maxEntries,
	}
}

func (l *eventLog) add(at time.Time, message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
}

// last returns up to n of the newest entries, oldest first
func (l eventLog) last(n int) []errorLogEntry {
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return l.entries[start:]
}

// tuiStyles holds the lipgloss styles shared by the views
type tuiStyles struct {
	title         lipgloss.Style
	header        lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	err           lipgloss.Style
	warning       lipgloss.Style
	box           lipgloss.Style
	focusedBox    lipgloss.Style
	button        lipgloss.Style
	focusedButton lipgloss.Style
}

func newStyles() tuiStyles {
	s := tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),

		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),

		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),

		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),

		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),

		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),

		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),

		button: lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2),
	}
	s.focusedBox = s.box.BorderForeground(lipgloss.Color("12"))
	s.focusedButton = s.button.Background(lipgloss.Color("10"))
	return s
}

// renderEventLog renders the newest entries that fit in height lines
func renderEventLog(events eventLog, height, width int, st tuiStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	if len(events.entries) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
		return st.box.Width(width).Render(s.String())
	}

	for _, entry := range events.last(height) {
		timestamp := entry.timestamp.Format("15:04:05.000")
		icon := "i"
		style := st.warning
		if entry.isError {
			icon = "x"
			style = st.err
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			st.header.Render(timestamp),
			style.Render(icon),
			entry.message))
	}

	return st.box.Width(width).Render(s.String())
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	seconds := uint64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
