// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect protocol errors and anomalous readings",
	Long: `Poll STATUS and track failed commands, malformed frames, and anomalous
readings with statistics.

This command checks every exchange and detects:
  - NAK responses and command timeouts
  - Malformed STATUS frames and unexpected frames
  - Link errors and disconnects
  - Anomalous readings (humidity outside 0-100%, tube at or below dew point)

By default, only errors are displayed. Use --show-all to display valid readings too.

Errors are highlighted as they happen, and a statistics summary is printed
at the configured interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all readings (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

// readingAnomalies lists the values of r that the sensors cannot produce or
// that mean the heater is not keeping up
func readingAnomalies(r dewproto.StatusReading) []string {
	var issues []string
	if r.Humidity < 0 || r.Humidity > 100 {
		issues = append(issues, fmt.Sprintf("humidity %.1f%% outside 0-100%%", r.Humidity))
	}
	if r.PWM < 0 || r.PWM > dewproto.MaxPWM {
		issues = append(issues, fmt.Sprintf("PWM %.0f outside 0-%d", r.PWM, dewproto.MaxPWM))
	}
	if r.TubeTemperature <= r.DewPoint {
		issues = append(issues, fmt.Sprintf("tube %.1f°C at or below dew point %.1f°C", r.TubeTemperature, r.DewPoint))
	}
	return issues
}

// monitorLine renders ev for the monitor, or returns "" when ev is not
// worth showing
func monitorLine(ev session.Event, all bool) string {
	timestamp := ev.Time().Format("15:04:05.000")

	switch e := ev.(type) {
	case session.StatusUpdated:
		issues := readingAnomalies(e.Reading)
		if len(issues) == 0 {
			if !all {
				return ""
			}
			return fmt.Sprintf("[%s] \033[1;32mSTATUS:\033[0m %s\n", timestamp, dewproto.FormatReadingLine(&e.Reading))
		}
		var s strings.Builder
		fmt.Fprintf(&s, "[%s] \033[1;33mANOMALY:\033[0m %s\n", timestamp, dewproto.FormatReadingLine(&e.Reading))
		for i, issue := range issues {
			fmt.Fprintf(&s, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, issue)
		}
		s.WriteString("\n")
		return s.String()

	case session.CommandAcknowledged:
		if e.Success {
			if !all || e.Command == dewproto.CmdStatus {
				return ""
			}
			return formatEvent(e, false)
		}
		var s strings.Builder
		fmt.Fprintf(&s, "[%s] \033[1;31mCOMMAND FAILED:\033[0m %s: %v\n", timestamp, e.Command, e.Err)
		if len(e.Raw) > 0 {
			fmt.Fprintf(&s, "  Response: %s\n", dewproto.FormatBytes(e.Raw))
		}
		s.WriteString("  >>> COMMAND REJECTED <<<\n\n")
		return s.String()

	case session.UnknownFrameReceived:
		var s strings.Builder
		fmt.Fprintf(&s, "[%s] \033[1;31mUNEXPECTED FRAME:\033[0m while awaiting %s\n", timestamp, e.Command)
		fmt.Fprintf(&s, "  Bytes: %s\n", dewproto.FormatBytes(e.Raw))
		if e.Err != nil {
			fmt.Fprintf(&s, "  Error: %v\n", e.Err)
		}
		s.WriteString("\n")
		return s.String()

	case session.BytesDiscarded:
		return fmt.Sprintf("[%s] \033[1;31mBYTES DISCARDED:\033[0m %d (receive buffer full)\n\n", timestamp, e.Count)

	case session.ConnectionStateChanged:
		if e.State == session.ConnDisconnected {
			return fmt.Sprintf("[%s] \033[1;31mDISCONNECTED\033[0m\n\n", timestamp)
		}
		if !all {
			return ""
		}
		return formatEvent(e, false)
	}

	return ""
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	fmt.Printf("Dewstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Showing: All readings\n")
	} else {
		fmt.Printf("Showing: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sess := newSession(conn, out)
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()
	go pollStatus(ctx, sess, cfg.Status.Interval.Std())

	ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer ticker.Stop()

	events := sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				err := <-runErr
				fmt.Printf("\n--- Final Statistics ---\n%s", sess.Statistics())
				return err
			}
			fmt.Print(monitorLine(ev, showAll))

		case <-ticker.C:
			fmt.Printf("\n%s\n", sess.Statistics())
		}
	}
}
