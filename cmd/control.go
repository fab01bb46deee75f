// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/dewstat/pkg/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling DarkiDew heaters",
	Long: `Control a DarkiDew dew heater via an interactive terminal UI.

This command provides a TUI for monitoring and controlling a controller
connected via UART (direct connection) or a WebSocket serial bridge.

Features:
  - Boot countdown while the controller resets
  - Live STATUS readings, polled automatically while idle
  - Regulated and full power modes, delta and offset settings, EEPROM save
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the command list, the value field and the send button.
Arrow keys navigate the command list. Log output goes to the configured log
file while the TUI is running.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	out *sinks

	mu       sync.RWMutex
	sess     *session.Session
	connInfo string

	p *tea.Program
}

func (cm *connectionManager) session() *session.Session {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.sess
}

func (cm *connectionManager) setSession(sess *session.Session, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.sess = sess
	cm.connInfo = connInfo
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open initial connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}

	out, err := openSinks(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	defer out.Close()

	// The TUI owns the terminal from here on
	logFile, err := redirectLogToFile()
	if err != nil {
		conn.Close()
		return err
	}
	defer logFile.Close()

	// Create connection manager
	cm := &connectionManager{out: out}

	// Create TUI model with connection manager
	m := initialControlModel(cm, connInfo)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	// Start the session loop before the TUI so the boot window starts now
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		cm.run(ctx, conn, connInfo)
	}()

	// Run TUI
	_, runErr := p.Run()

	cancel() // Signal goroutines to stop
	<-loopDone

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// run drives sessions until ctx is cancelled, reconnecting when the link
// fails
func (cm *connectionManager) run(ctx context.Context, conn session.Transport, connInfo string) {
	for {
		err := cm.serve(ctx, conn, connInfo)

		// Check if we're shutting down
		if ctx.Err() != nil {
			return
		}

		// Notify TUI about connection loss
		cm.p.Send(connectionLostMsg{err: err})

		// Attempt to reconnect
		var ok bool
		conn, connInfo, ok = cm.reconnect(ctx)
		if !ok {
			return // Shutdown requested during reconnect
		}

		// Notify TUI about reconnection
		cm.p.Send(reconnectedMsg{connInfo: connInfo})
	}
}

// serve runs one session over conn and forwards its events to the TUI. It
// returns when the session ends and closes conn.
func (cm *connectionManager) serve(ctx context.Context, conn session.Transport, connInfo string) error {
	defer conn.Close()

	sess := newSession(conn, cm.out)
	cm.setSession(sess, connInfo)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	// Events are plain structs and go to the model as messages. The channel
	// closes after the session stops.
	for ev := range sess.Events() {
		cm.p.Send(ev)
	}
	return <-runErr
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect(ctx context.Context) (session.Transport, string, bool) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, "", false
		case <-time.After(backoff):
		}

		// Attempt to reconnect
		conn, connInfo, err := OpenConnection(ctx)
		if err == nil {
			return conn, connInfo, true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		cm.p.Send(reconnectFailedMsg{err: err, retryIn: backoff})
	}
}
