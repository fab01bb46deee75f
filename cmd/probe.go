// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for the HELLO acknowledgement",
	Long: `Connect, wait for the controller boot window, send HELLO and report
whether the controller answered.

With --skip-boot, HELLO is sent immediately.

Exit codes:
  0 - HELLO acknowledged before timeout
  1 - Timeout or rejection
  2 - Connection error

Useful for testing connectivity to a controller or WebSocket bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 20, "Timeout in seconds to wait for HELLO")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Dewstat - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for HELLO acknowledgement...\n\n")

	sess := session.New(conn, cfg.Protocol.SessionConfig(), session.WithLogger(log))
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	ack, err := probeHello(ctx, sess)

	// Stop the session before exiting
	cancel()
	<-runErr

	switch {
	case ack != nil && ack.Success:
		fmt.Printf("SUCCESS: HELLO acknowledged\n")
		if ack.FirstConnection {
			fmt.Printf("  Connection: first\n")
		} else {
			fmt.Printf("  Connection: already connected\n")
		}
		fmt.Printf("  Response: %s\n", dewproto.FormatBytes(ack.Raw))
		fmt.Printf("  Round trip: %dms\n", ack.Duration.Milliseconds())
		os.Exit(0)

	case ack != nil:
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", ack.Err)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No HELLO acknowledgement within %d seconds (%v)\n", probeTimeout, err)
		os.Exit(1)
	}

	return nil
}

// probeHello returns the resolution of the first HELLO. Without the boot
// sequence HELLO is sent directly.
func probeHello(ctx context.Context, sess *session.Session) (*session.CommandAcknowledged, error) {
	if cfg.Protocol.SkipBoot {
		if err := sess.WaitReady(ctx); err != nil {
			return nil, err
		}
		ack, err := sess.Do(ctx, dewproto.CmdHello, 0)
		if ack != nil {
			return ack, nil
		}
		return nil, err
	}

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return nil, session.ErrDisconnected
			}
			if e, ok := ev.(session.CommandAcknowledged); ok && e.Command == dewproto.CmdHello {
				return &e, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
