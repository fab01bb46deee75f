// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/spf13/cobra"
)

var (
	watchRaw      bool
	watchInterval time.Duration
	watchNoAuto   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll STATUS and display readings as they arrive",
	Long: `Connect, wait for the boot sequence, then request STATUS at a fixed
interval and print every reading and command result.

With --raw, every byte sent and received is shown as hex and ASCII.
Readings are also written to the data log, metrics and Redis when enabled.
Statistics are printed on exit.

Supports both serial and WebSocket connections.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Show raw bytes on the link")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "STATUS interval (default from config, 10s)")
	watchCmd.Flags().BoolVar(&watchNoAuto, "no-auto", false, "Only show the boot STATUS, do not poll")
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	interval := cfg.Status.Interval.Std()
	if cmd.Flags().Changed("interval") {
		interval = watchInterval
	}
	auto := cfg.Status.Auto && !watchNoAuto

	fmt.Printf("Dewstat - Watch\n")
	fmt.Printf("Connection: %s\n", connInfo)
	for _, line := range out.describe() {
		fmt.Println(line)
	}
	if auto {
		fmt.Printf("STATUS every %s\n", interval)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sess := newSession(conn, out)
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if !cfg.Protocol.SkipBoot {
		fmt.Printf("Waiting %s for controller boot...\n", cfg.Protocol.BootDelay)
	}
	if auto {
		go pollStatus(ctx, sess, interval)
	}

	// The channel closes once the session has stopped and every event is out
	for ev := range sess.Events() {
		fmt.Print(formatEvent(ev, watchRaw))
	}

	err = <-runErr
	fmt.Printf("\n%s", sess.Statistics())
	return err
}

// pollStatus issues STATUS every interval while the session is idle and
// ready. Ticks that find a command outstanding are skipped.
func pollStatus(ctx context.Context, sess *session.Session, interval time.Duration) {
	if err := sess.WaitReady(ctx); err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			if sess.State().Phase != session.PhaseIdle {
				continue
			}
			err := sess.Issue(ctx, dewproto.CmdStatus, 0)
			switch {
			case err == nil:
			case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrBooting):
			case errors.Is(err, session.ErrNotConnected), errors.Is(err, context.Canceled):
				return
			default:
				log.WithError(err).Warn("STATUS request failed")
			}
		}
	}
}
