// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips by sending HELLO repeatedly",
	Long: `Send HELLO to the controller several times and report each round trip.

The controller answers HELLO with HELLO on the first connection after reset
and with ALREADY_CONNECTED afterwards, so every ping after the boot sequence
should report "already connected".

This is useful for verifying:
  - The serial link or WebSocket bridge passes bytes both ways
  - HTTP Basic authentication works
  - The controller firmware is responsive

Exit codes:
  0 - All pings acknowledged
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// pingSummary accumulates round trip times
type pingSummary struct {
	sent     int
	received int
	min      time.Duration
	max      time.Duration
	total    time.Duration
}

func (p *pingSummary) add(rtt time.Duration) {
	if p.received == 0 || rtt < p.min {
		p.min = rtt
	}
	if rtt > p.max {
		p.max = rtt
	}
	p.total += rtt
	p.received++
}

func (p pingSummary) String() string {
	loss := 0.0
	if p.sent > 0 {
		loss = float64(p.sent-p.received) / float64(p.sent) * 100
	}
	result := fmt.Sprintf("%d pings sent, %d acknowledged, %.0f%% loss\n", p.sent, p.received, loss)
	if p.received > 0 {
		avg := p.total / time.Duration(p.received)
		result += fmt.Sprintf("rtt min/avg/max = %v/%v/%v\n",
			p.min.Round(time.Millisecond), avg.Round(time.Millisecond), p.max.Round(time.Millisecond))
	}
	return result
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Dewstat - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	timing := cfg.Protocol.SessionConfig()
	timing.CommandTimeout = time.Duration(pingTimeout) * time.Second

	ctx, cancel := context.WithCancel(ctx)
	sess := session.New(conn, timing, session.WithLogger(log), session.WithoutEvents())
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if !timing.SkipBoot {
		fmt.Printf("Waiting %s for controller boot...\n\n", timing.BootDelay+timing.StatusDelay)
	}
	if err := sess.WaitReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	var summary pingSummary
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)
		summary.sent++

		ack, err := sess.Do(ctx, dewproto.CmdHello, 0)
		switch {
		case ack != nil && ack.Success:
			summary.add(ack.Duration)
			state := "already connected"
			if ack.FirstConnection {
				state = "first connection"
			}
			fmt.Printf("%s, rtt=%v\n", state, ack.Duration.Round(time.Millisecond))
		case ack != nil:
			fmt.Printf("FAILED: %v\n", ack.Err)
		default:
			fmt.Printf("SEND FAILED: %v\n", err)
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	cancel()
	<-runErr

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Print(summary)

	if summary.received < summary.sent {
		os.Exit(1)
	}
	return nil
}
