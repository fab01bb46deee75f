// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/spf13/cobra"
)

var linkDuration int

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Test raw link stability",
	Long: `Open the link without running the protocol and log any bytes received or
errors encountered. Nothing is sent to the controller.

Useful for debugging connection stability issues with a WebSocket bridge,
or for seeing what the controller prints while it boots.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().IntVar(&linkDuration, "duration", 30, "Test duration in seconds")
}

func runLink(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkDuration)

	start := time.Now()
	endTime := start.Add(time.Duration(linkDuration) * time.Second)
	nextHeartbeat := start.Add(time.Second)
	pollInterval := cfg.Protocol.PollInterval.Std()
	bytesReceived := 0
	chunksReceived := 0

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		data, err := conn.Poll()
		if len(data) > 0 {
			bytesReceived += len(data)
			chunksReceived++
			fmt.Printf("[%s] Received %d bytes: %s\n",
				time.Now().Format("15:04:05.000"), len(data), dewproto.FormatBytes(data))
		}
		if err != nil {
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Chunks received: %d\n", chunksReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)
		}

		if now := time.Now(); now.After(nextHeartbeat) {
			// Just a heartbeat to show the test is running
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				now.Format("15:04:05.000"), time.Until(endTime).Seconds())
			nextHeartbeat = now.Add(time.Second)
		}
		time.Sleep(pollInterval)
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkDuration)
	fmt.Printf("Chunks received: %d\n", chunksReceived)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
