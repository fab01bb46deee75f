// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/dewstat/pkg/datalog"
	"github.com/spf13/cobra"
)

var (
	eventsType string
)

var eventsCmd = &cobra.Command{
	Use:   "events <file>",
	Short: "Print a recorded event log",
	Long: `Decode an events_<session>.jsonl or events_<session>.cbor file written by
the data log and print one line per record.

Use --type to show only DATA, EVENT or RAW records.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only show records of this type (DATA, EVENT, RAW)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	entries, err := datalog.ReadEventFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	want := strings.ToUpper(eventsType)
	shown := 0
	for _, e := range entries {
		if want != "" && e.EventType != want {
			continue
		}
		fmt.Println(datalog.FormatEntry(e))
		shown++
	}

	fmt.Printf("\n%d of %d records\n", shown, len(entries))
	return nil
}
