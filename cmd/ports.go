// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/dewstat/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	portsUSBOnly bool
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this system, with USB vendor and product IDs
where the platform reports them.

DarkiDew controllers appear as USB serial adapters; use --usb to hide
built-in ports.

Examples:
  dewstat ports
  dewstat ports --usb

Exit codes:
  0 - At least one port found
  1 - No ports found
  2 - Enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSBOnly, "usb", false, "Only list USB serial ports")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ports = filterPorts(ports, portsUSBOnly)
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "No serial ports found")
		os.Exit(1)
	}

	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

// filterPorts drops non-USB ports when usbOnly is set
func filterPorts(ports []transport.PortInfo, usbOnly bool) []transport.PortInfo {
	if !usbOnly {
		return ports
	}
	var usb []transport.PortInfo
	for _, p := range ports {
		if p.IsUSB {
			usb = append(usb, p)
		}
	}
	return usb
}
