// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Dewstat - DarkiDew Dew Heater Controller
//
// A CLI tool for monitoring and controlling DarkiDew dew heater controllers
// over a serial port or a WebSocket serial bridge.

package main

import (
	"os"

	"github.com/Thermoquad/dewstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
