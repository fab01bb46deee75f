// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/dewstat/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Settings
	configPath  string
	logLevel    string
	logDir      string
	eventFormat string
	metricsAddr string
	redisAddr   string
	skipBoot    bool
)

var (
	// cfg is the resolved configuration: defaults, file, environment, flags
	cfg *config.Config

	// log is the application logger
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "dewstat",
	Short: "DarkiDew dew heater controller",
	Long: `Dewstat - A CLI tool for controlling and monitoring DarkiDew dew heaters.

Sends the single byte DarkiDew commands (HELLO, SET_DELTA, SET_OFFSET, MODE
FULL/REGUL, STATUS, SAVE), tracks the one command in flight, and records the
STATUS telemetry (temperature, humidity, tube temperature, dew point, PWM).

The controller resets when the serial port opens, so every session waits for
the boot window (10s) before sending HELLO, then STATUS.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the DEWSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are read from --config (YAML or TOML), then DEWSTAT_* environment
variables, then flags.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Settings
	flags.StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logDir, "log-dir", "logs", "Directory for CSV and event logs (empty to disable)")
	flags.StringVar(&eventFormat, "log-format", "jsonl", "Event log format (jsonl or cbor)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringVar(&redisAddr, "redis-addr", "", "Publish readings to Redis at this address")
	flags.BoolVar(&skipBoot, "skip-boot", false, "Do not wait for the controller boot window")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings resolves the configuration and sets up logging
func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loaded.ApplyEnv(); err != nil {
		return err
	}
	applyFlags(cmd, loaded)
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	return setupLogger(os.Stderr)
}

// applyFlags copies explicitly set flags over the configuration
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Serial.Port = portName
	}
	if flags.Changed("baud") {
		c.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		c.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		c.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.WebSocket.InsecureSkipVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-dir") {
		c.Logging.Dir = logDir
	}
	if flags.Changed("log-format") {
		c.Logging.EventFormat = eventFormat
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	if flags.Changed("redis-addr") {
		c.Redis.Addr = redisAddr
	}
	if flags.Changed("skip-boot") {
		c.Protocol.SkipBoot = skipBoot
	}
}

// setupLogger configures the application logger from cfg
func setupLogger(out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(out)

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return nil
}

// redirectLogToFile sends log output to the configured file while a TUI owns
// the terminal
func redirectLogToFile() (io.Closer, error) {
	if cfg.Logging.File == "" {
		log.SetOutput(io.Discard)
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}
