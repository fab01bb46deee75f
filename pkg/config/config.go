// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads dewstat settings from a YAML or TOML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5s" or "250ms" in config files
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete dewstat configuration
type Config struct {
	Serial    SerialConfig    `yaml:"serial" toml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	Protocol  ProtocolConfig  `yaml:"protocol" toml:"protocol"`
	Status    StatusConfig    `yaml:"status" toml:"status"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
}

type SerialConfig struct {
	Port string `yaml:"port" toml:"port"`
	Baud int    `yaml:"baud" toml:"baud"`
}

// WebSocketConfig selects a serial bridge instead of a local port. The
// password is never stored; it comes from DEWSTAT_PASSWORD or a prompt.
type WebSocketConfig struct {
	URL                string `yaml:"url" toml:"url"`
	Username           string `yaml:"username" toml:"username"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// ProtocolConfig holds the session timing
type ProtocolConfig struct {
	CommandTimeout Duration `yaml:"command_timeout" toml:"command_timeout"`
	StatusTimeout  Duration `yaml:"status_timeout" toml:"status_timeout"`
	BootDelay      Duration `yaml:"boot_delay" toml:"boot_delay"`
	StatusDelay    Duration `yaml:"status_delay" toml:"status_delay"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval"`
	SkipBoot       bool     `yaml:"skip_boot" toml:"skip_boot"`
}

// StatusConfig controls automatic STATUS polling
type StatusConfig struct {
	Auto     bool     `yaml:"auto" toml:"auto"`
	Interval Duration `yaml:"interval" toml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json

	// File receives log output while the TUI owns the terminal
	File string `yaml:"file" toml:"file"`

	// Dir enables the CSV reading log and the event log
	Dir         string `yaml:"dir" toml:"dir"`
	EventFormat string `yaml:"event_format" toml:"event_format"` // jsonl or cbor
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	History  int    `yaml:"history" toml:"history"`
}

// Default returns the built-in configuration
func Default() *Config {
	timing := session.DefaultConfig()
	return &Config{
		Serial: SerialConfig{
			Baud: dewproto.DefaultBaudRate,
		},
		Protocol: ProtocolConfig{
			CommandTimeout: Duration(timing.CommandTimeout),
			StatusTimeout:  Duration(timing.StatusTimeout),
			BootDelay:      Duration(timing.BootDelay),
			StatusDelay:    Duration(timing.StatusDelay),
			PollInterval:   Duration(timing.PollInterval),
		},
		Status: StatusConfig{
			Auto:     true,
			Interval: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			File:        "dewstat.log",
			Dir:         "logs",
			EventFormat: "jsonl",
		},
		Redis: RedisConfig{
			Prefix:  "dewstat",
			History: 100,
		},
	}
}

// Load reads a config file over the defaults. The format follows the file
// extension: .yaml, .yml or .toml. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", ext)
	}

	return cfg, nil
}

// SessionConfig returns the protocol timing as a session.Config
func (p ProtocolConfig) SessionConfig() session.Config {
	return session.Config{
		CommandTimeout: p.CommandTimeout.Std(),
		StatusTimeout:  p.StatusTimeout.Std(),
		BootDelay:      p.BootDelay.Std(),
		StatusDelay:    p.StatusDelay.Std(),
		PollInterval:   p.PollInterval.Std(),
		SkipBoot:       p.SkipBoot,
	}
}

// Validate checks every setting
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial baud must be positive, got %d", c.Serial.Baud)
	}
	if err := c.Protocol.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if c.Status.Interval <= 0 {
		return fmt.Errorf("status interval must be positive, got %s", c.Status.Interval)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.EventFormat {
	case "jsonl", "cbor":
	default:
		return fmt.Errorf("event log format must be jsonl or cbor, got %q", c.Logging.EventFormat)
	}
	if c.Redis.History < 0 {
		return fmt.Errorf("redis history must not be negative, got %d", c.Redis.History)
	}
	return nil
}
