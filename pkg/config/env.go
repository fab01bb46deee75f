// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix starts every environment override
const EnvPrefix = "DEWSTAT_"

// ApplyEnv overrides settings from DEWSTAT_* environment variables
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"PORT":           &c.Serial.Port,
		"URL":            &c.WebSocket.URL,
		"USERNAME":       &c.WebSocket.Username,
		"LOG_LEVEL":      &c.Logging.Level,
		"LOG_FORMAT":     &c.Logging.Format,
		"LOG_FILE":       &c.Logging.File,
		"LOG_DIR":        &c.Logging.Dir,
		"EVENT_FORMAT":   &c.Logging.EventFormat,
		"METRICS_ADDR":   &c.Metrics.Addr,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"REDIS_PREFIX":   &c.Redis.Prefix,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BAUD":          &c.Serial.Baud,
		"REDIS_DB":      &c.Redis.DB,
		"REDIS_HISTORY": &c.Redis.History,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"NO_SSL_VERIFY": &c.WebSocket.InsecureSkipVerify,
		"SKIP_BOOT":     &c.Protocol.SkipBoot,
		"AUTO_STATUS":   &c.Status.Auto,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*Duration{
		"COMMAND_TIMEOUT": &c.Protocol.CommandTimeout,
		"STATUS_TIMEOUT":  &c.Protocol.StatusTimeout,
		"BOOT_DELAY":      &c.Protocol.BootDelay,
		"STATUS_DELAY":    &c.Protocol.StatusDelay,
		"STATUS_INTERVAL": &c.Status.Interval,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}

	return nil
}
