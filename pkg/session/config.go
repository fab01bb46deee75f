// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
)

// Config holds the protocol timing of a session
type Config struct {
	// CommandTimeout bounds every command except STATUS
	CommandTimeout time.Duration

	// StatusTimeout bounds STATUS
	StatusTimeout time.Duration

	// BootDelay is the wait after connecting before HELLO is sent. The
	// controller resets when the port opens.
	BootDelay time.Duration

	// StatusDelay is the wait after the boot HELLO resolves before STATUS
	StatusDelay time.Duration

	// PollInterval is the sleep between transport polls
	PollInterval time.Duration

	// SkipBoot makes the session ready immediately, for links that do not
	// reset the controller
	SkipBoot bool
}

// DefaultConfig returns the timing used by the controller firmware
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 5 * time.Second,
		StatusTimeout:  15 * time.Second,
		BootDelay:      10 * time.Second,
		StatusDelay:    5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}
}

// TimeoutFor returns the response timeout of a command
func (c Config) TimeoutFor(cmd dewproto.Command) time.Duration {
	if cmd == dewproto.CmdStatus {
		return c.StatusTimeout
	}
	return c.CommandTimeout
}

// Validate checks that every duration is usable
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"command timeout", c.CommandTimeout},
		{"status timeout", c.StatusTimeout},
		{"poll interval", c.PollInterval},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", check.name, check.value)
		}
	}
	if c.BootDelay < 0 || c.StatusDelay < 0 {
		return fmt.Errorf("boot delays must not be negative")
	}
	return nil
}
