// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/Thermoquad/dewstat/pkg/transport"
	"golang.org/x/term"
)

// connectTimeout bounds the WebSocket handshake
const connectTimeout = 15 * time.Second

// wsPassword is kept after the first prompt so reconnects do not ask again
var wsPassword string

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("DEWSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket link based on cfg
func OpenConnection(ctx context.Context) (session.Transport, string, error) {
	if url := cfg.WebSocket.URL; url != "" {
		// WebSocket mode
		if cfg.WebSocket.Username != "" && wsPassword == "" {
			password, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			wsPassword = password
		}

		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		conn, err := transport.DialWebSocket(dialCtx, url, transport.WebSocketOptions{
			Username:           cfg.WebSocket.Username,
			Password:           wsPassword,
			InsecureSkipVerify: cfg.WebSocket.InsecureSkipVerify,
		})
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", url), nil
	}

	if port := cfg.Serial.Port; port != "" {
		// Serial mode
		conn, err := transport.OpenSerial(port, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", port, cfg.Serial.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
