// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketOptions configures a bridge connection
type WebSocketOptions struct {
	Username           string
	Password           string
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
}

// WebSocket is a link through a WebSocket serial bridge. Each message carries
// raw serial bytes. A reader goroutine buffers incoming messages until Poll.
type WebSocket struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	buf    []byte
	err    error
	closed bool
	done   chan struct{}
}

// DialWebSocket connects to a bridge, with HTTP Basic auth when a username
// and password are given
func DialWebSocket(ctx context.Context, wsURL string, opts WebSocketOptions) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w := &WebSocket{
		url:  wsURL,
		conn: conn,
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// URL returns the bridge address
func (w *WebSocket) URL() string {
	return w.url
}

func (w *WebSocket) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		w.mu.Lock()
		if err != nil {
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
			return
		}
		if messageType == websocket.BinaryMessage || messageType == websocket.TextMessage {
			w.buf = append(w.buf, data...)
		}
		w.mu.Unlock()
	}
}

func (w *WebSocket) Write(p []byte) (int, error) {
	w.mu.Lock()
	closed, err := w.closed, w.err
	w.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Poll drains the receive buffer. The read error is reported once the
// buffer is empty.
func (w *WebSocket) Poll() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if len(w.buf) > 0 {
		data := w.buf
		w.buf = nil
		return data, nil
	}
	return nil, w.err
}

// Close sends a close frame and shuts the connection down
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()

	err := w.conn.Close()
	<-w.done
	return err
}
