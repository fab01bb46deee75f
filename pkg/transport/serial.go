// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte links a session runs over: a local
// serial port and a WebSocket serial bridge.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrClosed is returned after the link has been closed
var ErrClosed = errors.New("transport closed")

// PollTimeout bounds how long a serial Poll waits for the first byte
const PollTimeout = time.Millisecond

const readBufferSize = 256

// Serial is a serial port link. The controller resets when the port opens.
type Serial struct {
	name string
	port io.ReadWriteCloser
	buf  []byte

	mu     sync.Mutex
	closed bool
}

// OpenSerial opens a port at 8N1
func OpenSerial(name string, baudRate int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(PollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	return NewSerial(name, port), nil
}

// NewSerial wraps an open port. Reads must time out rather than block.
func NewSerial(name string, port io.ReadWriteCloser) *Serial {
	return &Serial{
		name: name,
		port: port,
		buf:  make([]byte, readBufferSize),
	}
}

// Name returns the port path
func (s *Serial) Name() string {
	return s.name
}

func (s *Serial) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	return s.port.Write(p)
}

// Poll returns whatever arrived within PollTimeout
func (s *Serial) Poll() ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	n, err := s.port.Read(s.buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, s.buf[:n])
		return data, err
	}
	return nil, err
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Serial) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PortInfo describes a serial port found on the system
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// String returns a one-line description
func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	result := fmt.Sprintf("%s  USB %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		result += "  " + p.Product
	}
	if p.SerialNumber != "" {
		result += "  (" + p.SerialNumber + ")"
	}
	return result
}

// ListPorts returns the serial ports on the system. USB details are filled in
// where the platform reports them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	return ports, nil
}
