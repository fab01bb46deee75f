// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

// StatusPhase is the progress of a STATUS payload through the receive buffer
type StatusPhase int

const (
	StatusAwaitingStart StatusPhase = iota // no '[' buffered
	StatusInData                           // '[' buffered, ']' not yet seen
	StatusAwaitingAck                      // ']' is the last buffered byte
)

func (p StatusPhase) String() string {
	switch p {
	case StatusAwaitingStart:
		return "awaiting-start"
	case StatusInData:
		return "in-data"
	case StatusAwaitingAck:
		return "awaiting-ack"
	default:
		return "unknown"
	}
}

// Extractor splits the receive stream into response frames.
//
// Frames are cut in priority order:
//  1. the first ']' followed by RECEIVED or ERROR closes a status frame
//  2. with no '[' buffered ahead of it, the first RECEIVED or ERROR byte
//     closes a simple frame (including the two-byte HELLO reply)
//  3. otherwise the bytes stay buffered until more data arrives
//
// Rule 2 never fires inside an open status payload, where 0x34 and 0x35 are
// the ASCII digits '4' and '5'.
type Extractor struct {
	buf     []byte
	dropped uint64
}

// NewExtractor creates an empty frame extractor
func NewExtractor() *Extractor {
	return &Extractor{
		buf: make([]byte, 0, MaxBufferSize),
	}
}

// Feed appends data to the buffer and returns every complete frame, in
// arrival order. Partial data is kept for the next call.
func (e *Extractor) Feed(data []byte) [][]byte {
	e.buf = append(e.buf, data...)

	// Keep the newest bytes when garbage piles up
	if over := len(e.buf) - MaxBufferSize; over > 0 {
		e.buf = e.buf[:copy(e.buf, e.buf[over:])]
		e.dropped += uint64(over)
	}

	var frames [][]byte
	for {
		frame := e.next()
		if frame == nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

func (e *Extractor) next() []byte {
	if end := statusEnd(e.buf); end >= 0 {
		return e.take(end + 1)
	}

	for i, b := range e.buf {
		if b == StatusOpen {
			return nil
		}
		if b == ByteAck || b == ByteNak {
			return e.take(i + 1)
		}
	}
	return nil
}

// statusEnd returns the index of the marker byte closing a status frame, or -1
func statusEnd(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StatusClose && (buf[i+1] == ByteAck || buf[i+1] == ByteNak) {
			return i + 1
		}
	}
	return -1
}

func (e *Extractor) take(n int) []byte {
	frame := make([]byte, n)
	copy(frame, e.buf[:n])
	e.buf = e.buf[:copy(e.buf, e.buf[n:])]
	return frame
}

// Reset discards all buffered bytes
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
}

// Buffered returns a copy of the bytes not yet resolved into a frame
func (e *Extractor) Buffered() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// Len returns the number of buffered bytes
func (e *Extractor) Len() int {
	return len(e.buf)
}

// Dropped returns how many bytes were discarded because the buffer was full
func (e *Extractor) Dropped() uint64 {
	return e.dropped
}

// Phase reports where a STATUS payload stands in the buffer
func (e *Extractor) Phase() StatusPhase {
	open := -1
	for i := len(e.buf) - 1; i >= 0; i-- {
		if e.buf[i] == StatusOpen {
			open = i
			break
		}
	}
	if open < 0 {
		return StatusAwaitingStart
	}
	if last := len(e.buf) - 1; last > open && e.buf[last] == StatusClose {
		return StatusAwaitingAck
	}
	return StatusInData
}
