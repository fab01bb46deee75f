// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish forwards readings and command results to Redis.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	queueSize      = 64
	publishTimeout = 2 * time.Second
)

// Options configures a Publisher
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix starts every channel and key name
	Prefix string

	// History is how many readings are kept in <prefix>:history. Zero
	// disables the list.
	History int
}

// Message is one Redis publication
type Message struct {
	Channel string
	Payload []byte

	// Reading messages are also pushed to the history list
	Reading bool
}

// Publisher is a session.Recorder that publishes to Redis. Record never
// blocks on the network: messages go through a queue drained by one
// goroutine, and are dropped when the queue is full.
type Publisher struct {
	client  *redis.Client
	opts    Options
	log     logrus.FieldLogger
	queue   chan Message
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Dial connects to Redis and starts the publishing goroutine
func Dial(ctx context.Context, opts Options, log logrus.FieldLogger) (*Publisher, error) {
	if opts.Prefix == "" {
		opts.Prefix = "dewstat"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	log.WithField("addr", opts.Addr).Info("Redis connected")

	p := &Publisher{
		client: client,
		opts:   opts,
		log:    log,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// StatusChannel is where readings are published
func (p *Publisher) StatusChannel() string {
	return StatusChannel(p.opts.Prefix)
}

// Record queues the message for an event
func (p *Publisher) Record(ev session.Event) error {
	msg, ok, err := MessageFor(p.opts.Prefix, ev)
	if err != nil || !ok {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("redis publisher closed")
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped++
		return fmt.Errorf("redis queue full, dropped %s message", msg.Channel)
	}
	return nil
}

// Dropped returns how many messages were discarded
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.publish(msg); err != nil {
			p.log.WithError(err).WithField("channel", msg.Channel).Warn("Redis publish failed")
		}
	}
}

func (p *Publisher) publish(msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, msg.Channel, msg.Payload)
	if msg.Reading && p.opts.History > 0 {
		key := HistoryKey(p.opts.Prefix)
		pipe.LPush(ctx, key, msg.Payload)
		pipe.LTrim(ctx, key, 0, int64(p.opts.History-1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close drains the queue and disconnects
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.client.Close()
}

// StatusChannel returns the reading channel name for a prefix
func StatusChannel(prefix string) string { return prefix + ":status" }

// EventsChannel returns the acknowledgement channel name for a prefix
func EventsChannel(prefix string) string { return prefix + ":events" }

// HistoryKey returns the reading list key for a prefix
func HistoryKey(prefix string) string { return prefix + ":history" }

type readingPayload struct {
	Timestamp       time.Time `json:"timestamp"`
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	TubeTemperature float64   `json:"tube_temperature"`
	DewPoint        float64   `json:"dew_point"`
	PWM             float64   `json:"pwm"`
	PowerPercent    int       `json:"power_percent"`
	DeltaTemp       int       `json:"delta_temp"`
	DewOffset       int       `json:"dew_offset"`
}

type eventPayload struct {
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Command         string    `json:"command,omitempty"`
	Success         *bool     `json:"success,omitempty"`
	Error           string    `json:"error,omitempty"`
	DurationMS      int64     `json:"duration_ms,omitempty"`
	FirstConnection *bool     `json:"first_connection,omitempty"`
	State           string    `json:"state,omitempty"`
}

// MessageFor builds the Redis message for an event. Raw bytes and unknown
// frames are not published.
func MessageFor(prefix string, ev session.Event) (Message, bool, error) {
	var msg Message
	var v any

	switch e := ev.(type) {
	case session.StatusUpdated:
		r := e.Reading
		msg.Channel = StatusChannel(prefix)
		msg.Reading = true
		v = readingPayload{
			Timestamp:       e.At,
			Temperature:     r.Temperature,
			Humidity:        r.Humidity,
			TubeTemperature: r.TubeTemperature,
			DewPoint:        r.DewPoint,
			PWM:             r.PWM,
			PowerPercent:    r.PowerPercent(),
			DeltaTemp:       r.DeltaTemp,
			DewOffset:       r.DewOffset,
		}

	case session.CommandAcknowledged:
		msg.Channel = EventsChannel(prefix)
		success := e.Success
		payload := eventPayload{
			Type:       "command",
			Timestamp:  e.At,
			Command:    e.Command.String(),
			Success:    &success,
			DurationMS: e.Duration.Milliseconds(),
		}
		if e.Err != nil {
			payload.Error = e.Err.Error()
		}
		if e.Success && e.Command == dewproto.CmdHello {
			first := e.FirstConnection
			payload.FirstConnection = &first
		}
		v = payload

	case session.ConnectionStateChanged:
		msg.Channel = EventsChannel(prefix)
		v = eventPayload{
			Type:      "connection",
			Timestamp: e.At,
			State:     e.State.String(),
		}

	default:
		return Message{}, false, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to encode %s message: %w", msg.Channel, err)
	}
	msg.Payload = data
	return msg, true, nil
}
