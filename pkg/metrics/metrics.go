// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports session events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/dewstat/pkg/dewproto"
	"github.com/Thermoquad/dewstat/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Command results used as the "result" label
const (
	ResultAck          = "ack"
	ResultNak          = "nak"
	ResultTimeout      = "timeout"
	ResultMalformed    = "malformed"
	ResultTransport    = "transport"
	ResultDisconnected = "disconnected"
	ResultError        = "error"
)

// Recorder updates Prometheus metrics from session events. It owns its
// registry so several sessions in one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	commands      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytes         *prometheus.CounterVec
	unknownFrames prometheus.Counter
	discarded     prometheus.Counter

	temperature     prometheus.Gauge
	humidity        prometheus.Gauge
	tubeTemperature prometheus.Gauge
	dewPoint        prometheus.Gauge
	pwm             prometheus.Gauge
	deltaTemp       prometheus.Gauge
	dewOffset       prometheus.Gauge
	connectionState prometheus.Gauge
	lastReading     prometheus.Gauge
}

// New creates a recorder with its metrics registered
func New() *Recorder {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dewstat_commands_total",
			Help: "Commands resolved, by command and result",
		}, []string{"command", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dewstat_command_duration_seconds",
			Help:    "Time from write to resolution",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"command"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dewstat_bytes_total",
			Help: "Bytes on the link, by direction",
		}, []string{"direction"}),
		unknownFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dewstat_unknown_frames_total",
			Help: "Frames that did not match the outstanding command",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dewstat_discarded_bytes_total",
			Help: "Received bytes dropped because the receive buffer overflowed",
		}),

		temperature:     gauge("dewstat_temperature_celsius", "Ambient temperature"),
		humidity:        gauge("dewstat_humidity_percent", "Relative humidity"),
		tubeTemperature: gauge("dewstat_tube_temperature_celsius", "Tube temperature"),
		dewPoint:        gauge("dewstat_dew_point_celsius", "Dew point"),
		pwm:             gauge("dewstat_pwm", "Heater PWM duty (0-255)"),
		deltaTemp:       gauge("dewstat_delta_temp", "Configured temperature delta"),
		dewOffset:       gauge("dewstat_dew_offset", "Configured dew point offset"),
		connectionState: gauge("dewstat_connection_state", "0 disconnected, 1 booting, 2 ready"),
		lastReading:     gauge("dewstat_last_reading_timestamp_seconds", "Unix time of the last reading"),
	}

	r.registry.MustRegister(
		r.commands,
		r.duration,
		r.bytes,
		r.unknownFrames,
		r.discarded,
		r.temperature,
		r.humidity,
		r.tubeTemperature,
		r.dewPoint,
		r.pwm,
		r.deltaTemp,
		r.dewOffset,
		r.connectionState,
		r.lastReading,
	)
	return r
}

// Registry returns the registry holding the metrics
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record updates the metrics from an event
func (r *Recorder) Record(ev session.Event) error {
	switch e := ev.(type) {
	case session.StatusUpdated:
		reading := e.Reading
		r.temperature.Set(reading.Temperature)
		r.humidity.Set(reading.Humidity)
		r.tubeTemperature.Set(reading.TubeTemperature)
		r.dewPoint.Set(reading.DewPoint)
		r.pwm.Set(reading.PWM)
		r.deltaTemp.Set(float64(reading.DeltaTemp))
		r.dewOffset.Set(float64(reading.DewOffset))
		r.lastReading.Set(float64(e.At.UnixNano()) / float64(time.Second))

	case session.CommandAcknowledged:
		cmd := e.Command.String()
		r.commands.WithLabelValues(cmd, Result(e)).Inc()
		r.duration.WithLabelValues(cmd).Observe(e.Duration.Seconds())

	case session.RawBytesObserved:
		r.bytes.WithLabelValues(e.Direction.String()).Add(float64(len(e.Data)))

	case session.ConnectionStateChanged:
		r.connectionState.Set(float64(e.State))

	case session.UnknownFrameReceived:
		r.unknownFrames.Inc()

	case session.BytesDiscarded:
		r.discarded.Add(float64(e.Count))
	}
	return nil
}

// Result returns the result label of an acknowledgement
func Result(e session.CommandAcknowledged) string {
	switch {
	case e.Err == nil:
		return ResultAck
	case errors.Is(e.Err, session.ErrProtocolNak):
		return ResultNak
	case errors.Is(e.Err, session.ErrTimeout):
		return ResultTimeout
	case errors.Is(e.Err, session.ErrTransport):
		return ResultTransport
	case errors.Is(e.Err, session.ErrDisconnected):
		return ResultDisconnected
	case errors.Is(e.Err, dewproto.ErrMalformedStatus):
		return ResultMalformed
	}
	return ResultError
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled
func (r *Recorder) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Metrics server started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
