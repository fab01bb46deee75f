// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

import (
	"strconv"
	"time"
)

// StatusReading is one decoded STATUS reply
type StatusReading struct {
	Timestamp       time.Time `json:"timestamp"`
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	TubeTemperature float64   `json:"tube_temperature"`
	DewPoint        float64   `json:"dew_point"`
	PWM             float64   `json:"pwm"`
	DeltaTemp       int       `json:"delta_temp"`
	DewOffset       int       `json:"dew_offset"`
}

// PowerPercent returns the heater output as a 0-100 percentage
func (r StatusReading) PowerPercent() int {
	return int(r.PWM) * MaxPowerPercent / MaxPWM
}

// CSVHeader lists the columns written by Record
var CSVHeader = []string{
	"timestamp",
	"temperature",
	"humidity",
	"tube_temperature",
	"dew_point",
	"pwm",
	"delta_temp",
	"dew_offset",
}

// Record returns the reading as a CSV row matching CSVHeader
func (r StatusReading) Record() []string {
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		formatFloat(r.Temperature),
		formatFloat(r.Humidity),
		formatFloat(r.TubeTemperature),
		formatFloat(r.DewPoint),
		formatFloat(r.PWM),
		strconv.Itoa(r.DeltaTemp),
		strconv.Itoa(r.DewOffset),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
