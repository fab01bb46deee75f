// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dewproto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatBytes renders bytes as space separated hex followed by printable ASCII,
// e.g. "5B 31 5D 35 | [1]5"
func FormatBytes(data []byte) string {
	var ascii strings.Builder
	for _, b := range data {
		if b >= 32 && b <= 126 {
			ascii.WriteByte(b)
		} else {
			ascii.WriteByte('.')
		}
	}
	return fmt.Sprintf("% X | %s", data, ascii.String())
}

// FormatHex renders bytes as space separated hex
func FormatHex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// ParseHex decodes bytes typed by hand. Space separated input takes one byte
// per field ("30 31", "0x30 0x31"); a single field is a hex string ("3031",
// "0x3031").
func ParseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no bytes", ErrInvalidHex)
	}

	if len(fields) == 1 {
		data, err := hex.DecodeString(trimHexPrefix(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHex, s, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: no bytes", ErrInvalidHex)
		}
		return data, nil
	}

	data := make([]byte, 0, len(fields))
	for _, field := range fields {
		b, err := strconv.ParseUint(trimHexPrefix(field), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %q", ErrInvalidHex, field)
		}
		data = append(data, byte(b))
	}
	return data, nil
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// FormatByte returns the protocol name of a single byte
func FormatByte(b byte) string {
	switch b {
	case ByteAlreadyConnected:
		return "ALREADY_CONNECTED"
	case ByteNak:
		return "ERROR"
	case ByteAck:
		return "RECEIVED"
	}
	if cmd := Command(b); cmd.Valid() {
		return cmd.String()
	}
	return fmt.Sprintf("0x%02X", b)
}

// FormatRequest describes outgoing bytes, e.g. "SET_DELTA (0x31) param=0x33"
func FormatRequest(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	result := fmt.Sprintf("%s (0x%02X)", FormatByte(data[0]), data[0])
	if len(data) > 1 {
		result += fmt.Sprintf(" param=% X", data[1:])
	}
	return result
}

// FormatResponse formats a parsed response into a human-readable string
func FormatResponse(r *Response, at time.Time) string {
	timestamp := at.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s len=%d\n", timestamp, r.Kind, len(r.Raw))

	switch r.Kind {
	case KindHelloAck:
		if r.FirstConnection {
			result += "  Connection: first\n"
		} else {
			result += "  Connection: already connected\n"
		}
	case KindStatusAck:
		result += FormatReading(r.Reading)
	case KindUnknown:
		result += fmt.Sprintf("  Raw: %s\n", FormatBytes(r.Raw))
	}

	return result
}

// FormatReading formats a status reading, one field per line
func FormatReading(r *StatusReading) string {
	if r == nil {
		return "  (no reading)\n"
	}

	var s strings.Builder
	fmt.Fprintf(&s, "  Temperature:      %6.2f °C\n", r.Temperature)
	fmt.Fprintf(&s, "  Humidity:         %6.2f %%\n", r.Humidity)
	fmt.Fprintf(&s, "  Tube Temperature: %6.2f °C\n", r.TubeTemperature)
	fmt.Fprintf(&s, "  Dew Point:        %6.2f °C\n", r.DewPoint)
	fmt.Fprintf(&s, "  Power:            %6d %% (pwm %.0f)\n", r.PowerPercent(), r.PWM)
	fmt.Fprintf(&s, "  Delta:            %6d\n", r.DeltaTemp)
	fmt.Fprintf(&s, "  Offset:           %6d\n", r.DewOffset)
	return s.String()
}

// FormatReadingLine formats a status reading on a single line
func FormatReadingLine(r *StatusReading) string {
	return fmt.Sprintf("T=%.2f°C RH=%.2f%% tube=%.2f°C dew=%.2f°C power=%d%% delta=%d offset=%d",
		r.Temperature, r.Humidity, r.TubeTemperature, r.DewPoint, r.PowerPercent(), r.DeltaTemp, r.DewOffset)
}
