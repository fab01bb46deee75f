package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Serial.Baud != 19200 {
		t.Errorf("baud = %d, want 19200", cfg.Serial.Baud)
	}
	timing := cfg.Protocol.SessionConfig()
	if timing.CommandTimeout != 5*time.Second || timing.StatusTimeout != 15*time.Second {
		t.Errorf("timeouts = %s / %s", timing.CommandTimeout, timing.StatusTimeout)
	}
	if timing.BootDelay != 10*time.Second || timing.StatusDelay != 5*time.Second {
		t.Errorf("boot delays = %s / %s", timing.BootDelay, timing.StatusDelay)
	}
	if timing.PollInterval != 10*time.Millisecond {
		t.Errorf("poll interval = %s", timing.PollInterval)
	}
	if cfg.Status.Interval.Std() != 10*time.Second {
		t.Errorf("status interval = %s", cfg.Status.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "dewstat.yaml", `
serial:
  port: /dev/ttyUSB0
protocol:
  command_timeout: 2s
  skip_boot: true
status:
  interval: 30s
logging:
  level: debug
  event_format: cbor
redis:
  addr: localhost:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 19200 {
		t.Errorf("baud = %d, default not kept", cfg.Serial.Baud)
	}
	if cfg.Protocol.CommandTimeout.Std() != 2*time.Second {
		t.Errorf("command timeout = %s", cfg.Protocol.CommandTimeout)
	}
	if cfg.Protocol.StatusTimeout.Std() != 15*time.Second {
		t.Errorf("status timeout = %s, default not kept", cfg.Protocol.StatusTimeout)
	}
	if !cfg.Protocol.SkipBoot {
		t.Errorf("skip_boot not set")
	}
	if cfg.Status.Interval.Std() != 30*time.Second {
		t.Errorf("status interval = %s", cfg.Status.Interval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.EventFormat != "cbor" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Prefix != "dewstat" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "dewstat.toml", `
[websocket]
url = "ws://bridge.local/ws"
username = "admin"
insecure_skip_verify = true

[protocol]
boot_delay = "3s"
poll_interval = "5ms"

[metrics]
addr = ":9090"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocket.URL != "ws://bridge.local/ws" || cfg.WebSocket.Username != "admin" {
		t.Errorf("websocket = %+v", cfg.WebSocket)
	}
	if !cfg.WebSocket.InsecureSkipVerify {
		t.Errorf("insecure_skip_verify not set")
	}
	if cfg.Protocol.BootDelay.Std() != 3*time.Second {
		t.Errorf("boot delay = %s", cfg.Protocol.BootDelay)
	}
	if cfg.Protocol.PollInterval.Std() != 5*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.Protocol.PollInterval)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown extension", "dewstat.ini", "port=x", "unsupported config format"},
		{"yaml unknown key", "dewstat.yaml", "serial:\n  speed: 9600\n", "speed"},
		{"yaml bad duration", "dewstat.yaml", "status:\n  interval: soon\n", "invalid duration"},
		{"toml unknown key", "dewstat.toml", "[serial]\nspeed = 9600\n", "unknown keys"},
		{"toml bad duration", "dewstat.toml", "[protocol]\nboot_delay = \"later\"\n", "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Baud != Default().Serial.Baud {
		t.Errorf("empty path did not return defaults")
	}
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DEWSTAT_PORT", "/dev/ttyACM1")
	t.Setenv("DEWSTAT_BAUD", "9600")
	t.Setenv("DEWSTAT_SKIP_BOOT", "true")
	t.Setenv("DEWSTAT_STATUS_INTERVAL", "1m")
	t.Setenv("DEWSTAT_REDIS_ADDR", "redis:6379")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM1" || cfg.Serial.Baud != 9600 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if !cfg.Protocol.SkipBoot {
		t.Errorf("skip boot not applied")
	}
	if cfg.Status.Interval.Std() != time.Minute {
		t.Errorf("status interval = %s", cfg.Status.Interval)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"DEWSTAT_BAUD", "fast"},
		{"DEWSTAT_SKIP_BOOT", "maybe"},
		{"DEWSTAT_BOOT_DELAY", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := Default().ApplyEnv()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("ApplyEnv() = %v, want error naming %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Serial.Baud = 0 }},
		{"zero command timeout", func(c *Config) { c.Protocol.CommandTimeout = 0 }},
		{"negative boot delay", func(c *Config) { c.Protocol.BootDelay = Duration(-time.Second) }},
		{"zero status interval", func(c *Config) { c.Status.Interval = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad event format", func(c *Config) { c.Logging.EventFormat = "csv" }},
		{"negative history", func(c *Config) { c.Redis.History = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 250ms ")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Errorf("d = %s", d)
	}
	text, err := d.MarshalText()
	if err != nil || string(text) != "250ms" {
		t.Errorf("MarshalText = %q, %v", text, err)
	}
}
