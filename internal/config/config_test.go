package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aesdsocket.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.Capacity != 10 || cfg.TimestampInterval != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9100
quic: true
backend: file
data_file: /tmp/data
remove_on_exit: true
read_timeout: 250ms
timestamp_interval: 0s
log:
  level: debug
  format: json
`)
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	want := Default()
	want.Listen = "127.0.0.1:9100"
	want.QUIC = true
	want.Backend = BackendFile
	want.DataFile = "/tmp/data"
	want.RemoveOnExit = true
	want.ReadTimeout = 250 * time.Millisecond
	want.TimestampInterval = 0
	want.Log = LogConfig{Level: "debug", Format: "json"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	got, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Fatalf("empty file mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "capacty: 5\n"))
	if err == nil || !strings.Contains(err.Error(), "capacty") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOverlayAppliesOnlySetFlags(t *testing.T) {
	cfg, err := Load(writeConfig(t, "capacity: 20\nlisten: :7000\n"))
	if err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"--capacity=3", "--read-timeout=2s", "--quic", "--log-level=warn"}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Overlay(fs); err != nil {
		t.Fatal(err)
	}

	if cfg.Capacity != 3 {
		t.Fatalf("flag should override file: capacity %d", cfg.Capacity)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("unset flag should keep file value: listen %q", cfg.Listen)
	}
	if cfg.ReadTimeout != 2*time.Second || !cfg.QUIC || cfg.Log.Level != "warn" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestSetUnknownKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Set("nope", "1"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := cfg.Set("capacity", "ten"); err == nil {
		t.Fatal("expected error for non-numeric capacity")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, "capacity"},
		{"bad backend", func(c *Config) { c.Backend = "tape" }, "backend"},
		{"file without path", func(c *Config) { c.Backend = BackendFile; c.DataFile = "" }, "data_file"},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, "read_timeout"},
		{"negative interval", func(c *Config) { c.TimestampInterval = -time.Second }, "timestamp_interval"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"zero line size", func(c *Config) { c.MaxLineSize = 0 }, "max_line_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("unexpected record %v", rec)
	}
}
