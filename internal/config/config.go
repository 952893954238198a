// Package config loads server configuration.
//
// Values come from three layers, each overriding the one before: built-in
// defaults, an optional YAML file, and command-line flags the user actually
// set. Unknown keys in the file are rejected so typos do not pass silently.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/chronologos/aesdsocket/internal/filelog"
	"github.com/chronologos/aesdsocket/internal/protocol"
	"github.com/chronologos/aesdsocket/internal/ringlog"
	"github.com/chronologos/aesdsocket/internal/timestamp"
)

// Backend selects where records are kept.
type Backend string

const (
	// BackendRing keeps the last Capacity records in memory.
	BackendRing Backend = "ring"
	// BackendFile appends every record to DataFile.
	BackendFile Backend = "file"
)

// Config is the server configuration.
type Config struct {
	// Listen is the TCP (and, with QUIC, UDP) address to bind.
	Listen string `yaml:"listen"`

	// QUIC also accepts QUIC connections on the same port.
	QUIC bool `yaml:"quic"`

	Backend Backend `yaml:"backend"`

	// Capacity is the number of records the ring keeps.
	Capacity int `yaml:"capacity"`

	// DataFile is the backing file of the file backend. It is truncated
	// at start.
	DataFile string `yaml:"data_file"`

	// RemoveOnExit deletes DataFile on clean shutdown.
	RemoveOnExit bool `yaml:"remove_on_exit"`

	MaxRecordSize int `yaml:"max_record_size"`
	MaxLineSize   int `yaml:"max_line_size"`

	// ReadTimeout bounds each session read so shutdown is noticed.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// TimestampInterval is the period of timestamp records. 0 disables them.
	TimestampInterval time.Duration `yaml:"timestamp_interval"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// NewLogger builds a logger writing to w at the configured level and format.
// Call Validate first; unknown values fall back to info and text.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:            fmt.Sprintf(":%d", protocol.DefaultPort),
		Backend:           BackendRing,
		Capacity:          ringlog.DefaultCapacity,
		DataFile:          filelog.DefaultPath,
		MaxRecordSize:     ringlog.DefaultMaxRecordSize,
		MaxLineSize:       protocol.DefaultMaxLineSize,
		ReadTimeout:       time.Second,
		TimestampInterval: timestamp.DefaultInterval,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns Default overlaid with the YAML file at path. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"listen":             "listen",
	"quic":               "quic",
	"backend":            "backend",
	"capacity":           "capacity",
	"data-file":          "data_file",
	"remove-on-exit":     "remove_on_exit",
	"max-record-size":    "max_record_size",
	"max-line-size":      "max_line_size",
	"read-timeout":       "read_timeout",
	"timestamp-interval": "timestamp_interval",
	"log-level":          "log.level",
	"log-format":         "log.format",
}

// BindFlags registers one flag per config key on fs, with defaults taken
// from Default. Use Overlay after parsing to apply the ones that were set.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen", d.Listen, "address to listen on")
	fs.Bool("quic", d.QUIC, "also accept QUIC connections on the same port")
	fs.String("backend", string(d.Backend), "record store: ring or file")
	fs.Int("capacity", d.Capacity, "number of records kept by the ring backend")
	fs.String("data-file", d.DataFile, "backing file for the file backend")
	fs.Bool("remove-on-exit", d.RemoveOnExit, "delete the data file on clean shutdown")
	fs.Int("max-record-size", d.MaxRecordSize, "largest record accepted, in bytes")
	fs.Int("max-line-size", d.MaxLineSize, "largest unterminated line buffered per connection, in bytes")
	fs.Duration("read-timeout", d.ReadTimeout, "per-read timeout used to notice shutdown")
	fs.Duration("timestamp-interval", d.TimestampInterval, "period of timestamp records (0 disables)")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
}

// Overlay applies every flag in fs that was set on the command line.
func (c *Config) Overlay(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = c.Set(key, f.Value.String())
	})
	return err
}

// Set assigns value to the field named by key.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "listen":
		c.Listen = value
	case "quic":
		c.QUIC, err = strconv.ParseBool(value)
	case "backend":
		c.Backend = Backend(value)
	case "capacity":
		c.Capacity, err = strconv.Atoi(value)
	case "data_file":
		c.DataFile = value
	case "remove_on_exit":
		c.RemoveOnExit, err = strconv.ParseBool(value)
	case "max_record_size":
		c.MaxRecordSize, err = strconv.Atoi(value)
	case "max_line_size":
		c.MaxLineSize, err = strconv.Atoi(value)
	case "read_timeout":
		c.ReadTimeout, err = time.ParseDuration(value)
	case "timestamp_interval":
		c.TimestampInterval, err = time.ParseDuration(value)
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("config %s=%q: %w", key, value, err)
	}
	return nil
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is empty")
	case c.Backend != BackendRing && c.Backend != BackendFile:
		return fmt.Errorf("unknown backend %q (want ring or file)", c.Backend)
	case c.Capacity < 1:
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	case c.Backend == BackendFile && c.DataFile == "":
		return errors.New("file backend needs data_file")
	case c.MaxRecordSize < 1:
		return fmt.Errorf("max_record_size must be positive, got %d", c.MaxRecordSize)
	case c.MaxLineSize < 1:
		return fmt.Errorf("max_line_size must be positive, got %d", c.MaxLineSize)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("read_timeout must be positive, got %v", c.ReadTimeout)
	case c.TimestampInterval < 0:
		return fmt.Errorf("timestamp_interval must not be negative, got %v", c.TimestampInterval)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
