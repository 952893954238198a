// Package timestamp periodically appends a wall-clock record to the shared
// log, independent of client activity.
package timestamp

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the period between timestamp records.
const DefaultInterval = 10 * time.Second

const prefix = "timestamp:"

// Appender is the part of the log the timestamper writes to. It goes
// through the same Append entry point that sessions use.
type Appender interface {
	Append(p []byte) (uint64, error)
}

// Config holds timestamper configuration.
type Config struct {
	Interval time.Duration    // 0 = DefaultInterval
	Now      func() time.Time // nil = time.Now
	Logger   *slog.Logger
}

// Timestamper appends one Format(now) record per tick.
type Timestamper struct {
	cfg    Config
	log    Appender
	logger *slog.Logger
}

// New creates a timestamper writing to log. Call Run to start ticking.
func New(log Appender, cfg Config) *Timestamper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Timestamper{
		cfg:    cfg,
		log:    log,
		logger: logger.With("component", "timestamp"),
	}
}

// Run appends a record every interval until ctx is cancelled. The first
// record is written one interval after Run starts. Run always returns nil
// once ctx is done; append failures are logged and the ticker keeps going.
func (t *Timestamper) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logger.Debug("timestamper started", "interval", t.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("timestamper stopped")
			return nil
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Timestamper) tick() {
	rec := Format(t.cfg.Now())
	seq, err := t.log.Append(rec)
	if err != nil {
		t.logger.Warn("timestamp record dropped", "error", err)
		return
	}
	t.logger.Debug("timestamp appended", "seq", seq)
}

// Format renders the record for tm: "timestamp:" followed by the RFC 2822
// date and a newline.
func Format(tm time.Time) []byte {
	b := make([]byte, 0, len(prefix)+len(time.RFC1123Z)+1)
	b = append(b, prefix...)
	b = tm.AppendFormat(b, time.RFC1123Z)
	return append(b, '\n')
}
