// Package session drives one client connection: it assembles lines from
// raw reads, appends data lines to the shared log, resolves seek commands,
// and writes the resulting log content back to the client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chronologos/aesdsocket/internal/protocol"
	"github.com/chronologos/aesdsocket/internal/transport"
)

const (
	readBufSize         = 1024 // per read, like the original server's recv buffer
	defaultReadTimeout  = time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Log is the shared record store a session appends to and replies from.
// *ringlog.Log and *filelog.Log satisfy it.
type Log interface {
	Append(p []byte) (uint64, error)
	// Snapshot returns the content from absolute offset off to the end.
	Snapshot(off int64) []byte
	// SnapshotAt returns the content from byte off of retained command cmd
	// to the end.
	SnapshotAt(cmd, off uint32) ([]byte, error)
}

// Config holds session configuration.
type Config struct {
	ID          string
	MaxLineSize int // 0 = protocol.DefaultMaxLineSize

	// ReadTimeout bounds each blocking read so the session notices
	// shutdown. Timeouts are not errors; the loop re-arms the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// State is a session's position in its lifecycle.
type State int32

const (
	StateAccepted State = iota
	StateReading
	StateDispatching
	StateReply
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateReply:
		return "reply"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the server side of one client connection. It owns the
// connection and its accumulation buffer exclusively; the Log is shared.
type Session struct {
	cfg    Config
	conn   transport.Conn
	log    Log
	asm    *protocol.Assembler
	logger *slog.Logger
	state  atomic.Int32
}

// New creates a session in StateAccepted. Call Run to serve it.
func New(conn transport.Conn, log Log, cfg Config) *Session {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:  cfg,
		conn: conn,
		log:  log,
		asm:  protocol.NewAssembler(cfg.MaxLineSize),
		logger: logger.With(
			"session", cfg.ID,
			"remote", conn.RemoteAddr().String(),
		),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run serves the connection until the peer closes it, an I/O error occurs,
// or ctx is cancelled. Cancellation is noticed at the next read timeout;
// a line already being dispatched completes first. The connection is
// closed on return. Ordinary peer closes return nil.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.setState(StateClosing)
		s.conn.Close()
		s.setState(StateTerminated)
		s.logger.Info("connection closed")
	}()

	s.logger.Info("connection accepted")
	s.setState(StateReading)

	buf := make([]byte, readBufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, err := s.conn.Read(buf)
		if n > 0 {
			if ferr := s.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				continue
			case transport.IsExpectedClose(err):
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
	}
}

// feed hands a chunk to the assembler and dispatches every completed line.
func (s *Session) feed(chunk []byte) error {
	if err := s.asm.Feed(chunk); err != nil {
		return err
	}
	for {
		line, ok := s.asm.Next()
		if !ok {
			return nil
		}
		if err := s.dispatch(line); err != nil {
			return err
		}
	}
}

// dispatch applies one line to the log and replies. Storage errors are
// logged and never end the session; write errors do.
func (s *Session) dispatch(line protocol.Line) error {
	s.setState(StateDispatching)
	defer s.setState(StateReading)

	var reply []byte
	switch line.Kind {
	case protocol.KindSeek:
		data, err := s.log.SnapshotAt(line.Cmd, line.Offset)
		if err != nil {
			s.logger.Warn("seek failed, no reply sent",
				"cmd", line.Cmd, "offset", line.Offset, "error", err)
			return nil
		}
		s.logger.Debug("seek resolved", "cmd", line.Cmd, "offset", line.Offset, "bytes", len(data))
		reply = data

	default:
		if line.Malformed {
			s.logger.Debug("malformed seek command stored as data", "line", string(line.Data))
		}
		seq, err := s.log.Append(line.Data)
		if err != nil {
			s.logger.Warn("record dropped", "size", len(line.Data), "error", err)
		} else {
			s.logger.Debug("record appended", "seq", seq, "size", len(line.Data))
		}
		reply = s.log.Snapshot(0)
	}

	s.setState(StateReply)
	return s.write(reply)
}

// write sends p in full, retrying short writes until done or the
// connection fails.
func (s *Session) write(p []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		if err != nil {
			if transport.IsExpectedClose(err) {
				return nil
			}
			return fmt.Errorf("write reply: %w", err)
		}
		if n == 0 {
			return errors.New("write reply: no progress")
		}
		p = p[n:]
	}
	return nil
}
