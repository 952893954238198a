// Package server accepts client connections and runs one session worker
// per connection against a shared log. On shutdown it stops accepting and
// waits for every worker to finish.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chronologos/aesdsocket/internal/session"
	"github.com/chronologos/aesdsocket/internal/transport"
)

// ErrServerClosed is returned by Serve when the server has already served.
var ErrServerClosed = errors.New("server: already served")

// Config holds server configuration.
type Config struct {
	// Session is the template for every session; ID and Logger are
	// filled in per connection.
	Session session.Config
	Logger  *slog.Logger
}

// Server is the connection registry. The registry is used for shutdown
// and introspection only; sessions never talk to each other.
type Server struct {
	cfg    Config
	log    session.Log
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session

	group  errgroup.Group
	served atomic.Bool

	// Ready is closed once Serve has a listener, with Port set.
	Ready chan struct{}
	Port  int
}

// New creates a server that serves log. Call Serve to begin.
func New(log session.Log, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		logger:   logger,
		sessions: make(map[string]*session.Session),
		Ready:    make(chan struct{}),
	}
}

// Serve accepts connections from ln until ctx is cancelled or ln is
// closed, then waits for all in-flight sessions to terminate. Sessions
// see the same ctx and leave their read loop at the next read timeout.
// Serve closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	defer ln.Close()

	s.Port = ln.Port()
	close(s.Ready)
	s.logger.Info("listening", "port", s.Port)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsListenerClosed(err) {
				break
			}
			// Accept errors are often transient (a QUIC client that never
			// opened its stream). Log and continue accepting.
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.spawn(ctx, conn)
	}

	s.logger.Info("shutting down, waiting for sessions", "active", s.Active())
	s.group.Wait()
	s.logger.Info("all sessions finished")
	return nil
}

// spawn registers a session for conn and runs it in the worker group.
func (s *Server) spawn(ctx context.Context, conn transport.Conn) {
	id := uuid.NewString()
	cfg := s.cfg.Session
	cfg.ID = id
	cfg.Logger = s.logger
	sess := session.New(conn, s.log, cfg)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.group.Go(func() error {
		defer func() {
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
		}()
		// Session errors are local to that connection.
		if err := sess.Run(ctx); err != nil {
			s.logger.Warn("session ended with error", "session", id, "error", err)
		}
		return nil
	})
}

// Active returns the number of sessions that have not yet terminated.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// States returns the lifecycle state of every registered session, keyed
// by session ID.
func (s *Server) States() map[string]session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]session.State, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess.State()
	}
	return out
}
