// Package client sends lines to an aesdsocket server and collects the
// replies. The protocol has no end-of-reply marker, so a reply is taken
// to be complete once the connection stays idle for a short window.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chronologos/aesdsocket/internal/protocol"
	"github.com/chronologos/aesdsocket/internal/transport"
)

// DefaultIdle is how long the connection must stay silent before a reply
// is considered complete.
const DefaultIdle = 200 * time.Millisecond

const readBufSize = 32 * 1024

// discardHandler is a no-op slog handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Config holds client configuration.
type Config struct {
	Addr   string         // host:port
	Mode   transport.Mode // TCP (default) or QUIC
	Idle   time.Duration  // 0 = DefaultIdle
	Logger *slog.Logger   // nil discards
}

// Client is one connection to the server.
type Client struct {
	cfg  Config
	conn transport.Conn
	log  *slog.Logger
}

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	conn, err := transport.Dial(ctx, cfg.Mode, cfg.Addr)
	if err != nil {
		return nil, err
	}
	logger = logger.With("component", "client", "addr", cfg.Addr, "transport", cfg.Mode)
	logger.Debug("connected")
	return &Client{cfg: cfg, conn: conn, log: logger}, nil
}

// Send writes line, adding the terminator if it is missing, and returns
// the reply. A nil reply means the server sent nothing within the idle
// window, which is how a failed seek looks on the wire.
func (c *Client) Send(line []byte) ([]byte, error) {
	if len(line) == 0 || line[len(line)-1] != protocol.Terminator {
		line = append(line[:len(line):len(line)], protocol.Terminator)
	}
	if _, err := c.conn.Write(line); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	c.log.Debug("sent", "bytes", len(line))
	return c.readReply()
}

// Seek asks for the log content from byte off of retained command cmd.
func (c *Client) Seek(cmd, off uint32) ([]byte, error) {
	return c.Send(protocol.FormatSeek(cmd, off))
}

// readReply collects bytes until the connection is idle for cfg.Idle or
// the server closes it.
func (c *Client) readReply() ([]byte, error) {
	var reply []byte
	buf := make([]byte, readBufSize)
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.Idle))
		n, err := c.conn.Read(buf)
		reply = append(reply, buf[:n]...)
		if err == nil {
			continue
		}
		if transport.IsTimeout(err) {
			break
		}
		if err == io.EOF || transport.IsExpectedClose(err) {
			if len(reply) == 0 {
				return nil, fmt.Errorf("read reply: %w", io.EOF)
			}
			break
		}
		return reply, fmt.Errorf("read reply: %w", err)
	}
	c.log.Debug("reply", "bytes", len(reply))
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
