// Package transport carries the line protocol over TCP, and optionally over
// a QUIC stream on the same port number.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
)

// Mode selects which transport to use when dialing.
type Mode int

const (
	ModeTCP Mode = iota
	ModeQUIC
)

func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "TCP"
	case ModeQUIC:
		return "QUIC"
	default:
		return "unknown"
	}
}

// Conn is a bidirectional byte stream to one client.
// A *net.TCPConn satisfies it directly; QUIC connections are wrapped.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// Listener accepts client connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Port() int
	Close() error
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsExpectedClose reports whether err is a normal connection termination:
// EOF, closed connection, broken pipe, connection reset, or a QUIC
// connection the peer closed without an error code.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.ErrorCode == 0
	}
	return false
}
