package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/quic-go/quic-go"
)

// dualListener accepts connections from both a TCP and a QUIC (UDP)
// listener on the same port number. Accept returns whichever connection
// arrives first.
type dualListener struct {
	tcp  *tcpListener
	quic *quicListener
	port int

	// connCh receives connections from both accept loops.
	connCh chan acceptRes
	// cancel stops both accept loops on Close.
	cancel context.CancelFunc
}

type acceptRes struct {
	conn Conn
	err  error
}

// ListenDual creates a TCP listener on addr and a QUIC listener on the same
// port number. TCP binds first so port 0 resolves to a port that is free
// for TCP; UDP and TCP ports don't conflict.
func ListenDual(addr string) (Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", addr, err)
	}

	tl, err := listenTCP(addr)
	if err != nil {
		return nil, err
	}

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	ql, err := listenQUIC(net.JoinHostPort(host, strconv.Itoa(tl.Port())), cert)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("QUIC listen on port %d: %w", tl.Port(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dualListener{
		tcp:    tl,
		quic:   ql,
		port:   tl.Port(),
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
	}

	// Start persistent accept loops for both transports.
	go dl.acceptLoop(ctx, tl)
	go dl.acceptLoop(ctx, ql)

	return dl, nil
}

// acceptLoop forwards connections from one listener. A failed QUIC stream
// handshake only loses that connection, so the loop keeps going until the
// listener itself is closed.
func (dl *dualListener) acceptLoop(ctx context.Context, ln Listener) {
	for {
		conn, err := ln.Accept(ctx)
		select {
		case dl.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil && (ctx.Err() != nil || IsListenerClosed(err)) {
			return
		}
	}
}

// Accept returns the next connection from either transport.
func (dl *dualListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-dl.connCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Port returns the port number both listeners are bound to.
func (dl *dualListener) Port() int {
	return dl.port
}

// Close shuts down both listeners.
func (dl *dualListener) Close() error {
	dl.cancel()
	tcpErr := dl.tcp.Close()
	quicErr := dl.quic.Close()
	if tcpErr != nil {
		return tcpErr
	}
	return quicErr
}

// IsListenerClosed reports whether err comes from accepting on a listener
// that has been closed.
func IsListenerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, quic.ErrServerClosed) ||
		errors.Is(err, quic.ErrTransportClosed)
}
