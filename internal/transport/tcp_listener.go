package transport

import (
	"context"
	"fmt"
	"net"
)

// tcpListener wraps a plain TCP listener.
type tcpListener struct {
	ln   net.Listener
	port int
}

// ListenTCP binds a TCP listener on addr (host:port; port 0 picks one).
func ListenTCP(addr string) (Listener, error) {
	return listenTCP(addr)
}

func listenTCP(addr string) (*tcpListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP listen %s: %w", addr, err)
	}

	return &tcpListener{
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Port returns the TCP port the listener is bound to.
func (l *tcpListener) Port() int {
	return l.port
}

// Accept waits for a new TCP client connection.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		// The goroutine may still be blocked on l.ln.Accept(). It will
		// unblock when the listener is closed by the caller. If it
		// accepted a connection before that, close it so it doesn't leak.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the TCP listener.
func (l *tcpListener) Close() error {
	return l.ln.Close()
}
