package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// streamAcceptTimeout bounds how long Accept waits for a new QUIC
	// connection to open its stream. Clients open it with their first line.
	streamAcceptTimeout = 5 * time.Second

	// closeGrace is how long Close waits for the peer to drain the stream
	// before tearing down the QUIC connection.
	closeGrace = 500 * time.Millisecond
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		InitialPacketSize: 1200, // fits tunnels with a 1280 MTU
	}
}

// quicConn carries the line protocol on the first bidirectional stream of
// a QUIC connection.
type quicConn struct {
	qconn  *quic.Conn
	stream *quic.Stream
	tr     *quic.Transport // client side only: owns the UDP socket
}

func (c *quicConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.qconn.RemoteAddr()
}

// Close finishes the send side of the stream, gives the peer a short
// window to read what was written, then closes the connection.
func (c *quicConn) Close() error {
	c.stream.CancelRead(0)
	c.stream.Close()
	select {
	case <-c.qconn.Context().Done():
	case <-time.After(closeGrace):
	}
	err := c.qconn.CloseWithError(0, "closed")
	if c.tr != nil {
		return c.tr.Close()
	}
	return err
}

// quicListener accepts QUIC connections on a UDP socket.
type quicListener struct {
	tr   *quic.Transport
	ln   *quic.Listener
	port int
}

// ListenQUIC binds a QUIC listener on the UDP address addr using an
// ephemeral self-signed certificate.
func ListenQUIC(addr string) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenQUIC(addr, cert)
}

func listenQUIC(addr string, cert tls.Certificate) (*quicListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(ServerTLSConfig(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &quicListener{
		tr:   tr,
		ln:   ln,
		port: udpConn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

// Port returns the UDP port the listener is bound to.
func (l *quicListener) Port() int {
	return l.port
}

// Accept waits for a QUIC connection and its first stream.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamAcceptTimeout)
	defer cancel()
	stream, err := qconn.AcceptStream(streamCtx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept QUIC stream from %s: %w", qconn.RemoteAddr(), err)
	}

	return &quicConn{qconn: qconn, stream: stream}, nil
}

// Close shuts down the listener and underlying transport.
func (l *quicListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}

// dialQUIC connects to a QUIC listener and opens the protocol stream.
// QUIC announces the stream with its first write, so the server's Accept
// returns once the client sends its first line.
func dialQUIC(ctx context.Context, addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Use a fresh UDP socket for the client
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, raddr, ClientTLSConfig(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream failed")
		tr.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &quicConn{qconn: qconn, stream: stream, tr: tr}, nil
}
