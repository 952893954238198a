package transport

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a server at addr (host:port) over the given transport.
func Dial(ctx context.Context, mode Mode, addr string) (Conn, error) {
	switch mode {
	case ModeTCP:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TCP dial: %w", err)
		}
		return conn, nil
	case ModeQUIC:
		return dialQUIC(ctx, addr)
	default:
		return nil, fmt.Errorf("dial %s: unsupported transport %v", addr, mode)
	}
}
