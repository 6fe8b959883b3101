package testwire

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Dial opens a TCP connection to addr and wraps it as a Transport.
// Closing the Transport closes the connection.
func Dial(ctx context.Context, addr string, opt ...Option) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewTransport(conn, opt...), nil
}
