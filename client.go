package msgsock

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Dial connects to a msgsock service at address and returns the client side
// of the connection. The same options as NewConn apply; the caller runs the
// receive loop with Run and sends with Write.
func Dial(ctx context.Context, address string, opt ...Option) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}

	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		_ = raw.Close()
		return nil, errors.Errorf("dial %s: not a TCP connection", address)
	}

	conn, err := NewConn(tcpConn, opt...)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	return conn, nil
}
