package mqttc

import (
	"context"
	"net"
)

// UnixDialer connects to a broker over a Unix domain socket.
type UnixDialer struct{}

// Dial connects to the Unix socket at the given path. The address
// should be the socket file path (e.g., "/var/run/mqtt.sock").
func (d *UnixDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewUnixDialer creates a new Unix socket dialer.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}
