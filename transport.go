package mqttc

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn represents a network connection carrying MQTT traffic. It
// extends net.Conn with nothing further; the type exists so transport
// implementations have a single name to satisfy.
type Conn interface {
	net.Conn
}

// Dialer establishes a connection to a broker.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPDialer connects to brokers over plain TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}
