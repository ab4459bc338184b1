package mqttc

import "errors"

// Sentinel errors shared by the packet codec. These do not carry
// context and are suitable for errors.Is comparisons.
var (
	// ErrInvalidPacketID is returned when a packet that requires a
	// nonzero packet identifier carries zero.
	ErrInvalidPacketID = errors.New("invalid packet identifier")

	// ErrProtocolViolation is returned when a packet's wire encoding
	// violates a structural rule of the MQTT 3.1.1 spec (reserved bits
	// set, empty payload where one is required, and similar).
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrInvalidQoS is returned when a QoS value is not 0, 1, or 2.
	ErrInvalidQoS = errors.New("invalid QoS level")
)

// AlreadyConnected is returned when a connect is attempted while the
// client is not in the Disconnected state.
var AlreadyConnected = errors.New("client already connected")

// NoConnection is returned when an operation requires an active
// connection but the client is not connected.
var NoConnection = errors.New("client not connected")

// Timeout is returned when a pending operation's deadline elapses
// before a matching response arrives.
var Timeout = errors.New("operation timed out")

// UnexpectedPacket is returned when a packet arrives that no pending
// task can be matched against, or that is not valid for the client's
// current connection state.
var UnexpectedPacket = errors.New("unexpected packet")

// MalformedPacket is returned when a packet fails to decode, or
// decodes but fails structural validation.
var MalformedPacket = errors.New("malformed packet")

// KeepAliveTimeout is returned when no PINGRESP arrives within the
// keep-alive deadline, closing the connection.
var KeepAliveTimeout = errors.New("keep-alive timeout")

// FailedToConnect reports a CONNACK refusal carrying the broker's
// return code.
type FailedToConnect struct {
	ReturnCode ConnectReturnCode
}

func (e *FailedToConnect) Error() string {
	return "connect refused: " + e.ReturnCode.String()
}

// ConnectionClosed reports that the connection closed, optionally
// wrapping the underlying cause (a transport error, KeepAliveTimeout,
// or nil for a clean, caller-initiated disconnect).
type ConnectionClosed struct {
	Underlying error
}

func (e *ConnectionClosed) Error() string {
	if e.Underlying == nil {
		return "connection closed"
	}
	return "connection closed: " + e.Underlying.Error()
}

func (e *ConnectionClosed) Unwrap() error { return e.Underlying }

// SubscribeFailed reports that one or more filters in a subscribe
// call were refused (SUBACK return code 0x80). Indices is positional
// within the original filter list.
type SubscribeFailed struct {
	Indices []int
}

func (e *SubscribeFailed) Error() string {
	return "subscribe refused for one or more filters"
}

// TransportError wraps a failure from the underlying network
// transport (dial, read, or write).
type TransportError struct {
	Underlying error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Underlying.Error()
}

func (e *TransportError) Unwrap() error { return e.Underlying }
