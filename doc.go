// Package mqttc provides an SDK for implementing MQTT v3.1.1 clients.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT v3.1.1 control packet types
//   - QoS 0, 1, 2 message flows with packet-id task correlation
//   - Topic matching with wildcard support (+, #)
//   - Transport: TCP, TLS, WebSocket, plus a pluggable Dialer for QUIC,
//     Unix sockets, or a proxy
//   - Automatic reconnection with configurable backoff
//   - Producer/consumer interceptors for cross-cutting message handling
//
// # Packet Types
//
// The package provides structs for all MQTT v3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet
//	pkt, n, err := mqttc.ReadPacket(conn, maxPacketSize)
//
//	// Write a packet
//	n, err := mqttc.WritePacket(conn, packet, maxPacketSize)
//
// # Client
//
// Use the high-level Client API for connecting to MQTT brokers:
//
//	client, err := mqttc.Dial(
//	    mqttc.WithHost("localhost"),
//	    mqttc.WithPort(1883),
//	    mqttc.WithIdentifier("my-client"),
//	    mqttc.WithKeepAlive(60),
//	)
//	defer client.Close()
//
// TLS connections:
//
//	client, err := mqttc.Dial(
//	    mqttc.WithHost("localhost"),
//	    mqttc.WithPort(8883),
//	    mqttc.WithIdentifier("my-client"),
//	    mqttc.WithSSL(&tls.Config{}),
//	)
//
// WebSocket connections:
//
//	client, err := mqttc.Dial(
//	    mqttc.WithHost("localhost"),
//	    mqttc.WithPort(8080),
//	    mqttc.WithIdentifier("my-client"),
//	    mqttc.WithWebSockets("/mqtt"),
//	)
//
// # Publish and Subscribe
//
// Publish at any QoS; the client handles the PUBACK/PUBREC/PUBREL/PUBCOMP
// handshake internally:
//
//	err := client.Publish(&mqttc.Message{
//	    Topic:   "sensors/temperature",
//	    Payload: []byte("21.5"),
//	    QoS:     1,
//	})
//
// Subscribe with a handler invoked for every matching inbound message:
//
//	err := client.Subscribe("sensors/+/status", 1, func(msg *mqttc.Message) {
//	    log.Printf("%s: %s", msg.Topic, msg.Payload)
//	})
//
// # Reconnection
//
// Enable automatic reconnection with exponential backoff after an
// unexpected connection loss:
//
//	client, err := mqttc.Dial(
//	    mqttc.WithHost("localhost"),
//	    mqttc.WithIdentifier("my-client"),
//	    mqttc.WithAutoReconnect(true),
//	    mqttc.WithReconnectBackoff(time.Second),
//	    mqttc.WithMaxBackoff(time.Minute),
//	)
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	// Validate topic names and filters
//	err := mqttc.ValidateTopicName("sensors/temperature")
//	err = mqttc.ValidateTopicFilter("sensors/+/status")
//
//	// Match topics against filters
//	matched := mqttc.TopicMatch("sensors/#", "sensors/room1/temp")
//
// # Interceptors
//
// Implement ProducerInterceptor or ConsumerInterceptor to transform or
// observe messages as they pass through Publish or delivery:
//
//	type loggingInterceptor struct{}
//	func (loggingInterceptor) OnSend(msg *mqttc.Message) *mqttc.Message {
//	    log.Printf("sending %s", msg.Topic)
//	    return msg
//	}
//
// # Metrics
//
// Use the built-in metrics collector for operational metrics by
// supplying any Metrics implementation (a Prometheus or expvar-backed
// one, for example):
//
//	client, err := mqttc.Dial(
//	    mqttc.WithHost("localhost"),
//	    mqttc.WithIdentifier("my-client"),
//	    mqttc.WithMetrics(myMetrics),
//	)
//
// # Logging
//
// Implement the Logger interface for structured logging:
//
//	logger := mqttc.NewStdLogger(os.Stdout, mqttc.LogLevelInfo)
//	logger.Info("client connected", mqttc.LogFields{"client_id": "test"})
package mqttc
