package mqttc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// MessageHandler receives inbound PUBLISH packets matching a topic
// filter.
type MessageHandler func(msg *Message)

// clientState is the client's single-connection lifecycle.
type clientState int32

const (
	stateDisconnected clientState = iota
	stateConnecting
	stateConnected
	stateClosing
)

// Client is an MQTT 3.1.1 client: one connection to one broker at a
// time, with an optional auto-reconnect loop layered on top.
type Client struct {
	options *clientOptions

	conn   Conn
	framer *Framer
	tasks  *TaskRegistry

	packetIDs *PacketIDManager
	qos2Seen  *QoS2Tracker // receiver-side PUBLISH/PUBREL dedup for QoS 2

	keepAlive *KeepAliveTimer

	subscriptionsMu sync.RWMutex
	subscriptions   map[string]MessageHandler

	state       atomic.Int32
	serverIndex atomic.Uint32
	writeMu     sync.Mutex

	readDone chan struct{}
	closed   chan struct{}
	closeMu  sync.Mutex

	reconnecting atomic.Bool
}

// Dial connects to a broker and performs the MQTT CONNECT handshake.
func Dial(opts ...Option) (*Client, error) {
	return DialContext(context.Background(), opts...)
}

// DialContext connects to a broker, bounding the dial and CONNECT
// exchange by ctx in addition to any configured WithTimeout.
func DialContext(ctx context.Context, opts ...Option) (*Client, error) {
	options, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		options:       options,
		packetIDs:     NewPacketIDManager(0),
		qos2Seen:      NewQoS2Tracker(time.Minute, 0),
		subscriptions: make(map[string]MessageHandler),
		closed:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// connect requires state Disconnected.
func (c *Client) connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateDisconnected), int32(stateConnecting)) {
		return AlreadyConnected
	}

	addr, err := c.nextServer()
	if err != nil {
		c.state.Store(int32(stateDisconnected))
		return err
	}

	conn, err := c.dial(ctx, addr)
	if err != nil {
		c.state.Store(int32(stateDisconnected))
		return &TransportError{Underlying: err}
	}

	c.conn = conn
	c.framer = NewFramer(c.options.maxPacketSize)
	c.tasks = NewTaskRegistry()
	c.qos2Seen = NewQoS2Tracker(time.Minute, 0)
	c.readDone = make(chan struct{})

	connectPkt := &ConnectPacket{
		ClientID:     c.options.identifier,
		CleanSession: c.options.cleanSession,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}
	c.options.will.ApplyTo(connectPkt)

	handle, errCh, pktCh := c.tasks.Register(c.options.timeout, matchConnack())

	go c.readLoop()

	if err := c.writePacket(connectPkt); err != nil {
		handle.Cancel()
		c.teardown(err)
		return &TransportError{Underlying: err}
	}

	var connack *ConnackPacket
	select {
	case pkt := <-pktCh:
		connack = pkt.(*ConnackPacket)
	case taskErr := <-errCh:
		c.teardown(taskErr)
		return taskErr
	case <-ctx.Done():
		c.teardown(ctx.Err())
		return ctx.Err()
	}

	if connack.ReturnCode != ConnectAccepted {
		failure := &FailedToConnect{ReturnCode: connack.ReturnCode}
		c.teardown(failure)
		return failure
	}

	c.keepAlive = NewKeepAliveTimer(c.options.keepAlive, c.firePingreq)
	c.keepAlive.Start()

	c.state.Store(int32(stateConnected))
	c.options.metrics.Connected()
	c.options.logger.Info("connected", LogFields{"client_id": c.options.identifier})

	return nil
}

// matchConnack builds the predicate for the initial CONNACK task. Any
// other packet type offered to the registry while Connecting is treated
// as a protocol error; inbound PUBLISH and PUBREL are never offered to
// it, since dispatch hands them to their handlers directly.
func matchConnack() Predicate {
	return func(pkt Packet) (MatchResult, error) {
		if _, ok := pkt.(*ConnackPacket); ok {
			return Match, nil
		}
		return MatchErr, MalformedPacket
	}
}

func matchPacketID(wantType PacketType, id uint16) Predicate {
	return func(pkt Packet) (MatchResult, error) {
		withID, ok := pkt.(PacketWithID)
		if !ok || pkt.Type() != wantType || withID.GetPacketID() != id {
			return NoMatch, nil
		}
		return Match, nil
	}
}

func matchPingresp() Predicate {
	return func(pkt Packet) (MatchResult, error) {
		if _, ok := pkt.(*PingrespPacket); ok {
			return Match, nil
		}
		return NoMatch, nil
	}
}

// nextServer picks the next candidate broker address in round-robin
// order across host:port (when a host is set) followed by the
// WithServers addresses.
func (c *Client) nextServer() (string, error) {
	servers := c.options.servers
	if c.options.host != "" {
		primary := net.JoinHostPort(c.options.host, fmt.Sprintf("%d", c.options.port))
		servers = append([]string{primary}, servers...)
	}
	if len(servers) == 0 {
		return "", ErrInvalidHost
	}
	index := c.serverIndex.Add(1) - 1
	return servers[index%uint32(len(servers))], nil
}

// dial opens the transport: WithDialer overrides scheme selection
// entirely (for QUIC, Unix sockets, or a proxy); otherwise useSSL and
// useWebSockets pick among TCP, TLS, and WebSocket.
func (c *Client) dial(ctx context.Context, addr string) (Conn, error) {
	if c.options.dialer != nil {
		return c.options.dialer.Dial(ctx, addr)
	}

	if c.options.useWebSockets {
		wsDialer := NewWSDialer()
		if c.options.useSSL {
			tlsConfig := c.tlsConfig()
			wsDialer.Dialer.TLSClientConfig = tlsConfig
			return wsDialer.Dial(ctx, "wss://"+addr+c.options.webSocketURLPath)
		}
		return wsDialer.Dial(ctx, "ws://"+addr+c.options.webSocketURLPath)
	}

	if c.options.useSSL {
		dialer := &TLSDialer{Config: c.tlsConfig()}
		return dialer.Dial(ctx, addr)
	}

	dialer := &TCPDialer{}
	return dialer.Dial(ctx, addr)
}

func (c *Client) tlsConfig() *tls.Config {
	config := c.options.tlsConfiguration
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		config = config.Clone()
	}
	if c.options.sniServerName != "" {
		config.ServerName = c.options.sniServerName
	}
	if c.options.ocspVerifier != nil {
		config.VerifyConnection = c.options.ocspVerifier.VerifyConnection
	}
	return config
}

// Publish sends msg to the broker, implementing the QoS-dependent
// handshake: QoS 0 is fire-and-forget, QoS 1 waits for PUBACK, and
// QoS 2 drives PUBREC/PUBREL/PUBCOMP.
func (c *Client) Publish(msg *Message) error {
	if clientState(c.state.Load()) != stateConnected {
		return NoConnection
	}

	msg = applyProducerInterceptors(c.options.producerInterceptors, msg)
	if msg == nil {
		return nil
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return err
	}

	if c.options.publishLimiter != nil {
		if err := c.options.publishLimiter.Wait(context.Background()); err != nil {
			return &TransportError{Underlying: err}
		}
	}

	pkt := &PublishPacket{}
	pkt.FromMessage(msg)

	if msg.QoS == 0 {
		if err := c.writePacket(pkt); err != nil {
			return &TransportError{Underlying: err}
		}
		c.options.metrics.MessageSent(0)
		return nil
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return err
	}
	defer c.packetIDs.Release(id)
	pkt.PacketID = id

	start := time.Now()

	if msg.QoS == 1 {
		_, errCh, pktCh := c.tasks.Register(c.options.timeout, matchPacketID(PacketPUBACK, id))
		if err := c.writePacket(pkt); err != nil {
			return &TransportError{Underlying: err}
		}
		select {
		case <-pktCh:
			c.options.metrics.MessageSent(1)
			c.options.metrics.PublishLatency(time.Since(start))
			return nil
		case taskErr := <-errCh:
			return taskErr
		}
	}

	// QoS 2: PUBLISH -> PUBREC -> PUBREL -> PUBCOMP. The packet id is
	// held across both round trips.
	_, recErrCh, recPktCh := c.tasks.Register(c.options.timeout, matchPacketID(PacketPUBREC, id))
	if err := c.writePacket(pkt); err != nil {
		return &TransportError{Underlying: err}
	}
	select {
	case <-recPktCh:
	case taskErr := <-recErrCh:
		return taskErr
	}

	_, compErrCh, compPktCh := c.tasks.Register(c.options.timeout, matchPacketID(PacketPUBCOMP, id))
	pubrel := &PubrelPacket{PacketID: id}
	if err := c.writePacket(pubrel); err != nil {
		return &TransportError{Underlying: err}
	}
	select {
	case <-compPktCh:
		c.options.metrics.MessageSent(2)
		c.options.metrics.PublishLatency(time.Since(start))
		return nil
	case taskErr := <-compErrCh:
		return taskErr
	}
}

// Subscribe registers handler for filter and sends SUBSCRIBE.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	return c.SubscribeMultiple([]Subscription{{TopicFilter: filter, QoS: qos}}, handler)
}

// SubscribeMultiple subscribes to several filters in one SUBSCRIBE,
// all delivered to the same handler.
func (c *Client) SubscribeMultiple(subs []Subscription, handler MessageHandler) error {
	if clientState(c.state.Load()) != stateConnected {
		return NoConnection
	}
	if len(subs) == 0 {
		return ErrProtocolViolation
	}
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return err
	}
	defer c.packetIDs.Release(id)

	c.subscriptionsMu.Lock()
	for _, sub := range subs {
		c.subscriptions[sub.TopicFilter] = handler
	}
	c.subscriptionsMu.Unlock()

	_, errCh, pktCh := c.tasks.Register(c.options.timeout, matchPacketID(PacketSUBACK, id))

	pkt := &SubscribePacket{PacketID: id, Subscriptions: subs}
	if err := c.writePacket(pkt); err != nil {
		return &TransportError{Underlying: err}
	}

	var suback *SubackPacket
	select {
	case pkt := <-pktCh:
		suback = pkt.(*SubackPacket)
	case taskErr := <-errCh:
		return taskErr
	}

	if len(suback.ReturnCodes) != len(subs) {
		return UnexpectedPacket
	}

	var failed []int
	c.subscriptionsMu.Lock()
	for i, code := range suback.ReturnCodes {
		if code.Failure() {
			failed = append(failed, i)
			delete(c.subscriptions, subs[i].TopicFilter)
		}
	}
	c.subscriptionsMu.Unlock()

	if len(failed) > 0 {
		return &SubscribeFailed{Indices: failed}
	}
	return nil
}

// Unsubscribe removes filters and sends UNSUBSCRIBE.
func (c *Client) Unsubscribe(filters ...string) error {
	if clientState(c.state.Load()) != stateConnected {
		return NoConnection
	}
	if len(filters) == 0 {
		return ErrProtocolViolation
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return err
	}
	defer c.packetIDs.Release(id)

	_, errCh, pktCh := c.tasks.Register(c.options.timeout, matchPacketID(PacketUNSUBACK, id))

	pkt := &UnsubscribePacket{PacketID: id, TopicFilters: filters}
	if err := c.writePacket(pkt); err != nil {
		return &TransportError{Underlying: err}
	}

	select {
	case <-pktCh:
		c.subscriptionsMu.Lock()
		for _, f := range filters {
			delete(c.subscriptions, f)
		}
		c.subscriptionsMu.Unlock()
		return nil
	case taskErr := <-errCh:
		return taskErr
	}
}

// firePingreq sends PINGREQ on keep-alive timer expiry and awaits
// PINGRESP within the request timeout (or, when no timeout is set, the
// keep-alive fire interval), closing the connection with
// KeepAliveTimeout on a miss.
func (c *Client) firePingreq() {
	if clientState(c.state.Load()) != stateConnected {
		return
	}
	if err := c.Pingreq(); err != nil {
		c.teardown(KeepAliveTimeout)
	}
}

// Pingreq sends PINGREQ and waits for PINGRESP.
func (c *Client) Pingreq() error {
	if clientState(c.state.Load()) != stateConnected {
		return NoConnection
	}

	deadline := c.options.timeout
	if deadline == 0 {
		deadline = keepAliveInterval(c.options.keepAlive)
	}

	_, errCh, pktCh := c.tasks.Register(deadline, matchPingresp())
	if err := c.writePacket(&PingreqPacket{}); err != nil {
		return &TransportError{Underlying: err}
	}

	select {
	case <-pktCh:
		return nil
	case taskErr := <-errCh:
		return taskErr
	}
}

// Disconnect writes DISCONNECT, closes the transport, and transitions
// to Disconnected. Fire-and-close: no response is awaited.
func (c *Client) Disconnect() error {
	if clientState(c.state.Load()) != stateConnected {
		return NoConnection
	}
	c.writePacket(&DisconnectPacket{})
	c.teardown(nil)
	return nil
}

// State reports the client's current connection lifecycle state.
func (c *Client) State() string {
	switch clientState(c.state.Load()) {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

func (c *Client) writePacket(pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.options.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(c.conn, pkt, c.options.maxPacketSize)
	if err != nil {
		return err
	}

	c.options.metrics.BytesSent(n)
	c.options.metrics.PacketSent(pkt.Type())
	if c.keepAlive != nil {
		c.keepAlive.ResetOnWrite()
	}
	return nil
}

// readLoop feeds bytes from the transport to the framer and dispatches
// each decoded packet, until the transport errs or the client closes.
func (c *Client) readLoop() {
	defer close(c.readDone)

	chunk := make([]byte, 4096)
	for {
		if c.options.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.options.readTimeout))
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.framer.Feed(chunk[:n])
			for {
				pkt, ok, ferr := c.framer.Next()
				if ferr != nil {
					c.teardown(ferr)
					return
				}
				if !ok {
					break
				}
				c.options.metrics.BytesReceived(n)
				c.options.metrics.PacketReceived(pkt.Type())
				c.dispatch(pkt)
			}
		}
		if err != nil {
			c.teardown(&TransportError{Underlying: err})
			return
		}
	}
}

// dispatch routes one decoded inbound packet: PUBLISH and PUBREL go
// directly to their handlers; everything else is offered to the task
// registry for packet-id correlation.
func (c *Client) dispatch(pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		c.handlePublish(p)
		return
	case *PubrelPacket:
		c.handlePubrel(p)
		return
	}

	if !c.tasks.Match(pkt) {
		if _, isConnack := pkt.(*ConnackPacket); isConnack {
			c.teardown(UnexpectedPacket)
			return
		}
		c.options.logger.Warn("unmatched packet", LogFields{"type": pkt.Type().String()})
	}
}

// handlePublish delivers the message, then acknowledges according to
// QoS, suppressing duplicate delivery on a retransmitted QoS 2 PUBLISH
// arriving before PUBREL.
func (c *Client) handlePublish(pkt *PublishPacket) {
	msg := pkt.ToMessage()

	switch msg.QoS {
	case 0:
		c.deliverMessage(msg)
	case 1:
		c.deliverMessage(msg)
		c.writePacket(&PubackPacket{PacketID: pkt.PacketID})
	case 2:
		if _, already := c.qos2Seen.Get(pkt.PacketID); !already {
			c.qos2Seen.TrackReceive(pkt.PacketID, msg)
			c.deliverMessage(msg)
		}
		c.writePacket(&PubrecPacket{PacketID: pkt.PacketID})
	}
}

// handlePubrel completes the receiver side of a QoS 2 exchange.
// Inbound PUBREL always means the client received the original
// PUBLISH; the packet-id task registry is never involved here since
// that half of the handshake belongs to the sender, not the receiver.
func (c *Client) handlePubrel(pkt *PubrelPacket) {
	c.qos2Seen.HandlePubrel(pkt.PacketID)
	c.writePacket(&PubcompPacket{PacketID: pkt.PacketID})
}

func (c *Client) deliverMessage(msg *Message) {
	msg = applyConsumerInterceptors(c.options.consumerInterceptors, msg)
	if msg == nil {
		return
	}

	c.subscriptionsMu.RLock()
	var handlers []MessageHandler
	for filter, handler := range c.subscriptions {
		if TopicMatch(filter, msg.Topic) {
			handlers = append(handlers, handler)
		}
	}
	c.subscriptionsMu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// teardown closes the transport and cancels every outstanding task
// exactly once. Safe to call from readLoop, connect, or Disconnect.
func (c *Client) teardown(cause error) {
	c.closeMu.Lock()
	alreadyClosed := clientState(c.state.Load()) == stateDisconnected
	if !alreadyClosed {
		c.state.Store(int32(stateClosing))
	}
	c.closeMu.Unlock()
	if alreadyClosed {
		return
	}

	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	if c.tasks != nil {
		c.tasks.CancelAll(cause)
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.options.metrics.Disconnected()
	c.options.logger.Info("disconnected", LogFields{"cause": causeString(cause)})

	c.state.Store(int32(stateDisconnected))

	if cause != nil && c.options.autoReconnect && !c.reconnecting.Load() {
		go c.reconnectLoop(cause)
	}
}

func causeString(cause error) string {
	if cause == nil {
		return "none"
	}
	return cause.Error()
}

// reconnectLoop retries connect with exponential backoff after an
// unexpected close. A fresh CONNECT is issued on each attempt; no
// packet-id or inflight state survives a reconnect. The wait between
// attempts is paced by a rate.Limiter reconfigured to the current
// backoff interval on each iteration, rather than a bare timer.
func (c *Client) reconnectLoop(cause error) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.options.reconnectBackoff
	attempt := 0

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		attempt++
		if c.options.maxReconnects >= 0 && attempt > c.options.maxReconnects {
			c.options.logger.Error("reconnect attempts exhausted", LogFields{"attempts": attempt})
			return
		}

		limiter := rate.NewLimiter(rate.Every(backoff), 1)
		limiter.Allow() // consume the initial burst token so Wait actually paces

		waitCtx, waitCancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.closed:
				waitCancel()
			case <-waitCtx.Done():
			}
		}()
		err := limiter.Wait(waitCtx)
		waitCancel()
		if err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), max(c.options.timeout, 10*time.Second))
		err = c.connect(ctx)
		cancel()

		if err == nil {
			c.options.metrics.Reconnected()
			return
		}

		if c.options.backoffStrategy != nil {
			backoff = c.options.backoffStrategy(attempt, backoff, err)
		} else {
			backoff *= 2
		}
		if backoff > c.options.maxBackoff {
			backoff = c.options.maxBackoff
		}
	}
}

// Close permanently shuts down the client: it disconnects if
// connected and stops any pending reconnect loop.
func (c *Client) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	if clientState(c.state.Load()) == stateConnected {
		c.writePacket(&DisconnectPacket{})
	}
	c.teardown(nil)
	close(c.closed)

	select {
	case <-c.readDone:
	case <-time.After(time.Second):
	}

	return nil
}
