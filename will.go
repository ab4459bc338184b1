package mqttc

// WillMessage represents an MQTT Last Will and Testament message: the
// broker publishes it on the client's behalf if the connection closes
// without a clean DISCONNECT.
type WillMessage struct {
	// Topic is the will topic.
	Topic string

	// Payload is the will payload.
	Payload []byte

	// QoS is the quality of service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the will message should be retained.
	Retain bool
}

// WillFromConnect extracts the will message carried by a CONNECT
// packet, or nil if none was set.
func WillFromConnect(pkt *ConnectPacket) *WillMessage {
	if !pkt.WillFlag {
		return nil
	}

	return &WillMessage{
		Topic:   pkt.WillTopic,
		Payload: pkt.WillPayload,
		QoS:     pkt.WillQoS,
		Retain:  pkt.WillRetain,
	}
}

// ToMessage converts a WillMessage to a Message for publishing.
func (w *WillMessage) ToMessage() *Message {
	return &Message{
		Topic:   w.Topic,
		Payload: w.Payload,
		QoS:     w.QoS,
		Retain:  w.Retain,
	}
}

// ApplyTo sets the will fields on a CONNECT packet.
func (w *WillMessage) ApplyTo(pkt *ConnectPacket) {
	if w == nil {
		pkt.WillFlag = false
		return
	}
	pkt.WillFlag = true
	pkt.WillTopic = w.Topic
	pkt.WillPayload = w.Payload
	pkt.WillQoS = w.QoS
	pkt.WillRetain = w.Retain
}

// Validate validates the will message.
func (w *WillMessage) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return err
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}
