package transport

import (
	"encoding/json"

	"github.com/JeetSamespace/pluto/internal/stats"
)

// MessageType discriminates the bus payload union.
type MessageType string

const (
	MessageData                MessageType = "data"
	MessageGatewayLatencyStats MessageType = "gateway_latency_stats"
	MessagePing                MessageType = "ping"
	MessagePong                MessageType = "pong"
	MessageHeartbeat           MessageType = "heartbeat"
)

// Message is the JSON tagged union carried on every topic. Exactly the field
// matching Type is populated; the rest stay zero and are omitted on the wire.
//
// Consumers MUST ignore messages whose Type they do not recognize — new
// variants may appear on the bus before every node is upgraded.
type Message struct {
	Type MessageType `json:"type"`

	Data      string                     `json:"data,omitempty"`
	Stats     *stats.GatewayLatencyStats `json:"stats,omitempty"`
	Heartbeat *stats.Heartbeat           `json:"heartbeat,omitempty"`
}

// NewDataMessage wraps an opaque string payload.
func NewDataMessage(data string) Message {
	return Message{Type: MessageData, Data: data}
}

// NewStatsMessage wraps a gateway latency snapshot.
func NewStatsMessage(s stats.GatewayLatencyStats) Message {
	return Message{Type: MessageGatewayLatencyStats, Stats: &s}
}

// NewHeartbeatMessage wraps a heartbeat beacon.
func NewHeartbeatMessage(h stats.Heartbeat) Message {
	return Message{Type: MessageHeartbeat, Heartbeat: &h}
}

// NewPingMessage returns the ping probe message.
func NewPingMessage() Message { return Message{Type: MessagePing} }

// NewPongMessage returns the pong reply message.
func NewPongMessage() Message { return Message{Type: MessagePong} }

// Encode serializes the message to its JSON wire form.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

// DecodeMessage parses a wire payload. Messages with an unknown Type decode
// successfully and are expected to be skipped by the consumer.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, &DeserializationError{Err: err}
	}
	return m, nil
}
