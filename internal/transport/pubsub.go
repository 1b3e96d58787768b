// Package transport layers the fabric's pub/sub protocol over an external
// message bus.
//
// The PubSub interface is the single-channel primitive: publish one Message
// on one topic, or open a bounded stream of decoded Messages for one topic.
// Manager composes a PubSub into the fan-out/fan-in operations the runtimes
// need: ordered broadcast across several topics and a merged subscription
// over several topics.
//
// The only production adapter is NATS (nats.go); tests use an in-process
// fake implementing the same interface.
package transport

import (
	"context"
)

// subscribeBuffer is the capacity of every subscription channel, both the
// per-topic channels and the merged channel built by Manager.
const subscribeBuffer = 100

// PubSub is the single-channel bus capability.
//
// Publish serializes the message and sends it on topic; it returns a
// *SerializationError when encoding fails and a *PublishError when the bus
// rejects the send.
//
// Subscribe opens a stream of decoded messages for topic. Malformed payloads
// are dropped without terminating the stream. The returned channel is closed
// when ctx is cancelled or the bus ends the subscription. Returns a
// *SubscriptionError when the bus refuses the subscription.
type PubSub interface {
	Publish(ctx context.Context, topic Topic, msg Message) error
	Subscribe(ctx context.Context, topic Topic) (<-chan Message, error)
	Close() error
}
