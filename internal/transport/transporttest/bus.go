// Package transporttest provides an in-process PubSub for tests: messages
// round-trip through the real JSON codec and subjects support the bus's
// single-token "*" wildcard, so transport consumers can be exercised without
// a running bus.
package transporttest

import (
	"context"
	"strings"
	"sync"

	"github.com/JeetSamespace/pluto/internal/transport"
)

type subscription struct {
	pattern transport.Topic
	ch      chan transport.Message
	ctx     context.Context
}

// Bus implements transport.PubSub in memory.
type Bus struct {
	mu        sync.Mutex
	subs      []*subscription
	published map[transport.Topic][][]byte
	failWith  map[transport.Topic]error
	closed    bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		published: make(map[transport.Topic][][]byte),
		failWith:  make(map[transport.Topic]error),
	}
}

// FailPublishOn makes every publish on topic return err.
func (b *Bus) FailPublishOn(topic transport.Topic, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith[topic] = err
}

// Subscriptions returns the number of currently open subscriptions. Tests
// use it to wait until a consumer under test has attached before publishing.
func (b *Bus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published returns the raw payloads published on a concrete topic, in order.
func (b *Bus) Published(topic transport.Topic) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

// Publish encodes msg and delivers it to every subscription whose pattern
// matches the topic. Delivery drops messages for saturated subscribers, like
// a real bus with a slow consumer.
func (b *Bus) Publish(_ context.Context, topic transport.Topic, msg transport.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failWith[topic]; err != nil {
		return &transport.PublishError{Topic: topic, Err: err}
	}

	b.published[topic] = append(b.published[topic], payload)

	for _, sub := range b.subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if !subjectMatches(string(sub.pattern), string(topic)) {
			continue
		}
		decoded, err := transport.DecodeMessage(payload)
		if err != nil {
			continue
		}
		select {
		case sub.ch <- decoded:
		default:
		}
	}
	return nil
}

// Subscribe opens a stream for every subject matching pattern.
func (b *Bus) Subscribe(ctx context.Context, pattern transport.Topic) (<-chan transport.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, &transport.SubscriptionError{Topic: pattern, Err: context.Canceled}
	}

	sub := &subscription{pattern: pattern, ch: make(chan transport.Message, 100), ctx: ctx}
	b.subs = append(b.subs, sub)

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}()

	return sub.ch, nil
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	return nil
}

// subjectMatches implements dot-separated subject matching where "*" matches
// exactly one token.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	if len(pt) != len(st) {
		return false
	}
	for i := range pt {
		if pt[i] != "*" && pt[i] != st[i] {
			return false
		}
	}
	return true
}
