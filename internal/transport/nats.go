package transport

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/JeetSamespace/pluto/internal/config"
)

// NATSPubSub is the NATS-backed bus adapter. Subjects map 1:1 onto topics;
// the bus guarantees per-publisher per-subject FIFO delivery, so snapshots
// from one gateway are applied in publish order.
//
// The underlying connection is thread-safe; NATSPubSub adds no locking and
// all methods are safe for concurrent use.
type NATSPubSub struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewNATSPubSub connects to the bus. Reconnect behaviour comes from the
// config: MaxReconnects of zero keeps the client library default, and the
// client buffers publishes during a reconnect window.
func NewNATSPubSub(cfg config.NATSConfig, log *slog.Logger) (*NATSPubSub, error) {
	opts := []nats.Option{
		nats.Name("pluto"),
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warn("bus disconnected", slog.String("error", err.Error()))
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(c *nats.Conn) {
		log.Info("bus reconnected", slog.String("url", c.ConnectedUrl()))
	}))

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return &NATSPubSub{conn: conn, log: log}, nil
}

// Publish encodes msg and sends it on topic.
func (p *NATSPubSub) Publish(_ context.Context, topic Topic, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := p.conn.Publish(string(topic), payload); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

// Subscribe opens a decoded message stream for topic. The forwarding
// goroutine exits — closing the returned channel — when ctx is cancelled or
// the bus closes the subscription.
func (p *NATSPubSub) Subscribe(ctx context.Context, topic Topic) (<-chan Message, error) {
	raw := make(chan *nats.Msg, subscribeBuffer)
	sub, err := p.conn.ChanSubscribe(string(topic), raw)
	if err != nil {
		return nil, &SubscriptionError{Topic: topic, Err: err}
	}

	out := make(chan Message, subscribeBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				p.log.Debug("unsubscribe failed",
					slog.String("topic", string(topic)),
					slog.String("error", err.Error()),
				)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case natsMsg, ok := <-raw:
				if !ok {
					return
				}
				msg, err := DecodeMessage(natsMsg.Data)
				if err != nil {
					// Malformed payloads never terminate the stream.
					p.log.Debug("dropping malformed payload",
						slog.String("topic", string(topic)),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Connected reports whether the client currently holds a live connection.
func (p *NATSPubSub) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains the connection so buffered publishes flush before teardown.
func (p *NATSPubSub) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
