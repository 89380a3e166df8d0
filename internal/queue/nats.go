package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig contains connection parameters for the JetStream backend.
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}

// NATS is a Channel backed by a JetStream work queue. It lets the access log
// worker run in a separate process from the proxy and survive restarts
// without losing items.
type NATS struct {
	conn  *nats.Conn
	js    nats.JetStreamContext
	sub   *nats.Subscription
	codec *Codec
	cfg   NATSConfig
}

var _ Channel = (*NATS)(nil)

// NewNATS connects to the server, ensures the stream exists and creates a
// durable pull consumer.
func NewNATS(cfg NATSConfig, codec *Codec) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	n := &NATS{conn: conn, js: js, codec: codec, cfg: cfg}

	if err := n.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.ManualAck())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}
	n.sub = sub

	log.Info().
		Str("stream", cfg.Stream).
		Str("subject", cfg.Subject).
		Str("durable", cfg.Durable).
		Msg("connected to NATS JetStream queue")
	return n, nil
}

func (n *NATS) ensureStream() error {
	_, err := n.js.StreamInfo(n.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:      n.cfg.Stream,
		Subjects:  []string{n.cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	log.Info().Str("stream", n.cfg.Stream).Msg("created NATS stream")
	return nil
}

// Put publishes one encoded item. Publishing is synchronous so producers get
// backpressure instead of silently dropping log items.
func (n *NATS) Put(ctx context.Context, item Item) error {
	data, err := n.codec.Encode(item)
	if err != nil {
		return err
	}
	if _, err := n.js.Publish(n.cfg.Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s item: %w", item.Kind(), err)
	}
	return nil
}

// Get fetches up to max messages and decodes them. Messages are acked once
// decoded; an undecodable message is terminated so it does not poison the
// consumer, and the error is logged rather than returned.
func (n *NATS) Get(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		max = 64
	}

	msgs, err := n.sub.Fetch(max, nats.MaxWait(250*time.Millisecond))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch from JetStream: %w", err)
	}

	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		item, err := n.codec.Decode(msg.Data)
		if err != nil {
			log.Error().Err(err).Msg("dropping undecodable queue message")
			_ = msg.Term()
			continue
		}
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Msg("failed to ack queue message")
		}
		items = append(items, item)
	}
	return items, nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
