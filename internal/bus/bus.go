// Package bus provides the NATS JetStream client used for durable event
// consumption and publishing. Delivery is at-least-once: consumers must ack
// every message explicitly, and a nak'd message is redelivered after its delay.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrClosed is returned by Subscription.Next once the subscription has been
// stopped.
var ErrClosed = errors.New("subscription closed")

// Message is a single delivery from the stream. Exactly one of Ack or
// NakWithDelay must be called; NakWithDelay schedules redelivery.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
}

// Client wraps a NATS connection with JetStream enabled. A single Client is
// shared by the pipeline consumer and all publishers; the underlying
// connection is safe for concurrent use.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes the NATS connection. The process cannot run degraded
// without the bus, so callers should treat an error as fatal.
func Connect(url string) (*Client, error) {
	slog.Info("Connecting to NATS", "url", url)

	nc, err := nats.Connect(url,
		nats.Name("dispatch-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("Connected to NATS JetStream")
	return &Client{nc: nc, js: js}, nil
}

// EnsureStream creates the stream if it does not exist. "Already exists" is
// swallowed; other failures are logged as warnings and do not stop startup.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) {
	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	switch {
	case err == nil:
		slog.Info("Stream created", "stream", name, "subjects", subjects)
	case errors.Is(err, jetstream.ErrStreamNameAlreadyInUse):
		slog.Debug("Stream already exists", "stream", name)
	default:
		slog.Warn("Could not ensure stream", "stream", name, "error", err)
	}
}

// EnsureConsumer creates the durable explicit-ack consumer if it does not
// exist. Same error policy as EnsureStream.
func (c *Client) EnsureConsumer(ctx context.Context, stream, durable, filterSubject string) {
	_, err := c.js.CreateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filterSubject,
	})
	switch {
	case err == nil:
		slog.Info("Durable consumer created", "stream", stream, "durable", durable, "filter_subject", filterSubject)
	case errors.Is(err, jetstream.ErrConsumerExists):
		slog.Debug("Durable consumer already exists", "durable", durable)
	default:
		slog.Warn("Could not ensure consumer", "durable", durable, "error", err)
	}
}

// Subscribe attaches to a durable consumer and returns its message sequence.
func (c *Client) Subscribe(ctx context.Context, stream, durable string) (*Subscription, error) {
	cons, err := c.js.Consumer(ctx, stream, durable)
	if err != nil {
		return nil, fmt.Errorf("failed to look up consumer %s: %w", durable, err)
	}

	it, err := cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from %s: %w", durable, err)
	}

	slog.Info("Consumer subscription started", "stream", stream, "durable", durable)
	return &Subscription{it: it}, nil
}

// Publish publishes a payload to a subject and returns the stream sequence
// number assigned to it.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	ack, err := c.js.Publish(ctx, subject, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	slog.Debug("Published event", "subject", subject, "seq", ack.Sequence)
	return ack.Sequence, nil
}

// Closed reports whether the underlying connection is closed. Used by the
// readiness probe.
func (c *Client) Closed() bool {
	return c.nc == nil || c.nc.IsClosed()
}

// Close drains the connection, flushing pending acks and publishes.
func (c *Client) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	slog.Info("Draining NATS connection")
	if err := c.nc.Drain(); err != nil {
		slog.Warn("Failed to drain NATS connection", "error", err)
		c.nc.Close()
	}
}

// Subscription is a lazy, infinite sequence of messages from a durable
// consumer. Next blocks until a message arrives or Stop is called.
type Subscription struct {
	it jetstream.MessagesContext
}

// Next returns the next message. Returns ErrClosed once the subscription has
// been stopped; the in-flight message, if any, is unaffected.
func (s *Subscription) Next() (Message, error) {
	msg, err := s.it.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	return msg, nil
}

// Stop closes the subscription. Safe to call from another goroutine while
// Next is blocked.
func (s *Subscription) Stop() {
	s.it.Stop()
}
