// Package messaging mirrors dispatched chat events onto NATS so that
// out-of-process observers (the moderator, audit tooling) can follow the
// chat without touching the server. Delivery to sessions never depends on
// it.
package messaging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS subject patterns.
const (
	SubjectEvents = "huddle.events" // + .<kind>
	subjectAll    = SubjectEvents + ".>"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  zerolog.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "huddle",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log zerolog.Logger) (*NATSClient, error) {
	log = log.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// EventSubject returns the subject an event of kind is published on.
func EventSubject(kind string) string {
	return SubjectEvents + "." + kind
}

// KindFromSubject extracts the event kind from an event subject. It returns
// "" for subjects outside the event namespace.
func KindFromSubject(subject string) string {
	kind, ok := strings.CutPrefix(subject, SubjectEvents+".")
	if !ok {
		return ""
	}
	return kind
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishEvent publishes an encoded event under its kind's subject.
func (c *NATSClient) PublishEvent(kind string, data []byte) error {
	if err := c.Publish(EventSubject(kind), data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", kind, err)
	}
	return nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeEvents delivers every mirrored event to handler together with
// its kind.
func (c *NATSClient) SubscribeEvents(handler func(kind string, data []byte)) error {
	return c.Subscribe(subjectAll, func(msg *nats.Msg) {
		handler(KindFromSubject(msg.Subject), msg.Data)
	})
}

// UnsubscribeEvents removes the subscription made by SubscribeEvents.
func (c *NATSClient) UnsubscribeEvents() error {
	return c.unsubscribe(subjectAll)
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn().Err(err).Str("subject", subject).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("connection drain")
	}

	c.log.Info().Msg("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}
