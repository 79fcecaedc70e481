// Package messaging provides a NATS client wrapper used to announce
// confirmed exchange matches to any interested listener. Polling stays the
// source of truth; these notifications are best effort.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the exchange service.
const (
	SubjectExchangeMatched = "exchange.matched" // + .<session_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
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
		Name:          "exchange",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// ExchangeMatchedSubject returns the per-session match subject.
func ExchangeMatchedSubject(sessionID string) string {
	return SubjectExchangeMatched + "." + sessionID
}

// SessionFromSubject extracts the session ID from an exchange.matched.<id>
// subject.
func SessionFromSubject(subject string) string {
	return strings.TrimPrefix(subject, SubjectExchangeMatched+".")
}

// PublishExchangeMatched publishes a match notification for one session.
func (c *NATSClient) PublishExchangeMatched(sessionID string, data []byte) error {
	return c.Publish(ExchangeMatchedSubject(sessionID), data)
}

// SubscribeExchangeMatched subscribes to match notifications. An empty
// sessionID subscribes to every session.
func (c *NATSClient) SubscribeExchangeMatched(sessionID string, handler func(sessionID string, data []byte)) error {
	subject := SubjectExchangeMatched + ".*"
	if sessionID != "" {
		subject = ExchangeMatchedSubject(sessionID)
	}
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(SessionFromSubject(msg.Subject), msg.Data)
	})
}

// UnsubscribeExchangeMatched removes a subscription made with the same
// sessionID.
func (c *NATSClient) UnsubscribeExchangeMatched(sessionID string) error {
	subject := SubjectExchangeMatched + ".*"
	if sessionID != "" {
		subject = ExchangeMatchedSubject(sessionID)
	}
	return c.unsubscribe(subject)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
