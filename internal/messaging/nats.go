// Package messaging provides a NATS client wrapper for the board event
// feed. Every domain event the dispatcher delivers in-process is mirrored to
// a board.events.<projectID> subject for external consumers (the auditor,
// integrations). The feed is strictly outbound from the server's point of
// view: room fan-out never depends on it, and a NATS outage degrades only
// the feed, never the broadcast.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulse/board-app/internal/board"
)

// SubjectEvents is the subject prefix for the event feed; the project ID is
// appended as the final token.
const SubjectEvents = "board.events"

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "pulse-board",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection with helpers for the event feed.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			} else {
				log.Printf("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("nats: connected to %s", nc.ConnectedUrl())

	return &Client{conn: nc}, nil
}

// MirrorEvent publishes a dispatched event frame to the project's feed
// subject. It satisfies the dispatcher's Mirror interface.
func (c *Client) MirrorEvent(roomID string, kind board.EventKind, frame []byte) error {
	return c.conn.Publish(SubjectEvents+"."+roomID, frame)
}

// SubscribeEvents subscribes to the feed for every project. The handler
// receives the project ID (parsed from the subject) and the raw event frame.
func (c *Client) SubscribeEvents(handler func(projectID string, frame []byte)) error {
	subject := SubjectEvents + ".*"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		parts := strings.Split(msg.Subject, ".")
		handler(parts[len(parts)-1], msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("nats: drain %s: %v", sub.Subject, err)
		}
	}
	c.subs = nil

	if err := c.conn.Drain(); err != nil {
		log.Printf("nats: connection drain: %v", err)
	}

	log.Printf("nats: client closed")
}
