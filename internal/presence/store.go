// Package presence mirrors live session state into Redis for operational
// visibility: which user is connected where, and which rooms they joined.
// It is never the ground truth for room membership — the in-process registry
// is what fan-out reads, and the relational store is what project membership
// reads. Presence keys expire on their own if a server dies without cleanup.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/board-app/internal/board"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys.
	TTL = 1 * time.Hour
)

// Entry is a session's presence record as stored in Redis.
type Entry struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	UserName   string `redis:"user_name"`
	Server     string `redis:"server"`
	Rooms      string `redis:"rooms"` // comma-separated project IDs
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a presence record for a newly established session.
func (s *Store) Create(ctx context.Context, sessionID string, user board.User) error {
	key := KeyPrefix + sessionID
	now := time.Now().Unix()

	entry := map[string]interface{}{
		"id":          sessionID,
		"user_id":     user.ID,
		"user_name":   user.Name,
		"server":      s.serverName,
		"rooms":       "",
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Entry, error) {
	key := KeyPrefix + sessionID
	var entry Entry
	if err := s.client.HGetAll(ctx, key).Scan(&entry); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, nil // not found
	}
	return &entry, nil
}

// SetRooms records the session's current room subscriptions and refreshes
// the TTL.
func (s *Store) SetRooms(ctx context.Context, sessionID string, rooms []string) error {
	key := KeyPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "rooms", strings.Join(rooms, ","), "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes the last_active timestamp and the TTL. Called from the
// heartbeat path.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := KeyPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session's presence record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, KeyPrefix+sessionID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter and invitation store share the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}
