// Package invite provides Redis-backed invitation tokens. A token grants
// one user membership in one project, expires on its own after the TTL, and
// can be redeemed exactly once.
package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulse/board-app/internal/board"
)

const (
	// KeyPrefix is the Redis key prefix for invitation hashes.
	KeyPrefix = "invite:"

	// DefaultTTL is how long an unredeemed invitation stays valid.
	DefaultTTL = 72 * time.Hour
)

// ErrInvalidToken is returned when a token is unknown, expired, or already
// redeemed.
var ErrInvalidToken = errors.New("invite: invalid or expired token")

// Store manages invitation tokens in Redis.
type Store struct {
	rdb          *redis.Client
	redeemScript *redis.Script
}

// NewStore creates an invitation store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		redeemScript: redis.NewScript(redeemLua),
	}
}

// Issue creates a new invitation token for a project. A non-positive ttl
// falls back to DefaultTTL.
func (s *Store) Issue(ctx context.Context, projectID, inviterID string, ttl time.Duration) (*board.Invitation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token := uuid.New().String()
	key := KeyPrefix + token

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"project_id": projectID,
		"inviter_id": inviterID,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("invite: issue: %w", err)
	}

	return &board.Invitation{
		Token:     token,
		ProjectID: projectID,
		InviterID: inviterID,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Redeem atomically consumes a token and returns the invitation it carried.
// A token can be redeemed only once; concurrent redeems race on the Lua
// script and exactly one wins.
func (s *Store) Redeem(ctx context.Context, token string) (*board.Invitation, error) {
	key := KeyPrefix + token

	res, err := s.redeemScript.Run(ctx, s.rdb, []string{key}).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("invite: redeem: %w", err)
	}
	if len(res) != 2 || res[0] == "" {
		return nil, ErrInvalidToken
	}

	return &board.Invitation{
		Token:     token,
		ProjectID: res[0],
		InviterID: res[1],
	}, nil
}

// redeemLua atomically reads and deletes an invitation hash, so a token can
// never be consumed twice.
const redeemLua = `
local key = KEYS[1]

local project_id = redis.call('HGET', key, 'project_id')
if not project_id then return nil end

local inviter_id = redis.call('HGET', key, 'inviter_id')
redis.call('DEL', key)

return {project_id, inviter_id}
`
