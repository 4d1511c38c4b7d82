package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and cleans
// up test keys. Tests that call this helper require a running Redis on
// localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewStore(client)
}

func TestIssueAndRedeem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv, err := store.Issue(ctx, "proj-1", "u-owner", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if inv.Token == "" {
		t.Fatal("expected a token")
	}

	redeemed, err := store.Redeem(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if redeemed.ProjectID != "proj-1" || redeemed.InviterID != "u-owner" {
		t.Errorf("unexpected invitation: %+v", redeemed)
	}
}

func TestRedeemIsOneShot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv, err := store.Issue(ctx, "proj-1", "u-owner", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := store.Redeem(ctx, inv.Token); err != nil {
		t.Fatalf("first Redeem() error: %v", err)
	}
	if _, err := store.Redeem(ctx, inv.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on second redeem, got %v", err)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Redeem(context.Background(), "no-such-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestConcurrentRedeemExactlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv, err := store.Issue(ctx, "proj-1", "u-owner", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Redeem(ctx, inv.Token); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 successful redeem, got %d", won)
	}
}
