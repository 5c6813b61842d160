// Package ledger is the time-bounded denylist of revoked tokens, backed by
// Redis. Entries expire together with the tokens they shadow, so the ledger
// never grows past the set of live credentials.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistPrefix   = "blacklist:"
	refreshSlotPrefix = "refresh:"
	scanBatch         = 100
)

// Runner routes ledger I/O through the cache-store resilience manager.
type Runner interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

type passthrough struct{}

func (passthrough) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Ledger records revoked tokens and per-user refresh slots.
type Ledger struct {
	rdb    *redis.Client
	runner Runner
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRunner routes every operation through the given resilience manager.
func WithRunner(r Runner) Option {
	return func(l *Ledger) {
		if r != nil {
			l.runner = r
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Ledger over the shared Redis client.
func New(rdb *redis.Client, opts ...Option) *Ledger {
	l := &Ledger{rdb: rdb, runner: passthrough{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Blacklist denylists a token until its natural expiry. Returns false when
// the token is already expired: a harmless token gets no entry.
func (l *Ledger) Blacklist(ctx context.Context, tok string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		return false, nil
	}
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		return l.rdb.Set(ctx, blacklistPrefix+tok, "1", ttl).Err()
	})
	if err != nil {
		return false, fmt.Errorf("ledger: blacklist: %w", err)
	}
	return true, nil
}

// IsBlacklisted reports whether a token has been revoked.
func (l *Ledger) IsBlacklisted(ctx context.Context, tok string) (bool, error) {
	var n int64
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = l.rdb.Exists(ctx, blacklistPrefix+tok).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("ledger: blacklist lookup: %w", err)
	}
	return n > 0, nil
}

// RecordRefreshSlot tracks one outstanding refresh token for a user. The
// slot's TTL mirrors the token expiry.
func (l *Ledger) RecordRefreshSlot(ctx context.Context, userID, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		return l.rdb.Set(ctx, refreshSlotKey(userID, tokenID), "1", ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("ledger: record refresh slot: %w", err)
	}
	return nil
}

// HasRefreshSlot reports whether the given refresh token is still
// outstanding for the user.
func (l *Ledger) HasRefreshSlot(ctx context.Context, userID, tokenID string) (bool, error) {
	var n int64
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = l.rdb.Exists(ctx, refreshSlotKey(userID, tokenID)).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("ledger: refresh slot lookup: %w", err)
	}
	return n > 0, nil
}

// RevokeRefreshSlot removes a single outstanding refresh slot. Deleting a
// slot that is already gone is not an error.
func (l *Ledger) RevokeRefreshSlot(ctx context.Context, userID, tokenID string) error {
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		return l.rdb.Del(ctx, refreshSlotKey(userID, tokenID)).Err()
	})
	if err != nil {
		return fmt.Errorf("ledger: revoke refresh slot: %w", err)
	}
	return nil
}

// RevokeAllRefreshSlots deletes every outstanding refresh slot for the user
// and returns the number of slots removed. Calling it again deletes nothing
// and never errors: the operation is idempotent.
func (l *Ledger) RevokeAllRefreshSlots(ctx context.Context, userID string) (int, error) {
	var deleted int64
	err := l.runner.Do(ctx, func(ctx context.Context) error {
		iter := l.rdb.Scan(ctx, 0, refreshSlotPrefix+userID+":*", scanBatch).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) == scanBatch {
				n, err := l.rdb.Del(ctx, keys...).Result()
				if err != nil {
					return err
				}
				deleted += n
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			n, err := l.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: revoke refresh slots: %w", err)
	}
	return int(deleted), nil
}

func refreshSlotKey(userID, tokenID string) string {
	return refreshSlotPrefix + userID + ":" + tokenID
}
