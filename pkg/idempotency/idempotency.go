// Package idempotency provides the claim store that deduplicates trigger
// transactions and serializes digest window creation.
package idempotency

import (
	"context"
	"time"
)

// Store hands out single-winner claims. Claim is the dedup primitive: the
// first caller for a key wins and every later caller loses until the TTL
// expires. Lock and Unlock guard short critical sections such as opening a
// digest window.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees a claim so the owner can hand the key back after a
	// downstream failure instead of swallowing retries until the TTL.
	Release(ctx context.Context, key string) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}
