package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimFirstCallerWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	won, err := store.Claim(ctx, "trigger:env-1:txn-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Claim(ctx, "trigger:env-1:txn-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = store.Claim(ctx, "trigger:env-1:txn-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	won, err := store.Claim(ctx, "txn-1", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, won)

	time.Sleep(5 * time.Millisecond)

	won, err = store.Claim(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestLockUnlockAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	won, err := store.Lock(ctx, "digest:env-1:user-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Lock(ctx, "digest:env-1:user-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, store.Unlock(ctx, "digest:env-1:user-1"))

	won, err = store.Lock(ctx, "digest:env-1:user-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestLockAndClaimKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	won, err := store.Claim(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Lock(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestReleaseFreesClaimImmediately(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	won, err := store.Claim(ctx, "txn-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, store.Release(ctx, "txn-1"))

	won, err = store.Claim(ctx, "txn-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)
}
