package sso

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-labs/almacen/pkg/config"
)

func TestMemoryStoreConsumeIsSingleUse(t *testing.T) {
	store := NewMemoryStateStore(nil)
	defer store.Close()
	ctx := context.Background()

	rec := &PendingAuthorization{
		Nonce: "n1", Mode: ModeLogin, Verifier: "v1", CreatedAt: time.Now(),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Verifier)

	_, err = store.Consume(ctx, "n1")
	assert.ErrorIs(t, err, ErrStateNotFound, "replay must fail")
}

func TestMemoryStoreUnknownNonce(t *testing.T) {
	store := NewMemoryStateStore(nil)
	defer store.Close()

	_, err := store.Consume(context.Background(), "never-stored")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestMemoryStoreSweepDropsExpired(t *testing.T) {
	store := NewMemoryStateStore(nil)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &PendingAuthorization{Nonce: "old", Verifier: "v"}))
	store.mu.Lock()
	entry := store.entries["old"]
	entry.expiresAt = time.Now().Add(-time.Minute)
	store.entries["old"] = entry
	store.mu.Unlock()

	store.sweep()

	_, err := store.Consume(ctx, "old")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func newTestRedisStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStateStore(context.Background(), config.RedisConfig{
		URL: "redis://" + mr.Addr(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreConsumeIsSingleUse(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	rec := &PendingAuthorization{
		Nonce: "n1", Mode: ModeLink, OriginalUserID: "u1",
		Verifier: "v1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, ModeLink, got.Mode)
	assert.Equal(t, "u1", got.OriginalUserID)
	assert.Equal(t, "v1", got.Verifier)

	_, err = store.Consume(ctx, "n1")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &PendingAuthorization{Nonce: "n1", Verifier: "v1"}))
	mr.FastForward(StateTTL + time.Second)

	_, err := store.Consume(ctx, "n1")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
