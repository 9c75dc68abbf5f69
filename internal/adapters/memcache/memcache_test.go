package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsim/internal/domain"
)

func TestQuoteCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := NewQuoteCache()

	quote := &domain.Quote{LTP: 101.5, Bid: 101.0, Ask: 102.0}
	require.NoError(t, cache.Set(ctx, "NSE_FO|12345", quote, time.Minute))

	got, err := cache.Get(ctx, "NSE_FO|12345")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 101.5, got.LTP)
}

func TestQuoteCache_MissReturnsNil(t *testing.T) {
	cache := NewQuoteCache()
	got, err := cache.Get(context.Background(), "NSE_FO|nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQuoteCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewQuoteCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "NSE_FO|12345", &domain.Quote{LTP: 50}, 10*time.Second))

	// Still valid just before the deadline.
	now = now.Add(9 * time.Second)
	got, err := cache.Get(ctx, "NSE_FO|12345")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Gone after TTL.
	now = now.Add(2 * time.Second)
	got, err = cache.Get(ctx, "NSE_FO|12345")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, cache.Len())
}

func TestQuoteCache_OverwriteRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewQuoteCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "k", &domain.Quote{LTP: 1}, 10*time.Second))
	now = now.Add(8 * time.Second)
	require.NoError(t, cache.Set(ctx, "k", &domain.Quote{LTP: 2}, 10*time.Second))

	now = now.Add(8 * time.Second)
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, got.LTP)
}

func TestLockTable_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	locks := NewLockTable()

	ok, err := locks.TryAcquire(ctx, "lock:order:1:NSE_FO|12345", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquisition while held fails.
	ok, err = locks.TryAcquire(ctx, "lock:order:1:NSE_FO|12345", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.Release(ctx, "lock:order:1:NSE_FO|12345"))
	ok, err = locks.TryAcquire(ctx, "lock:order:1:NSE_FO|12345", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockTable_ExpiredLockIsReacquirable(t *testing.T) {
	ctx := context.Background()
	locks := NewLockTable()
	now := time.Now()
	locks.now = func() time.Time { return now }

	ok, err := locks.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = locks.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockTable_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	locks := NewLockTable()

	ok, _ := locks.TryAcquire(ctx, "lock:order:1:A", time.Second)
	require.True(t, ok)
	ok, _ = locks.TryAcquire(ctx, "lock:order:1:B", time.Second)
	assert.True(t, ok)
	ok, _ = locks.TryAcquire(ctx, "lock:order:2:A", time.Second)
	assert.True(t, ok)
}
