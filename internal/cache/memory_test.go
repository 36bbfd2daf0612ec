package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	in := Result{Status: StatusSuccess, TxRef: "0xabc", Cost: 0.01}
	require.NoError(t, store.Set(ctx, "k", in))

	var out Result
	found, err := store.Get(ctx, "k", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "0xabc", out.TxRef)
	assert.True(t, out.Succeeded())

	require.NoError(t, store.Delete(ctx, "k"))
	found, err = store.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreExpiresAndPurgesOnGet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(300 * time.Second).WithClock(clock.Now)

	require.NoError(t, store.Set(ctx, "price", 1.25))

	clock.Advance(300 * time.Second)
	var price float64
	found, err := store.Get(ctx, "price", &price)
	require.NoError(t, err)
	assert.True(t, found, "entry exactly at ttl is still valid")

	clock.Advance(time.Second)
	found, err = store.Get(ctx, "price", &price)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len(), "expired entry is purged by Get")
}

func TestMemoryStorePurge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := NewMemoryStore(10 * time.Second).WithClock(clock.Now)

	require.NoError(t, store.Set(ctx, "old", 1))
	clock.Advance(20 * time.Second)
	require.NoError(t, store.Set(ctx, "new", 2))

	assert.Equal(t, 1, store.Purge())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = store.Set(ctx, "shared", v)
		}(i)
	}
	wg.Wait()

	var v int
	found, err := store.Get(ctx, "shared", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.GreaterOrEqual(t, v, 0)
	assert.Less(t, v, 50)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "snipe_ethereum_uniswap_0xT", SnipeKey("ethereum", "uniswap", "0xT"))
	assert.Equal(t, "exit_solana_Mint_12.5", ExitKey("solana", "Mint", 12.5))
	assert.Equal(t, "close_position_bsc_0xT_1000000000", ClosePositionKey("bsc", "0xT", time.Unix(1, 0)))
	assert.NotEqual(t, ClosePositionKey("bsc", "0xT", time.Unix(1, 0)), ClosePositionKey("bsc", "0xT", time.Unix(2, 0)))
	assert.Equal(t, "portfolio_value_2", PortfolioValueKey(time.Unix(600, 0), 300*time.Second))
	assert.Equal(t, "portfolio_value_2", PortfolioValueKey(time.Unix(899, 0), 300*time.Second))
}
