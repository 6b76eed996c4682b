package aggregate

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfive/ledgerview/pkg/types"
)

// Set REDIS_ADDR to run against a live server.
func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	clock := newFakeClock()
	prefix := fmt.Sprintf("ledgerview-test:%d:", time.Now().UnixNano())
	cache := NewRedisCache[types.Earnings](client, prefix, 30*time.Second, clock.Now, zerolog.Nop())
	defer cache.Clear(ctx)

	vm := FallbackEarnings(testAccount.Address, clock.Now())
	vm.Available = dec("25.5")
	cache.Put(ctx, testAccount.Key(), vm)

	got, ok := cache.Get(ctx, testAccount.Key())
	require.True(t, ok)
	assert.True(t, got.Available.Equal(dec("25.5")))
	assert.Len(t, got.Streams, len(types.Streams()))

	clock.Advance(31 * time.Second)
	_, ok = cache.Get(ctx, testAccount.Key())
	assert.False(t, ok, "entry past ttl must not be served")

	cache.Put(ctx, testAccount.Key(), vm)
	cache.Clear(ctx)
	_, ok = cache.Get(ctx, testAccount.Key())
	assert.False(t, ok)
}

func TestAggregator_UsesRedisWhenConfigured(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	reader := newFakeReader()
	cfg := testConfig(newFakeClock())
	cfg.Redis = client
	cfg.RedisPrefix = fmt.Sprintf("ledgerview-test:%d:", time.Now().UnixNano())

	first := NewReferrals(reader, cfg)
	defer first.Clear(ctx)
	_, err = first.GetViewModel(ctx, testAccount)
	require.NoError(t, err)
	calls := reader.totalCalls()

	// a second replica sharing the prefix is served from the shared cache
	second := NewReferrals(reader, cfg)
	_, err = second.GetViewModel(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, calls, reader.totalCalls())
}
