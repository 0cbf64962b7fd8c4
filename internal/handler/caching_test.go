package handler

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tacoreservice/internal/cache"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	return cache.New(cache.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
}

func TestWithMarketDataCacheServesSecondCallFromCache(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	fn := func(_ context.Context, _ map[string]any) (any, error) {
		calls++
		return map[string]any{"symbols": map[string]any{"AAPL": 1}}, nil
	}

	wrapped := WithMarketDataCache(cache.NamespaceMarketData, c, fn)
	params := map[string]any{"symbols": []any{"AAPL"}}

	_, err := wrapped(context.Background(), params)
	require.NoError(t, err)
	_, err = wrapped(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestWithMarketDataCacheDistinguishesSymbolSets(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	fn := func(_ context.Context, params map[string]any) (any, error) {
		calls++
		return map[string]any{"params": params}, nil
	}

	wrapped := WithMarketDataCache(cache.NamespaceMarketData, c, fn)
	ctx := context.Background()

	_, err := wrapped(ctx, map[string]any{"symbols": []any{"AAPL"}})
	require.NoError(t, err)
	_, err = wrapped(ctx, map[string]any{"symbols": []any{"MSFT"}})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}
