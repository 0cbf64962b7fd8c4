package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/tacoreservice/internal/cache"
)

// WithMarketDataCache wraps a get.market_data HandlerFunc so repeated
// lookups for the same symbol set are served from cache instead of
// hitting the handler again within the namespace's TTL.
func WithMarketDataCache(namespace cache.Namespace, c *cache.Cache, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		key := marketDataCacheKey(params)

		var cached map[string]any
		if ok, err := c.Get(ctx, namespace, key, &cached); err == nil && ok {
			return cached, nil
		}

		result, err := fn(ctx, params)
		if err != nil {
			return nil, err
		}

		if data, ok := result.(map[string]any); ok {
			c.Set(ctx, namespace, key, data)
		}
		return result, nil
	}
}

func marketDataCacheKey(params map[string]any) string {
	raw, _ := params["symbols"].([]any)
	symbols := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			symbols = append(symbols, str)
		}
	}
	sort.Strings(symbols)
	return fmt.Sprintf("symbols:%s", strings.Join(symbols, ","))
}
