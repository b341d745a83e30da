package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sigmasight/internal/domain"
)

// CachedSource wraps a ReturnSource with an in-process cache. Concurrent
// requests for the same (symbol, range) collapse into one upstream call via
// singleflight; the factor engine hits the same benchmark series once per
// position otherwise.
type CachedSource struct {
	upstream ReturnSource
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]domain.ReturnSeries
}

// NewCachedSource wraps an upstream source.
func NewCachedSource(upstream ReturnSource) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		cache:    make(map[string]domain.ReturnSeries),
	}
}

// GetReturns serves from cache, collapsing concurrent upstream fetches.
func (c *CachedSource) GetReturns(ctx context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error) {
	key := cacheKey(symbol, start, end)

	c.mu.RLock()
	if series, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return series, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		series, err := c.upstream.GetReturns(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = series
		c.mu.Unlock()
		return series, nil
	})
	if err != nil {
		return domain.ReturnSeries{}, err
	}
	return v.(domain.ReturnSeries), nil
}

// Invalidate drops all cached series. Called between runs so a re-run for
// the same date sees fresh upstream data.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]domain.ReturnSeries)
}

func cacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%s", symbol, domain.FormatDay(start), domain.FormatDay(end))
}
