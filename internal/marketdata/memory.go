package marketdata

import (
	"context"
	"sync"
	"time"

	"sigmasight/internal/domain"
)

// MemorySource is an in-process ReturnSource seeded with full series per
// symbol. Used by tests and local development.
type MemorySource struct {
	mu     sync.RWMutex
	series map[string]domain.ReturnSeries
}

// NewMemorySource creates an empty memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{series: make(map[string]domain.ReturnSeries)}
}

// SetReturns seeds the full series for a symbol, replacing any prior data.
func (m *MemorySource) SetReturns(symbol string, series domain.ReturnSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = series
}

// GetReturns returns the seeded series clipped to [start, end]. Unknown
// symbols yield ErrNoReturnData.
func (m *MemorySource) GetReturns(_ context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.series[symbol]
	if !ok {
		return domain.ReturnSeries{}, SymbolError(symbol)
	}
	return series.Window(start, end), nil
}
