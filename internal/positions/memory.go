package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sigmasight/internal/domain"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string][]domain.Position
	failing map[string]error
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string][]domain.Position),
		failing: make(map[string]error),
	}
}

// SetPositions seeds the holdings for a portfolio.
func (m *MemoryStore) SetPositions(portfolioID string, positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[portfolioID] = append([]domain.Position(nil), positions...)
}

// FailPortfolio makes lookups for a portfolio return the given error,
// simulating an unavailable upstream store.
func (m *MemoryStore) FailPortfolio(portfolioID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[portfolioID] = err
}

// GetPositions returns the seeded positions for a portfolio.
func (m *MemoryStore) GetPositions(_ context.Context, portfolioID string, _ time.Time) ([]domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, ok := m.failing[portfolioID]; ok {
		return nil, err
	}
	positions, ok := m.byID[portfolioID]
	if !ok {
		return nil, fmt.Errorf("portfolio %s not found", portfolioID)
	}
	return append([]domain.Position(nil), positions...), nil
}

// ListActivePortfolios returns all seeded portfolio IDs, sorted.
func (m *MemoryStore) ListActivePortfolios(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
