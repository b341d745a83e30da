package exposure

import (
	"context"
	"sync"
	"time"

	"sigmasight/internal/domain"
)

type scopeKey struct {
	portfolioID string
	date        time.Time
}

// MemoryStore is the in-process exposure store used by tests and local
// development. It reproduces the replace-per-scope upsert semantics of the
// postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	position  map[scopeKey][]domain.PositionFactorExposure
	portfolio map[scopeKey][]domain.PortfolioFactorExposure
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		position:  make(map[scopeKey][]domain.PositionFactorExposure),
		portfolio: make(map[scopeKey][]domain.PortfolioFactorExposure),
	}
}

// UpsertPositionExposures replaces all position rows for the scope.
func (m *MemoryStore) UpsertPositionExposures(_ context.Context, portfolioID string, date time.Time, rows []domain.PositionFactorExposure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position[scopeKey{portfolioID, domain.Day(date)}] = append([]domain.PositionFactorExposure(nil), rows...)
	return nil
}

// UpsertPortfolioExposures replaces all portfolio rows for the scope.
func (m *MemoryStore) UpsertPortfolioExposures(_ context.Context, portfolioID string, date time.Time, rows []domain.PortfolioFactorExposure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio[scopeKey{portfolioID, domain.Day(date)}] = append([]domain.PortfolioFactorExposure(nil), rows...)
	return nil
}

// GetPositionExposures returns the position rows for the scope.
func (m *MemoryStore) GetPositionExposures(_ context.Context, portfolioID string, date time.Time) ([]domain.PositionFactorExposure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.position[scopeKey{portfolioID, domain.Day(date)}]
	return append([]domain.PositionFactorExposure(nil), rows...), nil
}

// GetPortfolioExposures returns the portfolio rows for the scope.
func (m *MemoryStore) GetPortfolioExposures(_ context.Context, portfolioID string, date time.Time) ([]domain.PortfolioFactorExposure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.portfolio[scopeKey{portfolioID, domain.Day(date)}]
	return append([]domain.PortfolioFactorExposure(nil), rows...), nil
}
