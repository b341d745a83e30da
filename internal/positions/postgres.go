package positions

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sigmasight/internal/domain"
)

// PostgresStore reads positions from the position snapshot table written by
// the import pipeline.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a postgres-backed position store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetPositions returns the portfolio's positions as of the given date.
func (s *PostgresStore) GetPositions(ctx context.Context, portfolioID string, asOf time.Time) ([]domain.Position, error) {
	const query = `
		SELECT id, portfolio_id, symbol, signed_quantity, market_value, instrument_class, option_type
		FROM positions
		WHERE portfolio_id = $1 AND as_of_date = $2`

	var out []domain.Position
	if err := s.db.SelectContext(ctx, &out, query, portfolioID, domain.Day(asOf)); err != nil {
		return nil, fmt.Errorf("select positions for %s: %w", portfolioID, err)
	}
	return out, nil
}

// ListActivePortfolios returns the ids of portfolios marked active.
func (s *PostgresStore) ListActivePortfolios(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM portfolios WHERE active ORDER BY id`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active portfolios: %w", err)
	}
	return ids, nil
}
