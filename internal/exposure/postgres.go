package exposure

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sigmasight/internal/domain"
)

// PostgresStore persists exposures in postgres. Upserts run in one
// transaction: delete the scope, insert the new rows. A second run for the
// same calculation date therefore overwrites instead of duplicating.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a postgres-backed exposure store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertPositionExposures replaces all position rows for the scope.
func (s *PostgresStore) UpsertPositionExposures(ctx context.Context, portfolioID string, date time.Time, rows []domain.PositionFactorExposure) error {
	day := domain.Day(date)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin position exposure upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM position_factor_exposures WHERE portfolio_id = $1 AND calculation_date = $2`,
		portfolioID, day); err != nil {
		return fmt.Errorf("clear position exposures for %s: %w", portfolioID, err)
	}

	const insert = `
		INSERT INTO position_factor_exposures
			(position_id, portfolio_id, factor_name, calculation_date, beta, observations)
		VALUES (:position_id, :portfolio_id, :factor_name, :calculation_date, :beta, :observations)`
	for _, row := range rows {
		row.CalculationDate = day
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return fmt.Errorf("insert position exposure %s/%s: %w", row.PositionID, row.FactorName, err)
		}
	}
	return tx.Commit()
}

// UpsertPortfolioExposures replaces all portfolio rows for the scope.
func (s *PostgresStore) UpsertPortfolioExposures(ctx context.Context, portfolioID string, date time.Time, rows []domain.PortfolioFactorExposure) error {
	day := domain.Day(date)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin portfolio exposure upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM portfolio_factor_exposures WHERE portfolio_id = $1 AND calculation_date = $2`,
		portfolioID, day); err != nil {
		return fmt.Errorf("clear portfolio exposures for %s: %w", portfolioID, err)
	}

	const insert = `
		INSERT INTO portfolio_factor_exposures
			(portfolio_id, factor_name, calculation_date, beta, dollar_exposure, completeness)
		VALUES (:portfolio_id, :factor_name, :calculation_date, :beta, :dollar_exposure, :completeness)`
	for _, row := range rows {
		row.CalculationDate = day
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return fmt.Errorf("insert portfolio exposure %s/%s: %w", row.PortfolioID, row.FactorName, err)
		}
	}
	return tx.Commit()
}

// GetPositionExposures returns the position rows for the scope.
func (s *PostgresStore) GetPositionExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PositionFactorExposure, error) {
	const query = `
		SELECT position_id, portfolio_id, factor_name, calculation_date, beta, observations
		FROM position_factor_exposures
		WHERE portfolio_id = $1 AND calculation_date = $2
		ORDER BY position_id, factor_name`

	var rows []domain.PositionFactorExposure
	if err := s.db.SelectContext(ctx, &rows, query, portfolioID, domain.Day(date)); err != nil {
		return nil, fmt.Errorf("select position exposures for %s: %w", portfolioID, err)
	}
	return rows, nil
}

// GetPortfolioExposures returns the portfolio rows for the scope.
func (s *PostgresStore) GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PortfolioFactorExposure, error) {
	const query = `
		SELECT portfolio_id, factor_name, calculation_date, beta, dollar_exposure, completeness
		FROM portfolio_factor_exposures
		WHERE portfolio_id = $1 AND calculation_date = $2
		ORDER BY factor_name`

	var rows []domain.PortfolioFactorExposure
	if err := s.db.SelectContext(ctx, &rows, query, portfolioID, domain.Day(date)); err != nil {
		return nil, fmt.Errorf("select portfolio exposures for %s: %w", portfolioID, err)
	}
	return rows, nil
}
