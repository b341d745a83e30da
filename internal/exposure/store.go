// Package exposure persists the factor exposure rows produced by the
// engine, keyed by calculation date so a re-run for the same date
// overwrites rather than duplicates.
package exposure

import (
	"context"
	"time"

	"sigmasight/internal/domain"
)

// Store upserts and reads exposure rows. Both upserts replace all prior
// rows for the (portfolio, calculation_date) scope, which makes batch
// re-runs idempotent.
type Store interface {
	UpsertPositionExposures(ctx context.Context, portfolioID string, date time.Time, rows []domain.PositionFactorExposure) error
	UpsertPortfolioExposures(ctx context.Context, portfolioID string, date time.Time, rows []domain.PortfolioFactorExposure) error
	GetPositionExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PositionFactorExposure, error)
	GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PortfolioFactorExposure, error)
}
