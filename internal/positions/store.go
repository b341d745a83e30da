// Package positions contracts read access to portfolio holdings. Import
// and sign correctness of the underlying data is an upstream concern; this
// package only reads.
package positions

import (
	"context"
	"time"

	"sigmasight/internal/domain"
)

// Store supplies positions per portfolio as of a calculation date and
// resolves the active portfolio universe for unscoped batch runs.
type Store interface {
	GetPositions(ctx context.Context, portfolioID string, asOf time.Time) ([]domain.Position, error)
	ListActivePortfolios(ctx context.Context) ([]string, error)
}
