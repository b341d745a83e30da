// Package marketdata defines the return series boundary the factor engine
// consumes. Acquisition of the underlying price data is a collaborator
// concern; this package only contracts the shape and adds caching.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sigmasight/internal/domain"
)

// ErrNoReturnData is returned when the upstream source cannot supply any
// series for a symbol. Fatal for a single portfolio's factor computation,
// never for the whole batch.
var ErrNoReturnData = errors.New("no return data available")

// ReturnSource supplies date-indexed periodic returns for a symbol. The
// returned series may cover less than the requested range; callers must
// handle partial history via alignment and minimum-day thresholds.
type ReturnSource interface {
	GetReturns(ctx context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error)
}

// SymbolError wraps ErrNoReturnData with the symbol that failed.
func SymbolError(symbol string) error {
	return fmt.Errorf("symbol %s: %w", symbol, ErrNoReturnData)
}
