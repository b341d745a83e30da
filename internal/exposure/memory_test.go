package exposure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigmasight/internal/domain"
)

func portfolioRow(factor string, beta float64) domain.PortfolioFactorExposure {
	return domain.PortfolioFactorExposure{
		PortfolioID:  "pf-1",
		FactorName:   factor,
		Beta:         beta,
		Completeness: domain.CompletenessFull,
	}
}

func TestMemoryStoreUpsertReplacesScope(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	first := []domain.PortfolioFactorExposure{
		portfolioRow("Market", 1.1),
		portfolioRow("Size", 0.4),
	}
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", date, first))

	// A re-run writes fewer rows; the old ones must not survive.
	second := []domain.PortfolioFactorExposure{portfolioRow("Market", 0.9)}
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", date, second))

	rows, err := store.GetPortfolioExposures(ctx, "pf-1", date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Market", rows[0].FactorName)
	assert.Equal(t, 0.9, rows[0].Beta)
}

func TestMemoryStoreScopesAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	tuesday := time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", monday,
		[]domain.PortfolioFactorExposure{portfolioRow("Market", 1.0)}))
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", tuesday,
		[]domain.PortfolioFactorExposure{portfolioRow("Market", 1.2)}))
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-2", monday,
		[]domain.PortfolioFactorExposure{portfolioRow("Market", 0.5)}))

	rows, err := store.GetPortfolioExposures(ctx, "pf-1", monday)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].Beta)

	rows, err = store.GetPortfolioExposures(ctx, "pf-1", tuesday)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.2, rows[0].Beta)

	rows, err = store.GetPortfolioExposures(ctx, "pf-2", monday)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.5, rows[0].Beta)
}

func TestMemoryStoreDateNormalization(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	written := time.Date(2026, 1, 30, 14, 30, 0, 0, time.UTC)
	queried := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertPositionExposures(ctx, "pf-1", written,
		[]domain.PositionFactorExposure{{
			PositionID:  "pos-1",
			PortfolioID: "pf-1",
			FactorName:  "Market",
			Beta:        1.05,
		}}))

	rows, err := store.GetPositionExposures(ctx, "pf-1", queried)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pos-1", rows[0].PositionID)
}

func TestMemoryStoreEmptyScope(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	rows, err := store.GetPortfolioExposures(ctx, "unknown", date)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Writing an empty row set still clears the scope.
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", date,
		[]domain.PortfolioFactorExposure{portfolioRow("Market", 1.0)}))
	require.NoError(t, store.UpsertPortfolioExposures(ctx, "pf-1", date, nil))

	rows, err = store.GetPortfolioExposures(ctx, "pf-1", date)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
