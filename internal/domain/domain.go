// Package domain holds the core data model shared by the batch pipeline,
// the factor exposure engine and the persistence layer: positions, return
// series and the exposure rows produced once per calculation date.
package domain

import (
	"time"
)

// InstrumentClass categorizes a position for factor regression eligibility.
type InstrumentClass string

const (
	InstrumentPublic  InstrumentClass = "PUBLIC"
	InstrumentOptions InstrumentClass = "OPTIONS"
	InstrumentPrivate InstrumentClass = "PRIVATE"
)

// OptionType is set for OPTIONS positions only.
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
	OptionTypeNone OptionType = ""
)

// Position is a single holding as of a calculation date. SignedQuantity
// carries direction: positive = long, negative = short. The sign must be
// preserved through every calculation stage.
type Position struct {
	ID              string          `json:"id" db:"id"`
	PortfolioID     string          `json:"portfolio_id" db:"portfolio_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	SignedQuantity  float64         `json:"signed_quantity" db:"signed_quantity"`
	MarketValue     float64         `json:"market_value" db:"market_value"`
	InstrumentClass InstrumentClass `json:"instrument_class" db:"instrument_class"`
	OptionType      OptionType      `json:"option_type,omitempty" db:"option_type"`
}

// RegressionEligible reports whether the position participates in factor
// regression. PRIVATE instruments have no market-correlated return series.
func (p Position) RegressionEligible() bool {
	return p.InstrumentClass == InstrumentPublic || p.InstrumentClass == InstrumentOptions
}

// Completeness tags how a portfolio-level exposure row was built: from all
// eligible positions, from a subset, or from the degraded portfolio-level
// fallback regression. Downstream consumers must branch on all three.
type Completeness string

const (
	CompletenessFull     Completeness = "full"
	CompletenessPartial  Completeness = "partial"
	CompletenessFallback Completeness = "fallback"
)

// PositionFactorExposure is one successful per-position regression result.
// Absence of a row for a (position, factor, date) combination signals
// insufficient overlapping data for that regression, not an error.
type PositionFactorExposure struct {
	PositionID      string    `json:"position_id" db:"position_id"`
	PortfolioID     string    `json:"portfolio_id" db:"portfolio_id"`
	FactorName      string    `json:"factor_name" db:"factor_name"`
	CalculationDate time.Time `json:"calculation_date" db:"calculation_date"`
	Beta            float64   `json:"beta" db:"beta"`
	Observations    int       `json:"observations" db:"observations"`
}

// PortfolioFactorExposure is the aggregated portfolio-level beta for one
// factor on one calculation date. Completeness is mandatory output.
type PortfolioFactorExposure struct {
	PortfolioID     string       `json:"portfolio_id" db:"portfolio_id"`
	FactorName      string       `json:"factor_name" db:"factor_name"`
	CalculationDate time.Time    `json:"calculation_date" db:"calculation_date"`
	Beta            float64      `json:"beta" db:"beta"`
	DollarExposure  float64      `json:"dollar_exposure" db:"dollar_exposure"`
	Completeness    Completeness `json:"completeness" db:"completeness"`
}

// Day normalizes a timestamp to a UTC calendar date. All calculation dates
// and return series observations are keyed this way.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// FormatDay renders a calendar date as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format("2006-01-02")
}
