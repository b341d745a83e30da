// Package factors computes per-position and portfolio-level risk factor
// exposures: OLS betas against benchmark return series, market-value
// weighted aggregation, and the degraded portfolio-level fallback when no
// position-level regression succeeds.
package factors

// FactorCategory splits the factor universe by benchmark construction.
type FactorCategory string

const (
	// CategoryCore factors regress against a single benchmark ETF.
	CategoryCore FactorCategory = "CORE"
	// CategorySpread factors regress against a long/short combination of
	// two benchmark series.
	CategorySpread FactorCategory = "SPREAD"
)

// Default regression windows. Core factors use a short window to stay
// responsive; spread factors need the longer window for a usable signal.
const (
	CoreLookbackDays   = 90
	SpreadLookbackDays = 180
	MinRequiredDays    = 60
)

// FactorDefinition describes one risk factor and its regression window.
type FactorDefinition struct {
	Name            string         `json:"name"`
	Category        FactorCategory `json:"category"`
	Benchmark       string         `json:"benchmark"`
	ShortBenchmark  string         `json:"short_benchmark,omitempty"` // spread factors: series is Benchmark minus ShortBenchmark
	LookbackDays    int            `json:"lookback_days"`
	MinRequiredDays int            `json:"min_required_days"`
}

// IsSpread reports whether the factor is a long/short spread.
func (f FactorDefinition) IsSpread() bool {
	return f.Category == CategorySpread
}

// BenchmarkSymbols returns the benchmark symbols this factor needs.
func (f FactorDefinition) BenchmarkSymbols() []string {
	if f.IsSpread() {
		return []string{f.Benchmark, f.ShortBenchmark}
	}
	return []string{f.Benchmark}
}

func core(name, benchmark string) FactorDefinition {
	return FactorDefinition{
		Name:            name,
		Category:        CategoryCore,
		Benchmark:       benchmark,
		LookbackDays:    CoreLookbackDays,
		MinRequiredDays: MinRequiredDays,
	}
}

func spread(name, long, short string) FactorDefinition {
	return FactorDefinition{
		Name:            name,
		Category:        CategorySpread,
		Benchmark:       long,
		ShortBenchmark:  short,
		LookbackDays:    SpreadLookbackDays,
		MinRequiredDays: MinRequiredDays,
	}
}

// DefaultFactors is the standard factor universe: seven single-benchmark
// core factors and four spread factors built from ETF proxies.
func DefaultFactors() []FactorDefinition {
	return []FactorDefinition{
		core("Market", "SPY"),
		core("Size", "IWM"),
		core("Value", "VTV"),
		core("Growth", "VUG"),
		core("Momentum", "MTUM"),
		core("Quality", "QUAL"),
		core("Volatility", "USMV"),
		spread("Growth-Value Spread", "VUG", "VTV"),
		spread("Quality Spread", "QUAL", "SPY"),
		spread("Momentum Spread", "MTUM", "SPY"),
		spread("Size Spread", "IWM", "SPY"),
	}
}
