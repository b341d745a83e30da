package factors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegressKnownSlope(t *testing.T) {
	// y = 1.5x + 0.002, exactly.
	x := []float64{-0.02, -0.01, 0.0, 0.01, 0.02, 0.03}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 1.5*xi + 0.002
	}

	result, err := Regress(y, x, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, result.Beta, 1e-12)
	assert.InDelta(t, 0.002, result.Alpha, 1e-12)
	assert.InDelta(t, 1.0, result.RSquared, 1e-12)
	assert.Equal(t, len(x), result.Observations)
}

func TestRegressNegativeBeta(t *testing.T) {
	x := []float64{0.01, 0.02, 0.03, 0.04}
	y := []float64{-0.008, -0.016, -0.024, -0.032}

	result, err := Regress(y, x, 2)
	require.NoError(t, err)
	assert.InDelta(t, -0.8, result.Beta, 1e-12)
}

func TestRegressNoisyFit(t *testing.T) {
	// Residuals present: R-squared strictly between 0 and 1, beta still
	// recovers the dominant slope.
	x := []float64{-0.03, -0.02, -0.01, 0.0, 0.01, 0.02, 0.03}
	y := []float64{-0.061, -0.039, -0.021, 0.002, 0.019, 0.042, 0.058}

	result, err := Regress(y, x, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result.Beta, 0.05)
	assert.Greater(t, result.RSquared, 0.99)
	assert.Less(t, result.RSquared, 1.0)
}

func TestRegressInsufficientData(t *testing.T) {
	x := []float64{0.01, 0.02, 0.03}
	y := []float64{0.02, 0.04, 0.06}

	_, err := Regress(y, x, 60)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// Mismatched slice lengths count as insufficiency, not a panic.
	_, err = Regress(y[:2], x, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// Fewer than two points can never fit a line, whatever minObs says.
	_, err = Regress([]float64{0.01}, []float64{0.01}, 0)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRegressZeroVariance(t *testing.T) {
	x := []float64{0.01, 0.01, 0.01, 0.01}
	y := []float64{0.02, 0.03, 0.01, 0.04}

	_, err := Regress(y, x, 2)
	assert.ErrorIs(t, err, ErrZeroVariance)
}

func TestRegressConstantResponse(t *testing.T) {
	// Zero variance in y is fine: a flat line with beta 0 and R-squared 0.
	x := []float64{0.01, 0.02, 0.03, 0.04}
	y := []float64{0.005, 0.005, 0.005, 0.005}

	result, err := Regress(y, x, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.Beta, 1e-12)
	assert.InDelta(t, 0.005, result.Alpha, 1e-12)
	assert.Zero(t, result.RSquared)
}

func TestSkippable(t *testing.T) {
	assert.True(t, Skippable(ErrInsufficientData))
	assert.True(t, Skippable(ErrZeroVariance))
	assert.False(t, Skippable(assert.AnError))
	assert.False(t, Skippable(nil))
}

func TestDefaultFactorUniverse(t *testing.T) {
	factors := DefaultFactors()
	require.Len(t, factors, 11)

	var core, spread int
	for _, f := range factors {
		switch f.Category {
		case CategoryCore:
			core++
			assert.Equal(t, CoreLookbackDays, f.LookbackDays, f.Name)
			assert.Len(t, f.BenchmarkSymbols(), 1, f.Name)
		case CategorySpread:
			spread++
			assert.Equal(t, SpreadLookbackDays, f.LookbackDays, f.Name)
			assert.Len(t, f.BenchmarkSymbols(), 2, f.Name)
			assert.NotEmpty(t, f.ShortBenchmark, f.Name)
		}
		assert.Equal(t, MinRequiredDays, f.MinRequiredDays, f.Name)
	}
	assert.Equal(t, 7, core)
	assert.Equal(t, 4, spread)
}
