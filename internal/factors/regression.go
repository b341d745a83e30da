package factors

import (
	"errors"
)

// Data-sufficiency conditions. Both mean "skip this regression", never
// "abort the factor computation".
var (
	ErrInsufficientData = errors.New("insufficient overlapping observations")
	ErrZeroVariance     = errors.New("regressor has zero variance over the window")
)

// RegressionResult holds the fitted single-regressor OLS line.
type RegressionResult struct {
	Beta         float64 `json:"beta"`
	Alpha        float64 `json:"alpha"`
	RSquared     float64 `json:"r_squared"`
	Observations int     `json:"observations"`
}

// Regress fits y = alpha + beta*x by ordinary least squares on the aligned
// observation slices. It returns ErrInsufficientData when fewer than minObs
// pairs are available and ErrZeroVariance when the regressor is degenerate
// over the window. Betas are left unrounded; display rounding belongs to
// the presentation layer.
func Regress(y, x []float64, minObs int) (RegressionResult, error) {
	n := len(x)
	if len(y) != n {
		return RegressionResult{}, ErrInsufficientData
	}
	if minObs < 2 {
		minObs = 2
	}
	if n < minObs {
		return RegressionResult{}, ErrInsufficientData
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var ssXX, ssXY, ssYY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		ssXX += dx * dx
		ssXY += dx * dy
		ssYY += dy * dy
	}
	if ssXX == 0 {
		return RegressionResult{}, ErrZeroVariance
	}

	beta := ssXY / ssXX
	result := RegressionResult{
		Beta:         beta,
		Alpha:        meanY - beta*meanX,
		Observations: n,
	}
	if ssYY > 0 {
		result.RSquared = (ssXY * ssXY) / (ssXX * ssYY)
	}
	return result, nil
}

// Skippable reports whether err is a data-sufficiency condition rather
// than a real failure.
func Skippable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrZeroVariance)
}
