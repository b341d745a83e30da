package domain

import (
	"sort"
	"time"
)

// Observation is a single dated periodic return.
type Observation struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// ReturnSeries is a date-indexed sequence of periodic returns, kept sorted
// ascending by date with at most one observation per calendar day.
type ReturnSeries struct {
	obs []Observation
}

// NewReturnSeries builds a series from observations. Dates are normalized to
// UTC days; duplicates keep the last value; the result is sorted ascending.
func NewReturnSeries(obs []Observation) ReturnSeries {
	byDay := make(map[time.Time]float64, len(obs))
	for _, o := range obs {
		byDay[Day(o.Date)] = o.Return
	}
	out := make([]Observation, 0, len(byDay))
	for d, r := range byDay {
		out = append(out, Observation{Date: d, Return: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return ReturnSeries{obs: out}
}

// Len returns the number of observations.
func (s ReturnSeries) Len() int { return len(s.obs) }

// Observations returns a copy of the underlying observations.
func (s ReturnSeries) Observations() []Observation {
	out := make([]Observation, len(s.obs))
	copy(out, s.obs)
	return out
}

// At returns the observation for a given day, if present.
func (s ReturnSeries) At(date time.Time) (float64, bool) {
	d := Day(date)
	i := sort.Search(len(s.obs), func(i int) bool { return !s.obs[i].Date.Before(d) })
	if i < len(s.obs) && s.obs[i].Date.Equal(d) {
		return s.obs[i].Return, true
	}
	return 0, false
}

// Window returns the subset of observations within [start, end] inclusive.
func (s ReturnSeries) Window(start, end time.Time) ReturnSeries {
	start, end = Day(start), Day(end)
	out := make([]Observation, 0, len(s.obs))
	for _, o := range s.obs {
		if !o.Date.Before(start) && !o.Date.After(end) {
			out = append(out, o)
		}
	}
	return ReturnSeries{obs: out}
}

// Align inner-joins two series on their date index. Only dates present in
// both are retained; the returned slices are parallel and date-ordered.
func Align(a, b ReturnSeries) (x, y []float64) {
	i, j := 0, 0
	for i < len(a.obs) && j < len(b.obs) {
		switch {
		case a.obs[i].Date.Before(b.obs[j].Date):
			i++
		case b.obs[j].Date.Before(a.obs[i].Date):
			j++
		default:
			x = append(x, a.obs[i].Return)
			y = append(y, b.obs[j].Return)
			i++
			j++
		}
	}
	return x, y
}

// Spread returns the long/short combination a minus b, date-aligned first.
// Dates missing from either leg are dropped.
func Spread(a, b ReturnSeries) ReturnSeries {
	out := make([]Observation, 0, min(len(a.obs), len(b.obs)))
	i, j := 0, 0
	for i < len(a.obs) && j < len(b.obs) {
		switch {
		case a.obs[i].Date.Before(b.obs[j].Date):
			i++
		case b.obs[j].Date.Before(a.obs[i].Date):
			j++
		default:
			out = append(out, Observation{Date: a.obs[i].Date, Return: a.obs[i].Return - b.obs[j].Return})
			i++
			j++
		}
	}
	return ReturnSeries{obs: out}
}

// WeightedCombine builds a single series as the weight-normalized sum of the
// given series. Days where a component has no observation treat that
// component as flat (zero return), matching how statically valued holdings
// behave in an aggregate portfolio series.
func WeightedCombine(series []ReturnSeries, weights []float64) ReturnSeries {
	if len(series) == 0 || len(series) != len(weights) {
		return ReturnSeries{}
	}
	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight == 0 {
		return ReturnSeries{}
	}

	days := make(map[time.Time]float64)
	for k, s := range series {
		for _, o := range s.obs {
			days[o.Date] += weights[k] / totalWeight * o.Return
		}
	}
	out := make([]Observation, 0, len(days))
	for d, r := range days {
		out = append(out, Observation{Date: d, Return: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return ReturnSeries{obs: out}
}
