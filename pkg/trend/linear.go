// Package trend fits simple linear trends over per-service metric history,
// extrapolates to flag near-term risk, and detects statistical outliers.
// It intentionally trades sophistication for explainability: every result
// carries the slope and extrapolated value so a human can sanity-check it.
package trend

import "math"

// LinearTrend fits an ordinary least-squares line over values at
// x = 0, 1, 2, … and returns (slope, intercept). The time index is a plain
// sequence rather than wall clock, keeping the slope unit-agnostic per
// bucket. Fewer than two points is undefined, not flat: both returns are
// nil so callers can distinguish "insufficient data" from a zero slope.
func LinearTrend(values []float64) (slope, intercept *float64) {
	n := len(values)
	if n < 2 {
		return nil, nil
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	// x values are distinct increasing integers, so the denominator is
	// never zero for n >= 2.
	s := (fn*sumXY - sumX*sumY) / (fn*sumXX - sumX*sumX)
	b := (sumY - s*sumX) / fn
	return &s, &b
}

// SeriesStats holds descriptive statistics for one metric series.
type SeriesStats struct {
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"std_dev"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Count  int      `json:"count"`
}

// Stats computes mean, population standard deviation, min, and max.
// An empty series yields nil fields.
func Stats(values []float64) SeriesStats {
	stats := SeriesStats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	minV, maxV := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))

	stats.Mean = &mean
	stats.StdDev = &std
	stats.Min = &minV
	stats.Max = &maxV
	return stats
}

// zScores returns the z-score of each value against the series' own mean
// and stddev. A zero-variance series has no outliers by definition: the
// result is nil rather than a division by zero or every point flagged.
func zScores(values []float64) []float64 {
	stats := Stats(values)
	if stats.Mean == nil || stats.StdDev == nil || *stats.StdDev == 0 {
		return nil
	}
	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = (v - *stats.Mean) / *stats.StdDev
	}
	return scores
}
