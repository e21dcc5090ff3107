// Package stats implements the significance, interval and power calculations
// used to evaluate campaign tests. Every function is pure and total: degenerate
// inputs produce zero-valued results instead of errors.
package stats

import (
	"math"
	"time"
)

// Metric selects the funnel stage a test is evaluated on
type Metric int

const (
	MetricOpen Metric = iota
	MetricClick
	MetricConversion
)

func (m Metric) String() string {
	switch m {
	case MetricOpen:
		return "open"
	case MetricClick:
		return "click"
	case MetricConversion:
		return "conversion"
	default:
		return "unknown"
	}
}

// Arm holds the raw funnel counters of one variant
type Arm struct {
	Label       string
	Sent        int
	Opened      int
	Clicked     int
	Conversions int
}

// Universe is the denominator of the metric: the previous funnel stage
func (a Arm) Universe(m Metric) int {
	switch m {
	case MetricClick:
		return a.Opened
	case MetricConversion:
		return a.Clicked
	default:
		return a.Sent
	}
}

// Successes is the numerator of the metric
func (a Arm) Successes(m Metric) int {
	switch m {
	case MetricClick:
		return a.Clicked
	case MetricConversion:
		return a.Conversions
	default:
		return a.Opened
	}
}

// Rate is Successes/Universe, zero for an empty universe
func (a Arm) Rate(m Metric) float64 {
	n := a.Universe(m)
	if n == 0 {
		return 0
	}
	return float64(a.Successes(m)) / float64(n)
}

// zScores maps confidence levels (percent) to two-sided critical values
var zScores = []struct {
	level float64
	z     float64
}{
	{80, 1.282},
	{85, 1.440},
	{90, 1.645},
	{95, 1.960},
	{99, 2.576},
	{99.9, 3.291},
}

// ZScore returns the critical value for a confidence level in percent.
// Unknown levels fall back to 1.960.
func ZScore(level float64) float64 {
	for _, e := range zScores {
		if math.Abs(e.level-level) < 1e-9 {
			return e.z
		}
	}
	return 1.960
}

// HasMinimumSampleSize reports whether every arm has sent at least min messages
func HasMinimumSampleSize(arms []Arm, min int) bool {
	for _, a := range arms {
		if a.Sent < min {
			return false
		}
	}
	return true
}

// HasTestDurationElapsed reports whether at least durationHours passed since start
func HasTestDurationElapsed(start time.Time, durationHours int, now time.Time) bool {
	return now.Sub(start).Hours() >= float64(durationHours)
}
