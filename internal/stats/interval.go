package stats

import "math"

// Interval is a Wilson score interval; every field except SampleSize is a percentage
type Interval struct {
	Rate       float64 `json:"rate"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Margin     float64 `json:"margin"`
	SampleSize int     `json:"sample_size"`
}

// ConfidenceInterval computes the Wilson score interval of the arm's metric
// rate at the given confidence level (percent).
func ConfidenceInterval(a Arm, m Metric, level float64) Interval {
	n := a.Universe(m)
	if n == 0 {
		return Interval{}
	}

	z := ZScore(level)
	nf := float64(n)
	rate := float64(a.Successes(m)) / nf
	z2 := z * z

	denom := 1 + z2/nf
	center := (rate + z2/(2*nf)) / denom
	margin := z / denom * math.Sqrt(rate*(1-rate)/nf+z2/(4*nf*nf))

	return Interval{
		Rate:       rate * 100,
		Lower:      math.Max(0, center-margin) * 100,
		Upper:      math.Min(1, center+margin) * 100,
		Margin:     margin * 100,
		SampleSize: n,
	}
}

// RequiredSampleSize is the per-variant sample needed by a two-proportion test
// to detect a relative lift of effect over baseline. zβ is looked up with the
// same confidence table as zα. Degenerate inputs (no lift, or a lifted rate
// outside (0,1]) return 0.
func RequiredSampleSize(baseline, effect, confidence, power float64) int {
	p1 := baseline
	p2 := baseline * (1 + effect)
	if p1 <= 0 || p1 >= 1 || p2 <= 0 || p2 > 1 || p2 == p1 {
		return 0
	}

	za := ZScore(confidence)
	zb := ZScore(power)
	pooled := (p1 + p2) / 2

	num := za*math.Sqrt(2*pooled*(1-pooled)) + zb*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	diff := p2 - p1
	return int(math.Ceil(num * num / (diff * diff)))
}

// EffectSize is Cohen's h between the metric rates of two arms.
// Conventional reading: 0.2 small, 0.5 medium, 0.8 large.
func EffectSize(a, b Arm, m Metric) float64 {
	return math.Abs(2 * (math.Asin(math.Sqrt(a.Rate(m))) - math.Asin(math.Sqrt(b.Rate(m)))))
}
