package stats

// SignificanceThreshold is the p-value below which a difference is significant
const SignificanceThreshold = 0.05

// ArmDetail is the per-variant audit block of a chi-square test
type ArmDetail struct {
	Label           string  `json:"label"`
	SampleSize      int     `json:"sample_size"`
	SuccessRate     float64 `json:"success_rate"` // percent
	ExpectedSuccess float64 `json:"expected_success"`
	ObservedSuccess int     `json:"observed_success"`
}

// Result is the outcome of a chi-square significance test
type Result struct {
	Significant      bool        `json:"is_significant"`
	PValue           float64     `json:"p_value"`
	ChiSquare        float64     `json:"chi_square"`
	DegreesOfFreedom int         `json:"degrees_of_freedom"`
	PooledRate       float64     `json:"pooled_rate"`
	Winner           string      `json:"winner,omitempty"`
	Details          []ArmDetail `json:"details"`
}

// PValueFunc maps a chi-square statistic and degrees of freedom to a p-value
type PValueFunc func(chiSquare float64, df int) float64

// ChiSquare runs the test using the critical-value table p-value
func ChiSquare(arms []Arm, m Metric) Result {
	return ChiSquareWith(arms, m, TablePValue)
}

// ChiSquareWith runs a chi-square test of homogeneity of the metric across
// arms against the pooled rate, using pv to derive the p-value.
func ChiSquareWith(arms []Arm, m Metric, pv PValueFunc) Result {
	if pv == nil {
		pv = TablePValue
	}

	res := Result{
		PValue:  1,
		Details: make([]ArmDetail, 0, len(arms)),
	}
	if len(arms) > 1 {
		res.DegreesOfFreedom = len(arms) - 1
	}

	var successes, totals int
	for _, a := range arms {
		successes += a.Successes(m)
		totals += a.Universe(m)
	}
	if totals > 0 {
		res.PooledRate = float64(successes) / float64(totals)
	}

	var chi float64
	for _, a := range arms {
		success := float64(a.Successes(m))
		total := float64(a.Universe(m))
		failure := total - success

		expSuccess := total * res.PooledRate
		expFailure := total * (1 - res.PooledRate)

		if expSuccess > 0 {
			d := success - expSuccess
			chi += d * d / expSuccess
		}
		if expFailure > 0 {
			d := failure - expFailure
			chi += d * d / expFailure
		}

		res.Details = append(res.Details, ArmDetail{
			Label:           a.Label,
			SampleSize:      a.Universe(m),
			SuccessRate:     a.Rate(m) * 100,
			ExpectedSuccess: expSuccess,
			ObservedSuccess: a.Successes(m),
		})
	}

	if res.DegreesOfFreedom == 0 || totals == 0 {
		return res
	}

	res.ChiSquare = chi
	res.PValue = pv(chi, res.DegreesOfFreedom)
	res.Significant = res.PValue < SignificanceThreshold

	if res.Significant {
		best := -1.0
		for _, a := range arms {
			if r := a.Rate(m); r > best {
				best = r
				res.Winner = a.Label
			}
		}
	}

	return res
}
