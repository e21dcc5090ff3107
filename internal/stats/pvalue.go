package stats

import "math"

// criticalValues holds chi-square critical values for df 1..10 at
// p = 0.10, 0.05, 0.01 and 0.001.
var criticalValues = [10][4]float64{
	{2.706, 3.841, 6.635, 10.828},
	{4.605, 5.991, 9.210, 13.816},
	{6.251, 7.815, 11.345, 16.266},
	{7.779, 9.488, 13.277, 18.467},
	{9.236, 11.070, 15.086, 20.515},
	{10.645, 12.592, 16.812, 22.458},
	{12.017, 14.067, 18.475, 24.322},
	{13.362, 15.507, 20.090, 26.124},
	{14.684, 16.919, 21.666, 27.877},
	{15.987, 18.307, 23.209, 29.588},
}

// TablePValue approximates the chi-square upper tail from the critical-value
// table, returning the midpoint of the bracket the statistic falls into.
// Above df 10 a coarse magnitude bucket is used instead.
func TablePValue(chi float64, df int) float64 {
	if df <= 0 {
		return 1
	}
	if df > len(criticalValues) {
		switch {
		case chi > 20:
			return 0.001
		case chi > 15:
			return 0.01
		case chi > 10:
			return 0.05
		default:
			return 0.10
		}
	}

	cv := criticalValues[df-1]
	switch {
	case chi > cv[3]:
		return 0.001
	case chi > cv[2]:
		return 0.005
	case chi > cv[1]:
		return 0.025
	case chi > cv[0]:
		return 0.075
	default:
		return 0.5
	}
}

// ExactPValue is the chi-square survival function, computed as the
// regularized upper incomplete gamma function Q(df/2, chi/2).
func ExactPValue(chi float64, df int) float64 {
	if df <= 0 {
		return 1
	}
	if chi <= 0 {
		return 1
	}
	return upperGammaQ(float64(df)/2, chi/2)
}

const (
	gammaMaxIter = 500
	gammaEpsilon = 1e-14
	gammaTiny    = 1e-300
)

func upperGammaQ(a, x float64) float64 {
	if x < a+1 {
		return 1 - lowerGammaSeries(a, x)
	}
	return upperGammaFraction(a, x)
}

// lowerGammaSeries evaluates P(a,x) by its power series
func lowerGammaSeries(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	sum := 1 / a
	term := sum
	ap := a
	for i := 0; i < gammaMaxIter; i++ {
		ap++
		term *= x / ap
		sum += term
		if math.Abs(term) < math.Abs(sum)*gammaEpsilon {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

// upperGammaFraction evaluates Q(a,x) by Lentz's continued fraction
func upperGammaFraction(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	b := x + 1 - a
	c := 1 / gammaTiny
	d := 1 / b
	h := d
	for i := 1; i <= gammaMaxIter; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < gammaTiny {
			d = gammaTiny
		}
		c = b + an/c
		if math.Abs(c) < gammaTiny {
			c = gammaTiny
		}
		d = 1 / d
		delta := d * c
		h *= delta
		if math.Abs(delta-1) < gammaEpsilon {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lg) * h
}
