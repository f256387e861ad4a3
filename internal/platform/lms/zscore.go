package lms

import "math"

// lZeroTolerance is the |L| below which the Box-Cox power is treated as zero
// and the logarithmic form of the transform is used.
const lZeroTolerance = 1e-6

// ZScore applies the LMS transform to value. It reports false when M is not
// finite or S is not a finite non-zero number. value is not validated: a
// non-positive value produces a non-finite Z-score, see Finite.
func ZScore(l, m, s, value float64) (float64, bool) {
	if !Finite(m) || !Finite(s) || s == 0 {
		return 0, false
	}
	if math.Abs(l) < lZeroTolerance {
		return math.Log(value/m) / s, true
	}
	return (math.Pow(value/m, l) - 1) / (s * l), true
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Percentile converts a Z-score into the matching percentile of the standard
// normal distribution, in the range [0, 100].
func Percentile(z float64) float64 {
	return 50 * (1 + math.Erf(z/math.Sqrt2))
}

// ZForPercentile is the inverse of Percentile. percentile must lie strictly
// between 0 and 100.
func ZForPercentile(percentile float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*percentile/100-1)
}

// ValueAtZ inverts the LMS transform: it returns the measurement that scores
// exactly z against p. The result is NaN when the power base turns negative
// for extreme z.
func ValueAtZ(p Point, z float64) float64 {
	if math.Abs(p.L) < lZeroTolerance {
		return p.M * math.Exp(p.S*z)
	}
	return p.M * math.Pow(1+p.L*p.S*z, 1/p.L)
}

// BMI returns weight / height², with height given in centimeters. It reports
// false when height is not positive.
func BMI(weightKg, heightCm float64) (float64, bool) {
	if heightCm <= 0 {
		return 0, false
	}
	h := heightCm / 100
	return weightKg / (h * h), true
}
