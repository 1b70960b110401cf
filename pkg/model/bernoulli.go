package model

import "math"

// Bernoulli returns B(x) = x/(e^x - 1) and B'(x).
func Bernoulli(x float64) (float64, float64) {
	if math.Abs(x) < 1e-2 {
		x2 := x * x
		b := 1 - x/2 + x2/12 - x2*x2/720 + x2*x2*x2/30240
		db := -0.5 + x/6 - x2*x/180 + x2*x2*x/5040
		return b, db
	}

	if x > 0 {
		em := math.Exp(-x)
		den := 1 - em
		return x * em / den, em * (1 - em - x) / (den * den)
	}

	ex := math.Exp(x)
	den := ex - 1
	return x / den, (den - x*ex) / (den * den)
}
