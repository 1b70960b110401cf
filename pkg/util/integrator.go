package util

// BackwardDifferentialFormula is y_n = Σ a_i y_{n-i} + β dt y'_n.
type BackwardDifferentialFormula struct {
	coefficients []float64
	beta         float64
}

// BdfCoefficients holds the orders the voltage scan integrates with.
var BdfCoefficients = [2]BackwardDifferentialFormula{
	{[]float64{1.0}, 1.0},
	{[]float64{4.0 / 3.0, -1.0 / 3.0}, 2.0 / 3.0},
}

// GetBDFcoeffs returns c_0..c_k with y'_n ≈ c_0 y_n + Σ c_i y_{n-i} for a
// constant step dt. Other orders fall back to implicit Euler.
func GetBDFcoeffs(order int, dt float64) []float64 {
	if order < 1 || order > len(BdfCoefficients) {
		order = 1
	}

	bdf := BdfCoefficients[order-1]
	coeffs := make([]float64, order+1)
	scale := 1.0 / (bdf.beta * dt)
	coeffs[0] = scale

	for i := 1; i <= order; i++ {
		coeffs[i] = -bdf.coefficients[i-1] * scale
	}

	return coeffs
}
