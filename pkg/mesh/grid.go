package mesh

import "math"

// Glue concatenates coordinate runs, dropping a leading point that repeats the
// previous run's last point within tol.
func Glue(tol float64, parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		for i, x := range p {
			if i == 0 && len(out) > 0 && math.Abs(out[len(out)-1]-x) <= tol {
				continue
			}
			out = append(out, x)
		}
	}
	return out
}
