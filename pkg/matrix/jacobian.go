package matrix

import (
	"math"
)

// Jacobian accumulates a residual vector and its Jacobian row by row with
// 0-based indices. Rows are loaded into a Solver after scaling each one by
// its largest entry, which puts Poisson and continuity rows on a common
// footing.
type Jacobian struct {
	n        int
	rows     []map[int]float64
	residual []float64
	scales   []float64
}

func NewJacobian(n int) *Jacobian {
	j := &Jacobian{
		n:        n,
		rows:     make([]map[int]float64, n),
		residual: make([]float64, n),
		scales:   make([]float64, n),
	}
	for i := range j.rows {
		j.rows[i] = make(map[int]float64, 8)
	}
	return j
}

func (j *Jacobian) Size() int {
	return j.n
}

func (j *Jacobian) Reset() {
	for i := range j.rows {
		clear(j.rows[i])
		j.residual[i] = 0
	}
}

func (j *Jacobian) Add(row, col int, value float64) {
	j.rows[row][col] += value
}

func (j *Jacobian) AddResidual(row int, value float64) {
	j.residual[row] += value
}

func (j *Jacobian) At(row, col int) float64 {
	return j.rows[row][col]
}

func (j *Jacobian) Residual() []float64 {
	return j.residual
}

// ClearRow drops a row and its residual so it can be restamped.
func (j *Jacobian) ClearRow(row int) {
	clear(j.rows[row])
	j.residual[row] = 0
}

// SetDirichlet replaces a row by u[row] - value = 0, given the current u[row].
func (j *Jacobian) SetDirichlet(row int, current, value float64) {
	clear(j.rows[row])
	j.rows[row][row] = 1
	j.residual[row] = current - value
}

// Scale computes the row scales and returns the scaled residual.
func (j *Jacobian) Scale() []float64 {
	out := make([]float64, j.n)
	for i, row := range j.rows {
		s := 0.0
		for _, v := range row {
			s = math.Max(s, math.Abs(v))
		}
		if s == 0 {
			s = 1
		}
		j.scales[i] = s
		out[i] = j.residual[i] / s
	}
	return out
}

// Scales returns a copy of the row scales from the last Scale call.
func (j *Jacobian) Scales() []float64 {
	return append([]float64(nil), j.scales...)
}

// ScaledResidual divides the residual by scales held from an earlier point.
func (j *Jacobian) ScaledResidual(scales []float64) []float64 {
	out := make([]float64, j.n)
	for i, r := range j.residual {
		out[i] = r / scales[i]
	}
	return out
}

// Load stamps the scaled system J du = -r into the solver. Scale must have
// been called after the last change.
func (j *Jacobian) Load(s Solver) {
	j.LoadShifted(s, 0)
}

// LoadShifted is Load with shift added to every scaled diagonal entry, the
// gmin of a singular retry.
func (j *Jacobian) LoadShifted(s Solver, shift float64) {
	s.Clear()
	for i, row := range j.rows {
		inv := 1 / j.scales[i]
		for col, v := range row {
			s.AddElement(i+1, col+1, v*inv)
		}
		if shift != 0 {
			s.AddElement(i+1, i+1, shift)
		}
		s.AddRHS(i+1, -j.residual[i]*inv)
	}
}
