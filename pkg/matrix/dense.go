package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

// DenseMatrix solves with a partially pivoted LU factorization. It keeps the
// Solver contract of SparseMatrix, including 1-based indices.
type DenseMatrix struct {
	size     int
	a        *mat.Dense
	rhs      []float64
	solution []float64
}

func NewDense(size int) (*DenseMatrix, error) {
	if size <= 0 {
		return nil, fmt.Errorf("matrix size must be positive, got %d", size)
	}
	return &DenseMatrix{
		size:     size,
		a:        mat.NewDense(size, size, nil),
		rhs:      make([]float64, size+1),
		solution: make([]float64, size+1),
	}, nil
}

func (m *DenseMatrix) Size() int {
	return m.size
}

func (m *DenseMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.size || j > m.size {
		panic(fmt.Sprintf("matrix index out of bounds (i=%d, j=%d, size=%d)", i, j, m.size))
	}
	m.a.Set(i-1, j-1, m.a.At(i-1, j-1)+value)
}

func (m *DenseMatrix) AddRHS(i int, value float64) {
	if i <= 0 || i > m.size {
		panic(fmt.Sprintf("rhs index out of bounds (i=%d, size=%d)", i, m.size))
	}
	m.rhs[i] += value
}

func (m *DenseMatrix) Clear() {
	m.a.Zero()
	for i := range m.rhs {
		m.rhs[i] = 0
	}
}

func (m *DenseMatrix) Solve() error {
	var lu mat.LU
	lu.Factorize(m.a)

	b := mat.NewVecDense(m.size, append([]float64(nil), m.rhs[1:]...))
	var x mat.VecDense
	err := lu.SolveVecTo(&x, false, b)
	if err != nil {
		// Ill-conditioned but solvable systems are reported as mat.Condition.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return fmt.Errorf("%w: lu solve failed: %v", simerr.ErrSingularSystem, err)
		}
	}

	for i := 0; i < m.size; i++ {
		m.solution[i+1] = x.AtVec(i)
	}
	if !finite(m.solution[1:]) {
		return fmt.Errorf("%w: non-finite solution", simerr.ErrSingularSystem)
	}
	return nil
}

func (m *DenseMatrix) Solution() []float64 {
	return m.solution
}

func (m *DenseMatrix) Destroy() {}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
