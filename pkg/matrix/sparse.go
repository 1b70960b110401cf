package matrix

import (
	"fmt"

	"github.com/edp1096/sparse"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

type SparseMatrix struct {
	size     int
	matrix   *sparse.Matrix
	rhs      []float64
	solution []float64
	config   *sparse.Configuration
}

func NewSparse(size int) (*SparseMatrix, error) {
	if size <= 0 {
		return nil, fmt.Errorf("matrix size must be positive, got %d", size)
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               true,
		ModifiedNodal:           false,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}

	return &SparseMatrix{
		size:     size,
		matrix:   mat,
		rhs:      make([]float64, size+1), // 1-based indexing
		solution: make([]float64, size+1),
		config:   config,
	}, nil
}

func (m *SparseMatrix) Size() int {
	return m.size
}

func (m *SparseMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.size || j > m.size {
		panic(fmt.Sprintf("matrix index out of bounds (i=%d, j=%d, size=%d)", i, j, m.size))
	}
	m.matrix.GetElement(int64(i), int64(j)).Real += value
}

func (m *SparseMatrix) AddRHS(i int, value float64) {
	if i <= 0 || i > m.size {
		panic(fmt.Sprintf("rhs index out of bounds (i=%d, size=%d)", i, m.size))
	}
	m.rhs[i] += value
}

func (m *SparseMatrix) Clear() {
	m.matrix.Clear()
	for i := range m.rhs {
		m.rhs[i] = 0
	}
}

// Solve factors with the pivot order of the previous solve when one exists.
// External indices are translated, so the matrix can be restamped after a
// reordering. A failed factorization forces a fresh ordering next time.
func (m *SparseMatrix) Solve() error {
	err := m.matrix.Factor()
	if err != nil {
		m.matrix.NeedsOrdering = true
		return fmt.Errorf("%w: matrix factorization failed: %v", simerr.ErrSingularSystem, err)
	}

	solution, err := m.matrix.Solve(m.rhs)
	if err != nil {
		return fmt.Errorf("%w: matrix solve failed: %v", simerr.ErrSingularSystem, err)
	}
	if !finite(solution[1:]) {
		return fmt.Errorf("%w: non-finite solution", simerr.ErrSingularSystem)
	}
	m.solution = solution

	return nil
}

func (m *SparseMatrix) Solution() []float64 {
	return m.solution
}

func (m *SparseMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
