package matrix

import (
	"fmt"
)

// Solver is the linear-solve boundary of the Newton iteration. Indices are
// 1-based like the sparse package.
type Solver interface {
	Size() int
	AddElement(i, j int, value float64)
	AddRHS(i int, value float64)
	Clear()
	Solve() error
	Solution() []float64 // 1-based, valid after Solve
	Destroy()
}

type Backend int

const (
	Sparse Backend = iota
	Dense
)

func (b Backend) String() string {
	switch b {
	case Sparse:
		return "sparse"
	case Dense:
		return "dense"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

func BackendByName(name string) (Backend, bool) {
	switch name {
	case "", "sparse":
		return Sparse, true
	case "dense":
		return Dense, true
	}
	return 0, false
}

func New(backend Backend, size int) (Solver, error) {
	switch backend {
	case Sparse:
		return NewSparse(size)
	case Dense:
		return NewDense(size)
	}
	return nil, fmt.Errorf("unknown matrix backend %v", backend)
}
