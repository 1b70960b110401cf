package system

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-drift/internal/consts"
	"github.com/edp1096/toy-drift/pkg/matrix"
)

// CurrentThrough returns the electric current density (A/m^2) entering the
// device through contact a, measured against contact b with a test function
// that is linear in x, 1 at a and 0 at b. With dt > 0 and a previous solution
// the storage and displacement terms are included by implicit Euler.
//
// Weighting every balance row by the test function leaves the flux through
// contact a: Σ_edges (T_k - T_l) F_kl + Σ_k T_k V_k (∂t n + R - G).
func (s *System) CurrentThrough(a, b int, u, prev []float64, dt float64) (float64, error) {
	ba, ok := s.mesh.Boundary(a)
	if !ok {
		return 0, fmt.Errorf("unknown boundary %d", a)
	}
	bb, ok := s.mesh.Boundary(b)
	if !ok {
		return 0, fmt.Errorf("unknown boundary %d", b)
	}
	if ba.Node == bb.Node {
		return 0, fmt.Errorf("boundaries %d and %d share node %d", a, b, ba.Node)
	}
	if len(u) != s.size {
		return 0, fmt.Errorf("solution has %d unknowns, want %d", len(u), s.size)
	}

	transient := dt > 0 && prev != nil
	step := Step{Embedding: FullEmbedding()}
	if transient {
		step.Coeffs = []float64{1 / dt, -1 / dt}
		step.History = [][]float64{prev}
	}

	jac := matrix.NewJacobian(s.size)
	s.assemble(u, step, jac, true)
	res := append([]float64(nil), jac.Residual()...)

	test := func(k int) float64 {
		t := (s.mesh.Coord(k) - bb.Coord) / (ba.Coord - bb.Coord)
		return math.Max(0, math.Min(1, t))
	}

	current := 0.0
	for row, z := range s.rowCharge {
		if z == 0 {
			continue
		}
		current += z * test(s.rowNode[row]) * res[row]
	}
	current *= consts.CHARGE

	// Displacement: the Poisson rows left free at contacts hold the contact
	// charge, interior ones vanish at a converged solution.
	if transient {
		s.assemble(prev, Step{Embedding: FullEmbedding()}, jac, true)
		old := jac.Residual()
		for k, pk := range s.psi {
			current += test(k) * (res[pk] - old[pk]) / dt
		}
	}
	return current, nil
}
