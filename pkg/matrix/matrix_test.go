package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

// voltage divider from the sparse package demo
func stampDivider(s Solver) {
	const (
		g1  = 1.0 / 1000
		g2  = 1.0 / 2000
		vin = 5.0
	)
	s.Clear()
	s.AddElement(1, 1, g1)
	s.AddElement(1, 2, -g1)
	s.AddElement(2, 1, -g1)
	s.AddElement(2, 2, g1+g2)
	s.AddRHS(1, vin/(1000+2000))
}

func TestBackends(t *testing.T) {
	for _, b := range []Backend{Sparse, Dense} {
		t.Run(b.String(), func(t *testing.T) {
			s, err := New(b, 2)
			require.NoError(t, err)
			defer s.Destroy()

			stampDivider(s)
			require.NoError(t, s.Solve())
			x := s.Solution()
			assert.InDelta(t, 5.0, x[1], 1e-9)
			assert.InDelta(t, 5.0*2/3, x[2], 1e-9)

			// a second load reuses the same solver
			stampDivider(s)
			require.NoError(t, s.Solve())
			assert.InDelta(t, 5.0*2/3, s.Solution()[2], 1e-9)
		})
	}
}

func TestSingular(t *testing.T) {
	for _, b := range []Backend{Sparse, Dense} {
		t.Run(b.String(), func(t *testing.T) {
			s, err := New(b, 2)
			require.NoError(t, err)
			defer s.Destroy()

			s.AddElement(1, 1, 1)
			s.AddElement(1, 2, 2)
			s.AddElement(2, 1, 2)
			s.AddElement(2, 2, 4)
			s.AddRHS(1, 1)
			assert.ErrorIs(t, s.Solve(), simerr.ErrSingularSystem)
		})
	}
}

func TestBackendByName(t *testing.T) {
	b, ok := BackendByName("dense")
	require.True(t, ok)
	assert.Equal(t, Dense, b)
	_, ok = BackendByName("klu")
	assert.False(t, ok)
	_, err := New(Backend(9), 3)
	assert.Error(t, err)
}

func TestJacobianScaledLoad(t *testing.T) {
	// rows of very different magnitude: 1e12 x + 1e12 y = 3e12, x - y = -1
	j := NewJacobian(3)
	j.Add(0, 0, 1e12)
	j.Add(0, 1, 1e12)
	j.AddResidual(0, -3e12)
	j.Add(1, 0, 1)
	j.Add(1, 1, -1)
	j.AddResidual(1, 1)
	j.Add(2, 2, 5)
	j.SetDirichlet(2, 0.5, 2)

	r := j.Scale()
	assert.InDelta(t, -3, r[0], 1e-12)
	assert.InDelta(t, 1, r[1], 1e-12)
	assert.InDelta(t, -1.5, r[2], 1e-12)
	assert.Equal(t, 1.0, j.At(2, 2))

	s, err := NewDense(3)
	require.NoError(t, err)
	j.Load(s)
	require.NoError(t, s.Solve())
	du := s.Solution()
	assert.InDelta(t, 1, du[1], 1e-12)
	assert.InDelta(t, 2, du[2], 1e-12)
	assert.InDelta(t, 1.5, du[3], 1e-12)

	j.Reset()
	assert.Zero(t, j.At(0, 0))
	assert.Zero(t, j.Residual()[0])
}

func TestJacobianHeldScales(t *testing.T) {
	j := NewJacobian(2)
	j.Add(0, 0, 4)
	j.AddResidual(0, 2)
	j.Add(1, 1, -8)
	j.AddResidual(1, 4)
	j.Scale()
	held := j.Scales()

	j.Reset()
	j.Add(0, 0, 100)
	j.AddResidual(0, 1)
	j.AddResidual(1, -2)
	r := j.ScaledResidual(held)
	assert.Equal(t, []float64{0.25, -0.25}, r)

	// the shift regularizes an all-zero row
	j.Scale()
	s, err := NewDense(2)
	require.NoError(t, err)
	j.LoadShifted(s, 1e-3)
	require.NoError(t, s.Solve())
	assert.InDelta(t, -0.01/(1+1e-3), s.Solution()[1], 1e-15)
	assert.InDelta(t, 2/1e-3, s.Solution()[2], 1e-9)
}

func TestSparseRestampAfterReorder(t *testing.T) {
	s, err := NewSparse(3)
	require.NoError(t, err)
	defer s.Destroy()

	// zero diagonal at row 0 forces pivoting on the first factorization
	load := func(a map[[2]int]float64, want []float64) {
		j := NewJacobian(3)
		for k, v := range a {
			j.Add(k[0], k[1], v)
		}
		for i := 0; i < 3; i++ {
			r := 0.0
			for k, v := range a {
				if k[0] == i {
					r -= v * want[k[1]]
				}
			}
			j.AddResidual(i, r)
		}
		j.Scale()
		j.Load(s)
	}
	check := func(want []float64) {
		require.NoError(t, s.Solve())
		for i, w := range want {
			assert.InDelta(t, w, s.Solution()[i+1], 1e-12)
		}
	}

	first := map[[2]int]float64{{0, 1}: 2, {1, 0}: 1, {2, 1}: 1, {2, 2}: 3}
	load(first, []float64{1, 2, 3})
	check([]float64{1, 2, 3})

	second := map[[2]int]float64{{0, 0}: 4, {0, 1}: 2, {1, 0}: 1, {2, 1}: 1, {2, 2}: 3}
	load(second, []float64{-1, 0.5, 2})
	check([]float64{-1, 0.5, 2})

	// an empty row fails the factorization; the next load reorders
	load(map[[2]int]float64{{0, 1}: 2, {1, 0}: 1}, []float64{0, 0, 0})
	assert.ErrorIs(t, s.Solve(), simerr.ErrSingularSystem)

	load(first, []float64{3, -1, 0.25})
	check([]float64{3, -1, 0.25})
}
