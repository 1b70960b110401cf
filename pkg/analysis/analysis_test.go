package analysis

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/device"
	"github.com/edp1096/toy-drift/pkg/matrix"
	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/model"
	"github.com/edp1096/toy-drift/pkg/params"
	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
)

func newSystem(t *testing.T, b device.Builder, backend matrix.Backend) (*system.System, *device.Device) {
	t.Helper()
	d, err := b.Build()
	require.NoError(t, err)
	s, err := system.New(system.Config{Mesh: d.Mesh, Params: d.Params, Backend: backend})
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s, d
}

func pin(p map[string]float64) device.Builder {
	b := device.NewPIN()
	b.SetModelParameters(p)
	return b
}

func TestLogSchedule(t *testing.T) {
	s := LogSchedule(3)
	assert.Equal(t, []float64{0, 1e-3, 1e-2, 1e-1, 1}, s)
	assert.Len(t, LogSchedule(10), 12)
}

func TestConfigValidation(t *testing.T) {
	sys, _ := newSystem(t, pin(map[string]float64{"elements": 4}), matrix.Sparse)

	cfg := DefaultNewtonConfig()
	cfg.DampInitial = 0
	_, err := NewNewton(sys, cfg, nil)
	assert.Error(t, err)

	op := NewOP(WithContinuation(ContinuationConfig{Schedule: []float64{0, 0.5}}))
	assert.Error(t, op.Setup(sys))

	op = NewOP(WithContinuation(ContinuationConfig{Schedule: []float64{}}))
	assert.Error(t, op.Setup(sys))

	op = NewOP(WithIllumination(2))
	assert.Error(t, op.Setup(sys))

	br := NewBiasRamp(device.PINAnode, device.PINJunctionN, 0, 1, 3)
	assert.Error(t, br.Setup(sys))
}

func TestBackoffWalk(t *testing.T) {
	var visited []float64
	last := 0.0
	try := func(x float64) error {
		if x-last > 0.3 {
			return errors.New("too far")
		}
		visited = append(visited, x)
		last = x
		return nil
	}

	require.NoError(t, BackoffConfig{MaxHalvings: 2}.walk(0, 1, try))
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, visited)

	last, visited = 0, nil
	assert.Error(t, BackoffConfig{MaxHalvings: 1}.walk(0, 1, try))
	assert.Empty(t, visited)

	last, visited = 0, nil
	assert.Error(t, BackoffConfig{}.walk(0, 1, try))
}

func TestEquilibriumPIN(t *testing.T) {
	sys, _ := newSystem(t, device.NewPIN(), matrix.Sparse)

	op := NewOP()
	require.NoError(t, op.Setup(sys))
	require.NoError(t, op.Execute(context.Background()))

	stats := op.Statistics()
	require.Len(t, stats, 12)
	total := 0
	for i, st := range stats {
		assert.LessOrEqual(t, st.Iterations, 40, "continuation step %d", i)
		total += st.Iterations
	}
	assert.LessOrEqual(t, total, 60)

	// re-solving at the converged point takes no work
	u := op.Solution()
	n, err := NewNewton(sys, DefaultNewtonConfig(), nil)
	require.NoError(t, err)
	again, st, err := n.StepSolve(u, system.Step{Embedding: system.FullEmbedding()})
	require.NoError(t, err)
	assert.Less(t, st.Initial, DefaultNewtonConfig().TolRound)
	assert.LessOrEqual(t, st.Iterations, DefaultNewtonConfig().MaxRound)
	assert.InDelta(t, 0, floats.Distance(u, again, math.Inf(1)), 1e-8)

	// the built-in voltage drops across the device
	psi := sys.Potential(u)
	p0, _ := sys.BuiltInPotential(device.PINAnode)
	p1, _ := sys.BuiltInPotential(device.PINCathode)
	assert.InDelta(t, p0, psi[0], 1e-12)
	assert.InDelta(t, p1, psi[len(psi)-1], 1e-12)
	assert.True(t, nondecreasing(psi), "potential rises monotonically from p to n")
}

func nondecreasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] < v[i-1]-1e-9 {
			return false
		}
	}
	return true
}

func TestBiasRampPIN(t *testing.T) {
	sys, d := newSystem(t, device.NewPIN(), matrix.Sparse)

	br := NewBiasRamp(d.Anode, d.Cathode, 0, 1.5, 32)
	require.NoError(t, br.Setup(sys))
	require.NoError(t, br.Execute(context.Background()))

	curve := br.Curve()
	require.Equal(t, 32, curve.Len())
	assert.Equal(t, 0.0, curve.Bias[0])
	assert.InDelta(t, 1.5, curve.Bias[31], 1e-12)

	forward := curve.Current[31]
	assert.Greater(t, forward, 0.0)
	assert.Less(t, math.Abs(curve.Current[0]), 1e-6*forward, "no current at equilibrium")
	for i := 21; i < 32; i++ {
		assert.Greater(t, curve.Current[i], curve.Current[i-1], "bias %g", curve.Bias[i])
	}

	// the measurement is antisymmetric in the contact pair
	u := br.Solution()
	back, err := sys.CurrentThrough(d.Cathode, d.Anode, u, nil, 0)
	require.NoError(t, err)
	assert.InEpsilon(t, -forward, back, 1e-6)

	for _, st := range br.Statistics() {
		assert.LessOrEqual(t, st.Iterations, 40)
	}
}

func TestDenseAndSparseAgree(t *testing.T) {
	run := func(backend matrix.Backend) []float64 {
		sys, d := newSystem(t, pin(map[string]float64{"elements": 15}), backend)
		br := NewBiasRamp(d.Anode, d.Cathode, 0, 1.5, 32)
		require.NoError(t, br.Setup(sys))
		require.NoError(t, br.Execute(context.Background()))
		return br.Solution()
	}

	sparse := run(matrix.Sparse)
	dense := run(matrix.Dense)
	assert.InEpsilon(t, floats.Norm(sparse, 2), floats.Norm(dense, 2), 1e-6)
	assert.InDelta(t, 0, floats.Distance(sparse, dense, math.Inf(1)), 1e-6)
}

func TestStepFailureKeepsPartialCurve(t *testing.T) {
	sys, d := newSystem(t, pin(map[string]float64{"elements": 10}), matrix.Sparse)

	op := NewOP()
	require.NoError(t, op.Setup(sys))
	require.NoError(t, op.Execute(context.Background()))

	cfg := DefaultNewtonConfig()
	cfg.MaxIterations = 2
	br := NewBiasRamp(d.Anode, d.Cathode, 0, 1, 5, WithInitial(op.Solution()), WithNewton(cfg))
	require.NoError(t, br.Setup(sys))
	err := br.Execute(context.Background())
	require.Error(t, err)

	var se *simerr.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bias", se.Stage)
	assert.Equal(t, 1, se.Index)
	assert.Equal(t, 0.25, se.Parameter)
	assert.Greater(t, se.Residual, 0.0)
	assert.ErrorIs(t, err, simerr.ErrIterationBudgetExceeded)

	assert.Equal(t, 1, br.Curve().Len())
	assert.Len(t, br.GetResults()[BIAS], 1)
}

func TestCancelledRun(t *testing.T) {
	sys, d := newSystem(t, pin(map[string]float64{"elements": 4}), matrix.Sparse)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	br := NewBiasRamp(d.Anode, d.Cathode, 0, 1, 5)
	require.NoError(t, br.Setup(sys))
	assert.ErrorIs(t, br.Execute(ctx), context.Canceled)
}

func TestIlluminatedPIN(t *testing.T) {
	sys, d := newSystem(t, pin(map[string]float64{"elements": 15, "gen": 1e27}), matrix.Sparse)

	br := NewBiasRamp(d.Anode, d.Cathode, 0, 0, 1)
	require.NoError(t, br.Setup(sys))
	require.NoError(t, br.Execute(context.Background()))

	// photocurrent flows against the forward direction at short circuit
	jsc := br.Curve().Current[0]
	assert.Less(t, jsc, 0.0)
	// it cannot exceed the generated charge
	assert.Less(t, -jsc, 1.602176634e-19*1e27*2e-6)

	dark := NewBiasRamp(d.Anode, d.Cathode, 0, 0, 1, WithIllumination(0))
	require.NoError(t, dark.Setup(sys))
	require.NoError(t, dark.Execute(context.Background()))
	assert.Less(t, math.Abs(dark.Curve().Current[0]), 1e-3*math.Abs(jsc))
}

func TestPerovskiteHysteresis(t *testing.T) {
	sys, d := newSystem(t, device.NewPerovskite(), matrix.Sparse)

	op := NewOP()
	require.NoError(t, op.Setup(sys))
	require.NoError(t, op.Execute(context.Background()))
	assert.LessOrEqual(t, len(op.Statistics()), 20)

	// ion number is conserved by the equilibrium solve
	u := op.Solution()
	ions := sys.Density(device.PSCAnions, u)
	m := sys.Mesh()
	total := 0.0
	for k, n := range ions {
		for _, side := range []mesh.Side{mesh.Left, mesh.Right} {
			if rid, ok := m.SideRegion(k, side); ok && rid == 2 {
				total += n * m.HalfVolume(k, side)
			}
		}
	}
	nif, ok := sys.InterfaceDensity(device.PSCETL, u)
	require.True(t, ok)
	p := device.NewPerovskite()
	assert.InEpsilon(t, p.IonDoping*p.PVK.Thickness+p.IfDoping, total+nif, 1e-8)

	cfg := ScanConfig{
		Contact: d.Anode,
		Ground:  d.Cathode,
		Low:     0,
		High:    1.2,
		Rate:    0.04,
		Steps:   24,
	}
	fwd, rev, err := RunHysteresis(context.Background(), sys, cfg)
	require.NoError(t, err)
	require.Equal(t, 25, fwd.Len())
	require.Equal(t, 25, rev.Len())

	assert.Equal(t, 0.0, fwd.Bias[0])
	assert.InDelta(t, 1.2, fwd.Bias[24], 1e-12)
	assert.InDelta(t, 30, fwd.Time[24], 1e-9)
	assert.Equal(t, 1.2, rev.Bias[0])
	assert.InDelta(t, 0, rev.Bias[24], 1e-12)

	assert.Greater(t, fwd.Current[24], 0.0)

	// at 0.6 V the two sweeps see different ion distributions
	mid := 12
	assert.InDelta(t, fwd.Bias[mid], rev.Bias[mid], 1e-12)
	assert.Greater(t, math.Abs(fwd.Current[mid]-rev.Current[mid]), 1e-6)
}

func equilibrium(t *testing.T, sys *system.System) []float64 {
	t.Helper()
	op := NewOP()
	require.NoError(t, op.Setup(sys))
	require.NoError(t, op.Execute(context.Background()))
	return op.Solution()
}

func TestNoFaceCurrentAtEquilibrium(t *testing.T) {
	sys, _ := newSystem(t, pin(map[string]float64{"elements": 10}), matrix.Sparse)
	u := equilibrium(t, sys)

	m := sys.Mesh()
	psi := sys.Potential(u)
	for i, info := range sys.Params().Species {
		sp := params.Species(i)
		phi := sys.QuasiFermi(sp, u)
		for e := 0; e < m.NumEdges(); e++ {
			c, ok := sys.Params().Region(m.CellRegion(e)).Carrier(sp)
			if !ok {
				continue
			}
			edge := model.Edge{
				H:          m.EdgeLength(e),
				Mobility:   c.Mobility,
				UT:         sys.ThermalVoltage(),
				Charge:     info.Charge,
				DOS:        c.DOS,
				BandEdge:   c.BandEdge,
				Statistics: info.Statistics,
				PsiK:       psi[e],
				PhiK:       phi[e],
				PsiL:       psi[e+1],
				PhiL:       phi[e+1],
			}
			f, _ := sys.Flux().Flux(&edge)

			// drift and diffusion cancel; compare against either one alone
			nk, _, _ := model.Density(info.Statistics, info.Charge, c.DOS, c.BandEdge, edge.UT, psi[e], phi[e])
			nl, _, _ := model.Density(info.Statistics, info.Charge, c.DOS, c.BandEdge, edge.UT, psi[e+1], phi[e+1])
			scale := c.Mobility * edge.UT / edge.H * math.Max(nk, nl)
			assert.LessOrEqual(t, math.Abs(f), 1e-6*scale, "%s edge %d", info.Name, e)
		}
	}
}

func TestNewtonRejectsAndDiverges(t *testing.T) {
	sys, d := newSystem(t, pin(map[string]float64{"elements": 10}), matrix.Sparse)
	u := equilibrium(t, sys)
	require.NoError(t, sys.SetContactVoltage(d.Anode, 1))
	step := system.Step{Embedding: system.FullEmbedding()}

	// an undamped step across a volt overshoots the exponential densities
	cfg := DefaultNewtonConfig()
	cfg.DampInitial = 1
	cfg.DampMin = 1
	cfg.Rejection = 1 + 1e-9
	n, err := NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	_, st, err := n.StepSolve(u, step)
	assert.ErrorIs(t, err, simerr.ErrNewtonDivergence)
	assert.Equal(t, 1, st.Rejected)
	assert.Equal(t, 1, st.Iterations)

	// the same first trial is retried with halved damping
	cfg.DampMin = DefaultNewtonConfig().DampMin
	cfg.MaxIterations = 500
	n, err = NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	x, st, err := n.StepSolve(u, step)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Rejected, 1)
	assert.Less(t, st.Residual, cfg.TolRound)
	assert.InDelta(t, 1.0, sys.QuasiFermi(device.PINHoles, x)[0], 1e-9)
}

func TestNewtonSingularRetry(t *testing.T) {
	sys, _ := newSystem(t, pin(map[string]float64{"elements": 6}), matrix.Dense)
	u := sys.InitialGuess()

	// electron densities underflow to zero away from the contacts, which
	// leaves their columns of the Jacobian empty
	m := sys.Mesh()
	for k := 1; k < m.NumNodes()-1; k++ {
		i, ok := sys.Index(device.PINElectrons, k, mesh.Left)
		require.True(t, ok)
		u[i] = 50
	}
	for _, nk := range sys.Density(device.PINElectrons, u)[1 : m.NumNodes()-1] {
		require.Zero(t, nk)
	}
	step := system.Step{Embedding: system.FullEmbedding()}

	cfg := DefaultNewtonConfig()
	cfg.MaxIterations = 1
	n, err := NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	_, st, err := n.StepSolve(u, step)
	assert.NotErrorIs(t, err, simerr.ErrSingularSystem)
	assert.Equal(t, 1, st.Shifted)

	cfg.Gmin = 0
	n, err = NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	_, st, err = n.StepSolve(u, step)
	assert.ErrorIs(t, err, simerr.ErrSingularSystem)
	assert.Zero(t, st.Shifted)
	assert.Equal(t, 1, st.Iterations)
}

func TestNewtonRoundOffAcceptance(t *testing.T) {
	sys, _ := newSystem(t, pin(map[string]float64{"elements": 10}), matrix.Sparse)
	u := equilibrium(t, sys)
	step := system.Step{Embedding: system.FullEmbedding()}

	// tolerances nothing can reach: only stagnation below TolRound ends it
	cfg := DefaultNewtonConfig()
	cfg.TolAbsolute = 1e-300
	cfg.TolRelative = 0
	n, err := NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	_, st, err := n.StepSolve(u, step)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxRound, st.Iterations)
	assert.Less(t, st.Residual, cfg.TolRound)

	cfg.MaxRound = 0
	cfg.MaxIterations = 5
	n, err = NewNewton(sys, cfg, nil)
	require.NoError(t, err)
	_, st, err = n.StepSolve(u, step)
	assert.ErrorIs(t, err, simerr.ErrIterationBudgetExceeded)
	assert.Equal(t, 5, st.Iterations)
}

func TestScanBackoffReportsRequestedSteps(t *testing.T) {
	sys, d := newSystem(t, pin(map[string]float64{"elements": 10}), matrix.Sparse)

	const steps = 4
	sc := NewVoltageScan(d.Anode, d.Cathode, 0, 0.2, 0.1, steps, WithBackoff(BackoffConfig{MaxHalvings: 1}))
	nominal := sc.Duration() / steps

	// every full time step fails once and is taken in two halves
	failed := 0
	sc.stepSolve = func(n *Newton, u []float64, step system.Step) ([]float64, Statistics, error) {
		if len(step.Coeffs) > 0 && 1/step.Coeffs[0] > 0.75*nominal {
			failed++
			return nil, Statistics{Residual: 1}, simerr.ErrIterationBudgetExceeded
		}
		return n.StepSolve(u, step)
	}

	require.NoError(t, sc.Setup(sys))
	require.NoError(t, sc.Execute(context.Background()))
	assert.Equal(t, steps, failed)

	c := sc.Curve()
	require.Equal(t, steps+1, c.Len())
	for i := 0; i <= steps; i++ {
		assert.InDelta(t, float64(i)*nominal, c.Time[i], 1e-12, "step %d", i)
		assert.InDelta(t, 0.05*float64(i), c.Bias[i], 1e-12, "step %d", i)
	}
}
