package analysis

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
	"github.com/edp1096/toy-drift/pkg/util"
)

// VoltageScan drives the contact voltage linearly in time at a fixed scan
// rate and integrates the transient system with backward differences. The
// scan starts from the stationary solution at its start voltage.
type VoltageScan struct {
	BaseAnalysis
	contact int
	ground  int
	start   float64
	stop    float64
	rate    float64 // V/s
	steps   int

	order   int // BDF order, 1 or 2
	prebias int // stationary steps from the equilibrium voltage to start
}

func NewVoltageScan(contact, ground int, start, stop, rate float64, steps int, opts ...Option) *VoltageScan {
	return &VoltageScan{
		BaseAnalysis: *NewBaseAnalysis(opts...),
		contact:      contact,
		ground:       ground,
		start:        start,
		stop:         stop,
		rate:         rate,
		steps:        steps,
		order:        1,
		prebias:      12,
	}
}

// SetOrder selects implicit Euler (1) or BDF2 (2) for equal time steps.
func (sc *VoltageScan) SetOrder(order int) {
	sc.order = order
}

// SetPrebiasSteps sets the number of stationary steps used to reach the
// start voltage.
func (sc *VoltageScan) SetPrebiasSteps(n int) {
	sc.prebias = n
}

func (sc *VoltageScan) Setup(sys *system.System) error {
	sc.System = sys
	if _, err := sys.ContactVoltage(sc.contact); err != nil {
		return err
	}
	if _, err := sys.ContactVoltage(sc.ground); err != nil {
		return err
	}
	switch {
	case sc.rate <= 0:
		return fmt.Errorf("scan rate must be positive, got %g", sc.rate)
	case sc.steps < 1:
		return fmt.Errorf("scan needs at least one time step, got %d", sc.steps)
	case sc.order != 1 && sc.order != 2:
		return fmt.Errorf("unsupported BDF order %d", sc.order)
	case sc.prebias < 1:
		return fmt.Errorf("prebias needs at least one step, got %d", sc.prebias)
	}
	return sc.checkConfig()
}

// Duration is the protocol time of the whole scan.
func (sc *VoltageScan) Duration() float64 {
	return math.Abs(sc.stop-sc.start) / sc.rate
}

func (sc *VoltageScan) voltage(t float64) float64 {
	if t >= sc.Duration() {
		return sc.stop
	}
	dir := 1.0
	if sc.stop < sc.start {
		dir = -1
	}
	return sc.start + dir*sc.rate*t
}

func (sc *VoltageScan) Execute(ctx context.Context) error {
	if sc.System == nil {
		return fmt.Errorf("system not set")
	}
	sys := sc.System
	n := sc.newNewton()

	u, err := sc.prepare(ctx, n)
	if err != nil {
		return err
	}
	stationary := system.Step{Embedding: sc.embedding(sc.illumination)}

	// stationary approach to the start voltage
	v0, err := sys.ContactVoltage(sc.contact)
	if err != nil {
		return err
	}
	if v0 != sc.start {
		dv := (sc.start - v0) / float64(sc.prebias)
		last := v0
		for i := 1; i <= sc.prebias; i++ {
			target := v0 + float64(i)*dv
			if i == sc.prebias {
				target = sc.start
			}
			var residual float64
			err := sc.backoff.walk(last, target, func(x float64) error {
				if err := sys.SetContactVoltage(sc.contact, x); err != nil {
					return err
				}
				next, st, err := sc.solveStep(n, u, stationary)
				residual = st.Residual
				if err != nil {
					return err
				}
				u, last = next, x
				return nil
			})
			if err != nil {
				return &simerr.StepError{Stage: "prebias", Index: i, Parameter: target, Residual: residual, Err: err}
			}
		}
	}
	sc.solution = u

	current, err := sys.CurrentThrough(sc.contact, sc.ground, u, nil, 0)
	if err != nil {
		return err
	}
	sc.StoreResult(sc.start, current, 0)

	var (
		history []float64 // solution before u
		t       float64
		lastDt  float64
	)
	nominal := sc.Duration() / float64(sc.steps)

	for i := 1; i <= sc.steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := float64(i) * nominal
		if i == sc.steps {
			target = sc.Duration()
		}

		var residual, bias, current float64
		err := sc.backoff.walk(t, target, func(tn float64) error {
			dt := tn - t
			v := sc.voltage(tn)
			if err := sys.SetContactVoltage(sc.contact, v); err != nil {
				return err
			}

			step := system.Step{Embedding: stationary.Embedding}
			if sc.order == 2 && history != nil && math.Abs(dt-lastDt) <= 1e-9*dt {
				step.Coeffs = util.GetBDFcoeffs(2, dt)
				step.History = [][]float64{u, history}
			} else {
				step.Coeffs = util.GetBDFcoeffs(1, dt)
				step.History = [][]float64{u}
			}

			next, st, err := sc.solveStep(n, u, step)
			residual = st.Residual
			if err != nil {
				return err
			}

			j, err := sys.CurrentThrough(sc.contact, sc.ground, next, u, dt)
			if err != nil {
				return err
			}
			history, u = u, next
			t, lastDt = tn, dt
			bias, current = v, j

			sc.logger.Debug("scan substep",
				zap.Float64("time", t),
				zap.Float64("bias", v),
				zap.Float64("current", current),
				zap.Int("iterations", st.Iterations))
			return nil
		})
		if err != nil {
			sc.logger.Warn("scan step failed", zap.Int("step", i), zap.Float64("time", target), zap.Error(err))
			return &simerr.StepError{Stage: "scan", Index: i, Parameter: target, Residual: residual, Err: err}
		}
		sc.solution = u
		// halved substeps are not reported, only the requested step
		sc.StoreResult(bias, current, t)
		sc.logger.Info("scan step",
			zap.Int("step", i),
			zap.Float64("time", t),
			zap.Float64("bias", bias),
			zap.Float64("current", current))
	}
	return nil
}
