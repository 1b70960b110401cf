package analysis

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
)

// ContinuationConfig is the embedding schedule of the equilibrium solve.
// Each point scales the mobile ion charge and the interface reaction seen by
// the bulk ions; generation stays off.
type ContinuationConfig struct {
	Schedule []float64 `validate:"required,min=1,dive,gte=0,lte=1"`
}

func DefaultContinuationConfig() ContinuationConfig {
	return ContinuationConfig{Schedule: LogSchedule(10)}
}

// LogSchedule returns {0, 10^-k, ..., 10^-1, 1}.
func LogSchedule(k int) []float64 {
	s := []float64{0}
	for i := k; i >= 0; i-- {
		s = append(s, math.Pow(10, float64(-i)))
	}
	return s
}

// OperatingPoint solves for thermodynamic equilibrium: zero applied bias, no
// generation, continuation over the ion embedding.
type OperatingPoint struct{ BaseAnalysis }

func NewOP(opts ...Option) *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(opts...),
	}
}

func (op *OperatingPoint) Setup(sys *system.System) error {
	op.System = sys
	return op.checkConfig()
}

func (op *OperatingPoint) Execute(ctx context.Context) error {
	if op.System == nil {
		return fmt.Errorf("system not set")
	}
	u, stats, err := EquilibriumSolve(ctx, op.newNewton(), op.continuation)
	op.stats = append(op.stats, stats...)
	if err != nil {
		return err
	}
	op.solution = u
	return nil
}

// EquilibriumSolve runs the continuation loop from the system's initial
// guess with every contact at its configured voltage. A failure at any
// schedule point is fatal and reported as a *simerr.StepError.
func EquilibriumSolve(ctx context.Context, n *Newton, cfg ContinuationConfig) ([]float64, []Statistics, error) {
	sys := n.sys
	u := sys.InitialGuess()
	stats := make([]Statistics, 0, len(cfg.Schedule))

	for i, lambda := range cfg.Schedule {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		step := system.Step{Embedding: system.Embedding{IonCharge: lambda, InterfaceReaction: lambda}}
		next, st, err := n.StepSolve(u, step)
		stats = append(stats, st)
		if err != nil {
			n.logger.Warn("continuation step failed",
				zap.Int("step", i),
				zap.Float64("lambda", lambda),
				zap.Float64("residual", st.Residual),
				zap.Error(err))
			return nil, stats, &simerr.StepError{
				Stage:     "continuation",
				Index:     i,
				Parameter: lambda,
				Residual:  st.Residual,
				Err:       err,
			}
		}
		u = next

		n.logger.Info("continuation step",
			zap.Int("step", i),
			zap.Float64("lambda", lambda),
			zap.Int("iterations", st.Iterations),
			zap.Float64("residual", st.Residual))
	}
	return u, stats, nil
}

// prepare produces the stationary starting point of a protocol: the initial
// solution if one was given, else equilibrium followed by an illumination
// ramp over the same schedule when any region generates carriers.
func (a *BaseAnalysis) prepare(ctx context.Context, n *Newton) ([]float64, error) {
	if a.initial != nil {
		if len(a.initial) != a.System.Size() {
			return nil, fmt.Errorf("initial solution has %d unknowns, want %d", len(a.initial), a.System.Size())
		}
		return append([]float64(nil), a.initial...), nil
	}

	u, stats, err := EquilibriumSolve(ctx, n, a.continuation)
	a.stats = append(a.stats, stats...)
	if err != nil {
		return nil, err
	}
	if a.illumination == 0 || !generates(a.System) {
		return u, nil
	}

	for i, lambda := range a.continuation.Schedule {
		if lambda == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, st, err := a.solveStep(n, u, system.Step{Embedding: a.embedding(lambda * a.illumination)})
		if err != nil {
			return nil, &simerr.StepError{Stage: "illumination", Index: i, Parameter: lambda, Residual: st.Residual, Err: err}
		}
		u = next
	}
	n.logger.Info("illumination ramp done", zap.Float64("generation", a.illumination))
	return u, nil
}

// embedding is the full embedding with generation scaled by g.
func (a *BaseAnalysis) embedding(g float64) system.Embedding {
	e := system.FullEmbedding()
	e.Generation = g
	return e
}

func generates(sys *system.System) bool {
	for _, r := range sys.Params().Regions {
		if r.Generation != 0 {
			return true
		}
	}
	return false
}
