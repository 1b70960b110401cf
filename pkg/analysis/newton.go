package analysis

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
)

// NewtonConfig controls the damped Newton iteration. Norms are Euclidean over
// the row-scaled residual of the full unknown vector.
type NewtonConfig struct {
	MaxIterations int     `validate:"gte=1"`
	TolAbsolute   float64 `validate:"gt=0"`
	TolRelative   float64 `validate:"gte=0"`

	// Round-off acceptance: MaxRound consecutive iterations with the
	// residual below TolRound and non-increasing corrections.
	TolRound float64 `validate:"gte=0"`
	MaxRound int     `validate:"gte=0"`

	DampInitial float64 `validate:"gt=0,lte=1"`
	DampGrowth  float64 `validate:"gte=1"`
	DampMin     float64 `validate:"gt=0,lte=1"`
	Rejection   float64 `validate:"gt=1"` // trial residual growth that halves the damping

	Gmin float64 `validate:"gte=0"` // diagonal shift retried on a singular solve, 0 = off
}

func DefaultNewtonConfig() NewtonConfig {
	return NewtonConfig{
		MaxIterations: 100,
		TolAbsolute:   1e-10,
		TolRelative:   1e-10,
		TolRound:      1e-8,
		MaxRound:      3,
		DampInitial:   0.5,
		DampGrowth:    1.21,
		DampMin:       1e-5,
		Rejection:     10,
		Gmin:          1e-9,
	}
}

// Statistics describes one Newton solve.
type Statistics struct {
	Iterations int
	Residual   float64 // final scaled residual norm
	Initial    float64 // scaled residual norm at the initial guess
	Rejected   int     // damped trials rejected
	Shifted    int     // singular solves retried with the gmin shift
	Damping    float64 // damping of the last accepted step
}

// Newton solves residual(u) = 0 for one system with its own matrix and
// Jacobian buffer.
type Newton struct {
	sys    *system.System
	cfg    NewtonConfig
	logger *zap.Logger
}

func NewNewton(sys *system.System, cfg NewtonConfig, logger *zap.Logger) (*Newton, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Newton{sys: sys, cfg: cfg, logger: logger}, nil
}

// StepSolve runs one damped Newton solve from u at the current contact
// voltages. u is left untouched on failure; on success the converged
// solution is returned as a new slice.
func (n *Newton) StepSolve(u []float64, step system.Step) ([]float64, Statistics, error) {
	x := append([]float64(nil), u...)
	stats, err := n.solve(x, step)
	if err != nil {
		return nil, stats, err
	}
	return x, stats, nil
}

func (n *Newton) solve(u []float64, step system.Step) (Statistics, error) {
	cfg := n.cfg
	sys := n.sys
	jac := sys.Jacobian()
	mat := sys.GetMatrix()
	size := sys.Size()

	sys.Assemble(u, step, jac)
	norm := floats.Norm(jac.Scale(), 2)
	stats := Statistics{Initial: norm, Residual: norm}
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return stats, fmt.Errorf("%w: non-finite residual at the initial guess", simerr.ErrNewtonDivergence)
	}
	if n.converged(norm, stats.Initial) {
		return stats, nil
	}

	damp := cfg.DampInitial
	trial := make([]float64, size)
	du := make([]float64, size)
	prevUpdate := math.Inf(1)
	round := 0

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		stats.Iterations = iter

		jac.Load(mat)
		err := mat.Solve()
		if err != nil && errors.Is(err, simerr.ErrSingularSystem) && cfg.Gmin > 0 {
			stats.Shifted++
			n.logger.Debug("singular solve, retrying with gmin", zap.Int("iteration", iter), zap.Float64("gmin", cfg.Gmin))
			jac.LoadShifted(mat, cfg.Gmin)
			err = mat.Solve()
		}
		if err != nil {
			return stats, fmt.Errorf("newton iteration %d: %w", iter, err)
		}
		copy(du, mat.Solution()[1:])

		scales := jac.Scales()
		for {
			floats.AddScaledTo(trial, u, damp, du)
			sys.Assemble(trial, step, jac)
			tn := floats.Norm(jac.ScaledResidual(scales), 2)
			if !math.IsNaN(tn) && tn <= cfg.Rejection*norm {
				break
			}

			stats.Rejected++
			damp /= 2
			if damp < cfg.DampMin {
				return stats, fmt.Errorf("%w: damping fell below %g at iteration %d, residual %.3e",
					simerr.ErrNewtonDivergence, cfg.DampMin, iter, norm)
			}
		}
		copy(u, trial)

		update := damp * floats.Norm(du, 2)
		norm = floats.Norm(jac.Scale(), 2)
		stats.Residual = norm
		stats.Damping = damp

		n.logger.Debug("newton",
			zap.Int("iteration", iter),
			zap.Float64("residual", norm),
			zap.Float64("update", update),
			zap.Float64("damping", damp))

		if n.converged(norm, stats.Initial) {
			return stats, nil
		}
		if norm < cfg.TolRound && update <= prevUpdate+cfg.TolRound {
			round++
		} else {
			round = 0
		}
		if cfg.MaxRound > 0 && round >= cfg.MaxRound {
			return stats, nil
		}
		prevUpdate = update

		damp = math.Min(1, damp*cfg.DampGrowth)
	}

	return stats, fmt.Errorf("%w: %d iterations, residual %.3e", simerr.ErrIterationBudgetExceeded, cfg.MaxIterations, norm)
}

func (n *Newton) converged(norm, initial float64) bool {
	return norm < n.cfg.TolAbsolute || norm < n.cfg.TolRelative*initial
}
