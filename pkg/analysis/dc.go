package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
)

// BackoffConfig enables step halving on a failed bias or time step. The
// default zero value aborts on the first failure.
type BackoffConfig struct {
	MaxHalvings int `validate:"gte=0,lte=30"`
}

// walk advances from `from` to `to`, splitting a failed increment in halves
// up to MaxHalvings levels deep. try commits its state on success.
func (b BackoffConfig) walk(from, to float64, try func(x float64) error) error {
	return b.walkDepth(from, to, 0, try)
}

func (b BackoffConfig) walkDepth(from, to float64, depth int, try func(x float64) error) error {
	err := try(to)
	if err == nil || depth >= b.MaxHalvings {
		return err
	}
	mid := (from + to) / 2
	if err := b.walkDepth(from, mid, depth+1, try); err != nil {
		return err
	}
	return b.walkDepth(mid, to, depth+1, try)
}

// BiasRamp is a stationary I-V sweep: the contact voltage steps through
// equally spaced values and each point starts from the previous solution.
type BiasRamp struct {
	BaseAnalysis
	contact  int // biased contact, current is measured entering here
	ground   int
	voltages []float64
}

// NewBiasRamp sweeps points voltages from start to stop inclusive.
func NewBiasRamp(contact, ground int, start, stop float64, points int, opts ...Option) *BiasRamp {
	if points < 1 {
		panic("bias ramp needs at least one point")
	}
	v := []float64{start}
	if points > 1 {
		v = floats.Span(make([]float64, points), start, stop)
	}
	return &BiasRamp{
		BaseAnalysis: *NewBaseAnalysis(opts...),
		contact:      contact,
		ground:       ground,
		voltages:     v,
	}
}

func (br *BiasRamp) Setup(sys *system.System) error {
	br.System = sys
	if _, err := sys.ContactVoltage(br.contact); err != nil {
		return err
	}
	if _, err := sys.ContactVoltage(br.ground); err != nil {
		return err
	}
	return br.checkConfig()
}

func (br *BiasRamp) Voltages() []float64 {
	return br.voltages
}

func (br *BiasRamp) Execute(ctx context.Context) error {
	if br.System == nil {
		return fmt.Errorf("system not set")
	}
	sys := br.System
	n := br.newNewton()

	u, err := br.prepare(ctx, n)
	if err != nil {
		return err
	}
	br.solution = u
	step := system.Step{Embedding: br.embedding(br.illumination)}

	last, err := sys.ContactVoltage(br.contact)
	if err != nil {
		return err
	}

	for i, v := range br.voltages {
		if err := ctx.Err(); err != nil {
			return err
		}

		var residual float64
		err := br.backoff.walk(last, v, func(x float64) error {
			if err := sys.SetContactVoltage(br.contact, x); err != nil {
				return err
			}
			next, st, err := br.solveStep(n, u, step)
			residual = st.Residual
			if err != nil {
				return err
			}
			u, last = next, x
			return nil
		})
		if err != nil {
			br.logger.Warn("bias step failed", zap.Int("step", i), zap.Float64("bias", v), zap.Error(err))
			return &simerr.StepError{Stage: "bias", Index: i, Parameter: v, Residual: residual, Err: err}
		}
		br.solution = u

		current, err := sys.CurrentThrough(br.contact, br.ground, u, nil, 0)
		if err != nil {
			return err
		}
		br.StoreResult(v, current, 0)

		br.logger.Info("bias step",
			zap.Int("step", i),
			zap.Float64("bias", v),
			zap.Float64("current", current))
	}
	return nil
}
