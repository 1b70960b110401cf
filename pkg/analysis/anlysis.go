package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edp1096/toy-drift/pkg/system"
)

// Analysis is a protocol run on an assembled system: equilibrium, a bias
// ramp or a voltage scan.
type Analysis interface {
	Setup(sys *system.System) error
	Execute(ctx context.Context) error
	GetResults() map[string][]float64
}

// Result keys.
const (
	BIAS    = "BIAS"
	CURRENT = "CURRENT"
	TIME    = "TIME"
)

var validate = validator.New()

type BaseAnalysis struct {
	System  *system.System
	results map[string][]float64

	newton       NewtonConfig
	continuation ContinuationConfig
	backoff      BackoffConfig
	illumination float64 // generation embedding reached after equilibrium
	initial      []float64
	logger       *zap.Logger

	solution []float64
	stats    []Statistics

	stepSolve func(n *Newton, u []float64, step system.Step) ([]float64, Statistics, error)
}

type Option func(*BaseAnalysis)

func WithLogger(l *zap.Logger) Option {
	return func(a *BaseAnalysis) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithNewton(cfg NewtonConfig) Option {
	return func(a *BaseAnalysis) { a.newton = cfg }
}

func WithContinuation(cfg ContinuationConfig) Option {
	return func(a *BaseAnalysis) { a.continuation = cfg }
}

func WithBackoff(cfg BackoffConfig) Option {
	return func(a *BaseAnalysis) { a.backoff = cfg }
}

// WithIllumination sets the generation embedding in [0, 1] ramped in after
// equilibrium. The default 1 uses the region generation rates as given.
func WithIllumination(g float64) Option {
	return func(a *BaseAnalysis) { a.illumination = g }
}

// WithInitial starts a protocol from a converged stationary solution instead
// of solving for equilibrium first.
func WithInitial(u []float64) Option {
	return func(a *BaseAnalysis) { a.initial = append([]float64(nil), u...) }
}

func NewBaseAnalysis(opts ...Option) *BaseAnalysis {
	ba := &BaseAnalysis{
		results:      make(map[string][]float64),
		newton:       DefaultNewtonConfig(),
		continuation: DefaultContinuationConfig(),
		illumination: 1,
		logger:       zap.NewNop(),
		stepSolve:    (*Newton).StepSolve,
	}
	for _, opt := range opts {
		opt(ba)
	}
	return ba
}

// checkConfig validates the solver settings before a run.
func (a *BaseAnalysis) checkConfig() error {
	for _, cfg := range []any{a.newton, a.continuation, a.backoff} {
		if err := validate.Struct(cfg); err != nil {
			return formatValidationError(err)
		}
	}
	if sch := a.continuation.Schedule; sch[len(sch)-1] != 1 {
		return fmt.Errorf("continuation schedule must end at 1, got %g", sch[len(sch)-1])
	}
	if a.illumination < 0 || a.illumination > 1 {
		return fmt.Errorf("illumination must lie in [0, 1], got %g", a.illumination)
	}
	return nil
}

func (a *BaseAnalysis) newNewton() *Newton {
	return &Newton{sys: a.System, cfg: a.newton, logger: a.logger}
}

// solveStep runs one Newton solve and records its statistics.
func (a *BaseAnalysis) solveStep(n *Newton, u []float64, step system.Step) ([]float64, Statistics, error) {
	next, st, err := a.stepSolve(n, u, step)
	a.stats = append(a.stats, st)
	return next, st, err
}

// StoreResult appends one point of the I-V curve.
func (a *BaseAnalysis) StoreResult(bias, current, time float64) {
	// Ignore a repeated time point
	if times := a.results[TIME]; len(times) > 0 && time > 0 && times[len(times)-1] == time {
		return
	}
	a.results[BIAS] = append(a.results[BIAS], bias)
	a.results[CURRENT] = append(a.results[CURRENT], current)
	a.results[TIME] = append(a.results[TIME], time)
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}

// Curve returns the points stored so far, including those collected before a
// failed step.
func (a *BaseAnalysis) Curve() *IVCurve {
	return &IVCurve{
		Bias:    append([]float64(nil), a.results[BIAS]...),
		Current: append([]float64(nil), a.results[CURRENT]...),
		Time:    append([]float64(nil), a.results[TIME]...),
	}
}

// Solution is the last converged solution.
func (a *BaseAnalysis) Solution() []float64 {
	return a.solution
}

// Statistics returns the Newton statistics of every solve in order.
func (a *BaseAnalysis) Statistics() []Statistics {
	return a.stats
}

// IVCurve is the ordered (bias, current) sequence of a protocol. Time is the
// protocol time of each point, zero for stationary ramps.
type IVCurve struct {
	Bias    []float64
	Current []float64 // A/m^2
	Time    []float64
}

func (c *IVCurve) Len() int {
	return len(c.Bias)
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", e.Namespace(), e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
		}
	}
	return fmt.Errorf("invalid solver configuration: %s", strings.Join(msgs, "; "))
}
