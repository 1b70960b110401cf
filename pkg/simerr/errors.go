// Package simerr holds the error kinds shared by the mesh, the assembler and
// the solver loops. Callers match them with errors.Is / errors.As.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal and raised at construction time.
	ErrConfiguration = errors.New("configuration error")

	// ErrNewtonDivergence means the residual kept growing after damping back-off.
	ErrNewtonDivergence = errors.New("newton divergence")

	// ErrIterationBudgetExceeded means Newton ran out of iterations.
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")

	// ErrSingularSystem is returned by the linear-solve boundary.
	ErrSingularSystem = errors.New("singular system")
)

// ConfigurationError names the component that rejected its configuration.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Component, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Configf builds a ConfigurationError for component.
func Configf(component, format string, args ...any) error {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// StepError records which continuation point or bias/time step failed and the
// last residual norm reached before giving up.
type StepError struct {
	Stage     string  // "continuation", "bias", "scan", ...
	Index     int     // position in the schedule or sweep
	Parameter float64 // embedding value, bias or time at the failing step
	Residual  float64 // last scaled residual norm
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step %d (%g) failed, residual %.3e: %v", e.Stage, e.Index, e.Parameter, e.Residual, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
