package deck

import (
	"context"

	"go.uber.org/zap"

	"github.com/edp1096/toy-drift/pkg/analysis"
	"github.com/edp1096/toy-drift/pkg/system"
)

// Curve is one named I-V sequence of a run.
type Curve struct {
	Name string
	*analysis.IVCurve
}

// Report holds the curves collected by Run, complete or up to the step that
// failed.
type Report struct {
	Title    string
	Protocol string
	Curves   []Curve
	Solution []float64 // last converged solution of single-run protocols
}

// Run executes the deck's protocol on sys. The report is returned even when
// the run fails part way.
func (s *Simulation) Run(ctx context.Context, sys *system.System, logger *zap.Logger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := s.Analysis
	rep := &Report{Title: s.Title, Protocol: a.Type}
	opts := s.Options(logger)

	logger.Info("running protocol",
		zap.String("protocol", a.Type),
		zap.Int("contact", a.Contact),
		zap.Int("ground", a.Ground),
		zap.Int("unknowns", sys.Size()))

	if a.Type == "hysteresis" {
		fwd, rev, err := analysis.RunHysteresis(ctx, sys, analysis.ScanConfig{
			Contact: a.Contact,
			Ground:  a.Ground,
			Low:     a.Low.Float(),
			High:    a.High.Float(),
			Rate:    a.Rate.Float(),
			Steps:   a.Steps,
			Order:   a.Order,
		}, opts...)
		if fwd != nil {
			rep.Curves = append(rep.Curves, Curve{Name: "forward", IVCurve: fwd}, Curve{Name: "reverse", IVCurve: rev})
		}
		return rep, err
	}

	var run interface {
		analysis.Analysis
		Curve() *analysis.IVCurve
		Solution() []float64
	}
	switch a.Type {
	case "op":
		// equilibrium reported as a one-point ramp at the configured voltage
		v, err := sys.ContactVoltage(a.Contact)
		if err != nil {
			return rep, err
		}
		run = analysis.NewBiasRamp(a.Contact, a.Ground, v, v, 1, opts...)
	case "ramp":
		run = analysis.NewBiasRamp(a.Contact, a.Ground, a.Start.Float(), a.Stop.Float(), a.Points, opts...)
	case "scan":
		sc := analysis.NewVoltageScan(a.Contact, a.Ground, a.Start.Float(), a.Stop.Float(), a.Rate.Float(), a.Steps, opts...)
		if a.Order != 0 {
			sc.SetOrder(a.Order)
		}
		run = sc
	}

	if err := run.Setup(sys); err != nil {
		return rep, err
	}
	err := run.Execute(ctx)
	rep.Curves = append(rep.Curves, Curve{Name: a.Type, IVCurve: run.Curve()})
	rep.Solution = run.Solution()
	return rep, err
}
