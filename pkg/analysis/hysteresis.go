package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/edp1096/toy-drift/pkg/system"
)

// ScanConfig describes a forward/reverse scan pair between Low and High.
type ScanConfig struct {
	Contact int
	Ground  int
	Low     float64
	High    float64
	Rate    float64 // V/s
	Steps   int     // time steps per direction
	Order   int     // BDF order, 0 = 1
}

// RunHysteresis solves the stationary starting point once, then runs the
// forward scan (Low to High) and the reverse scan (High to Low) concurrently
// on clones of sys. Each curve holds the points collected before any failure.
func RunHysteresis(ctx context.Context, sys *system.System, cfg ScanConfig, opts ...Option) (forward, reverse *IVCurve, err error) {
	if cfg.High <= cfg.Low {
		return nil, nil, fmt.Errorf("scan range [%g, %g] is empty", cfg.Low, cfg.High)
	}

	base := NewBaseAnalysis(opts...)
	base.System = sys
	if err := base.checkConfig(); err != nil {
		return nil, nil, err
	}
	u0, err := base.prepare(ctx, base.newNewton())
	if err != nil {
		return nil, nil, fmt.Errorf("preparing scans: %w", err)
	}

	scanOpts := append(append([]Option(nil), opts...), WithInitial(u0))
	scans := [2]*VoltageScan{
		NewVoltageScan(cfg.Contact, cfg.Ground, cfg.Low, cfg.High, cfg.Rate, cfg.Steps, scanOpts...),
		NewVoltageScan(cfg.Contact, cfg.Ground, cfg.High, cfg.Low, cfg.Rate, cfg.Steps, scanOpts...),
	}

	var clones []*system.System
	defer func() {
		for _, c := range clones {
			c.Destroy()
		}
	}()
	for _, sc := range scans {
		if cfg.Order != 0 {
			sc.SetOrder(cfg.Order)
		}
		clone, err := sys.Clone()
		if err != nil {
			return nil, nil, err
		}
		clones = append(clones, clone)
		if err := sc.Setup(clone); err != nil {
			return nil, nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range scans {
		g.Go(func() error {
			return sc.Execute(gctx)
		})
	}
	err = g.Wait()
	return scans[0].Curve(), scans[1].Curve(), err
}
