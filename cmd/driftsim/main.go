package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/toy-drift/pkg/deck"
	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/util"
)

var (
	verbose  = flag.Bool("v", false, "log every continuation, bias and time step")
	plotFile = flag.String("plot", "", "write the I-V curves to this image (png, svg or pdf)")
)

func newLogger() (*zap.Logger, error) {
	if *verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func printResults(rep *deck.Report) {
	fmt.Println("\nAnalysis Results:")
	fmt.Println("================")
	if rep.Title != "" {
		fmt.Println(rep.Title)
	}

	for _, c := range rep.Curves {
		fmt.Printf("\n%s (%d points):\n", c.Name, c.Len())
		transient := rep.Protocol == "scan" || rep.Protocol == "hysteresis"
		if transient {
			fmt.Println("Time         Bias         Current density")
		} else {
			fmt.Println("Bias         Current density")
		}
		fmt.Println("------------------------------------------------")

		for i := range c.Bias {
			if transient {
				fmt.Printf("%-12s ", util.FormatValueFactor(c.Time[i], "s"))
			}
			fmt.Printf("%-12s %s\n",
				util.FormatValueFactor(c.Bias[i], "V"),
				util.FormatValueFactor(c.Current[i], "A/m2"))
		}
	}
}

func savePlot(rep *deck.Report, path string) error {
	p := plot.New()
	p.Title.Text = rep.Title
	p.X.Label.Text = "Bias (V)"
	p.Y.Label.Text = "Current density (A/m2)"

	var lines []any
	for _, c := range rep.Curves {
		pts := make(plotter.XYs, c.Len())
		for i := range pts {
			pts[i].X = c.Bias[i]
			pts[i].Y = c.Current[i]
		}
		lines = append(lines, c.Name, pts)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("Usage: driftsim [-v] [-plot file] <deck.yaml>")
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer logger.Sync()

	// 1. Read deck
	d, err := deck.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("Error reading deck: %v", err)
	}

	// 2. Build device and system
	sim, err := d.Build()
	if err != nil {
		log.Fatalf("Error building device: %v", err)
	}
	sys, err := sim.NewSystem(logger)
	if err != nil {
		log.Fatalf("Error assembling system: %v", err)
	}
	defer sys.Destroy()

	// 3. Run protocol
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, runErr := sim.Run(ctx, sys, logger)

	// 4. Print result, partial on failure
	printResults(rep)
	if *plotFile != "" && len(rep.Curves) > 0 {
		if err := savePlot(rep, *plotFile); err != nil {
			logger.Error("saving plot", zap.String("file", *plotFile), zap.Error(err))
		}
	}

	if runErr != nil {
		var se *simerr.StepError
		if errors.As(runErr, &se) {
			logger.Error("protocol stopped",
				zap.String("stage", se.Stage),
				zap.Int("step", se.Index),
				zap.Float64("parameter", se.Parameter),
				zap.Float64("residual", se.Residual))
		}
		logger.Sync()
		log.Fatalf("Analysis execution failed: %v", runErr)
	}
}
