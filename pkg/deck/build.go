package deck

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/analysis"
	"github.com/edp1096/toy-drift/pkg/device"
	"github.com/edp1096/toy-drift/pkg/matrix"
	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/model"
	"github.com/edp1096/toy-drift/pkg/params"
	"github.com/edp1096/toy-drift/pkg/simerr"
	"github.com/edp1096/toy-drift/pkg/system"
)

// Simulation is a built deck: the device plus everything needed to create a
// system and run the protocol on it.
type Simulation struct {
	Title   string
	Device  *device.Device
	Flux    model.FluxScheme
	Backend matrix.Backend

	Newton       analysis.NewtonConfig
	Continuation analysis.ContinuationConfig
	Backoff      analysis.BackoffConfig
	Illumination float64

	Analysis Analysis
}

func (d *Deck) Build() (*Simulation, error) {
	sim := &Simulation{
		Title:        d.Title,
		Newton:       d.Solver.Newton.apply(analysis.DefaultNewtonConfig()),
		Continuation: analysis.DefaultContinuationConfig(),
		Backoff:      analysis.BackoffConfig{MaxHalvings: d.Solver.Backoff},
		Illumination: 1,
		Analysis:     d.Analysis,
	}
	if d.Solver.Decades > 0 {
		sim.Continuation.Schedule = analysis.LogSchedule(d.Solver.Decades)
	}
	if d.Solver.Illumination != nil {
		sim.Illumination = d.Solver.Illumination.Float()
	}

	var ok bool
	if sim.Flux, ok = model.SchemeByName(d.Flux); !ok {
		return nil, simerr.Configf("deck", "unknown flux scheme %q", d.Flux)
	}
	if sim.Backend, ok = matrix.BackendByName(d.Backend); !ok {
		return nil, simerr.Configf("deck", "unknown matrix backend %q", d.Backend)
	}

	var err error
	if d.Preset != nil {
		sim.Device, err = d.buildPreset()
	} else {
		sim.Device, err = d.buildDevice()
	}
	if err != nil {
		return nil, err
	}

	if sim.Analysis.Contact == 0 {
		sim.Analysis.Contact = sim.Device.Anode
	}
	if sim.Analysis.Ground == 0 {
		sim.Analysis.Ground = sim.Device.Cathode
	}
	return sim, nil
}

func (n Newton) apply(cfg analysis.NewtonConfig) analysis.NewtonConfig {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *Quantity) {
		if v != nil {
			*dst = v.Float()
		}
	}
	setInt(&cfg.MaxIterations, n.MaxIterations)
	setInt(&cfg.MaxRound, n.MaxRound)
	setFloat(&cfg.TolAbsolute, n.TolAbsolute)
	setFloat(&cfg.TolRelative, n.TolRelative)
	setFloat(&cfg.TolRound, n.TolRound)
	setFloat(&cfg.DampInitial, n.DampInitial)
	setFloat(&cfg.DampGrowth, n.DampGrowth)
	setFloat(&cfg.DampMin, n.DampMin)
	setFloat(&cfg.Gmin, n.Gmin)
	return cfg
}

func (d *Deck) buildPreset() (*device.Device, error) {
	p := make(map[string]float64, len(d.Preset.Params)+1)
	for k, v := range d.Preset.Params {
		p[k] = v.Float()
	}
	if d.Temperature > 0 {
		p["temp"] = d.Temperature.Float()
	}

	dev, ok, err := device.New(device.ModelParam{Type: d.Preset.Type, Name: d.Title, Params: p})
	if !ok {
		return nil, simerr.Configf("deck", "unknown preset %q", d.Preset.Type)
	}
	return dev, err
}

func (d *Deck) buildDevice() (*device.Device, error) {
	tbl := &params.Table{
		Temperature: d.Temperature.Float(),
		Regions:     make(map[int]*params.Region),
		Boundaries:  make(map[int]*params.Boundary),
	}

	names := make(map[string]params.Species, len(d.Species))
	for i, s := range d.Species {
		st, ok := params.StatisticsByName(s.Statistics)
		if !ok {
			return nil, simerr.Configf("deck", "species %q: unknown statistics %q", s.Name, s.Statistics)
		}
		tbl.Species = append(tbl.Species, params.SpeciesInfo{
			Name:          s.Name,
			Role:          roles[s.Role],
			Charge:        float64(s.Charge),
			Statistics:    st,
			Discontinuous: s.Discontinuous,
		})
		names[s.Name] = params.Species(i)
	}
	lookup := func(where, name string) (params.Species, error) {
		sp, ok := names[name]
		if !ok {
			return 0, simerr.Configf("deck", "%s: unknown species %q", where, name)
		}
		return sp, nil
	}

	regions := append([]Region(nil), d.Regions...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })

	var (
		parts [][]float64
		specs []mesh.RegionSpec
	)
	for _, r := range regions {
		if _, dup := tbl.Regions[r.ID]; dup {
			return nil, simerr.Configf("deck", "duplicate region id %d", r.ID)
		}
		parts = append(parts, floats.Span(make([]float64, r.Elements+1), r.Start.Float(), r.End.Float()))
		specs = append(specs, mesh.RegionSpec{ID: r.ID, Start: r.Start.Float(), End: r.End.Float()})

		reg := &params.Region{
			Dielectric: r.Dielectric.Float(),
			Carriers:   make(map[params.Species]params.Carrier, len(r.Carriers)),
			Generation: r.Generation.Float(),
		}
		for name, c := range r.Carriers {
			sp, err := lookup("region", name)
			if err != nil {
				return nil, err
			}
			reg.Carriers[sp] = params.Carrier{
				DOS:      c.DOS.Float(),
				BandEdge: c.Edge.Float(),
				Mobility: c.Mobility.Float(),
				Doping:   c.Doping.Float(),
			}
		}
		if rc := r.Recombination; rc != nil {
			reg.Recombination = &params.Recombination{
				Radiative: rc.Radiative.Float(),
				TauN:      rc.TauN.Float(),
				TauP:      rc.TauP.Float(),
				TrapN:     rc.TrapN.Float(),
				TrapP:     rc.TrapP.Float(),
				AugerN:    rc.AugerN.Float(),
				AugerP:    rc.AugerP.Float(),
			}
			if rc.TrapLevel != nil {
				reg.Recombination.HasTrapLevel = true
				reg.Recombination.TrapLevel = rc.TrapLevel.Float()
			}
		}
		tbl.Regions[r.ID] = reg
	}

	length := regions[len(regions)-1].End.Float() - regions[0].Start.Float()
	var bspecs []mesh.BoundarySpec
	for _, b := range d.Boundaries {
		if _, dup := tbl.Boundaries[b.ID]; dup {
			return nil, simerr.Configf("deck", "duplicate boundary id %d", b.ID)
		}
		bspecs = append(bspecs, mesh.BoundarySpec{ID: b.ID, Coord: b.At.Float()})

		bnd := &params.Boundary{
			Kind:    kinds[b.Kind],
			Voltage: b.Voltage.Float(),
			TrapN:   b.TrapN.Float(),
			TrapP:   b.TrapP.Float(),
		}
		if len(b.Carriers) > 0 {
			bnd.Carriers = make(map[params.Species]params.Carrier, len(b.Carriers))
			for name, c := range b.Carriers {
				sp, err := lookup("boundary carriers", name)
				if err != nil {
					return nil, err
				}
				bnd.Carriers[sp] = params.Carrier{DOS: c.DOS.Float(), BandEdge: c.Edge.Float()}
			}
		}
		var err error
		if bnd.Velocity, err = speciesValues(b.Velocity, lookup); err != nil {
			return nil, err
		}
		if bnd.Transfer, err = speciesValues(b.Transfer, lookup); err != nil {
			return nil, err
		}

		if is := b.Interface; is != nil {
			bulk, err := lookup("interface bulk", is.Bulk)
			if err != nil {
				return nil, err
			}
			st, ok := params.StatisticsByName(is.Statistics)
			if !ok {
				return nil, simerr.Configf("deck", "interface %q: unknown statistics %q", is.Name, is.Statistics)
			}
			bnd.Interface = &params.InterfaceSpecies{
				Name:       is.Name,
				Bulk:       bulk,
				Charge:     float64(is.Charge),
				Statistics: st,
				DOS:        is.DOS.Float(),
				BandEdge:   is.Edge.Float(),
				Doping:     is.Doping.Float(),
				Rate:       is.Rate.Float(),
			}
		}
		tbl.Boundaries[b.ID] = bnd
	}

	m, err := mesh.New(mesh.Config{
		Coords:     mesh.Glue(1e-9*math.Abs(length), parts...),
		Regions:    specs,
		Boundaries: bspecs,
	})
	if err != nil {
		return nil, err
	}

	dev := &device.Device{Name: d.Title, Mesh: m, Params: tbl}
	dev.Anode, dev.Cathode = d.pickContacts(tbl)
	return dev, nil
}

// pickContacts takes the first two contacts in deck order as anode and
// cathode.
func (d *Deck) pickContacts(tbl *params.Table) (int, int) {
	var ids []int
	for _, b := range d.Boundaries {
		if tbl.Boundary(b.ID).Contact() {
			ids = append(ids, b.ID)
		}
	}
	switch len(ids) {
	case 0:
		return 0, 0
	case 1:
		return ids[0], 0
	}
	return ids[0], ids[1]
}

func speciesValues(in map[string]Quantity, lookup func(string, string) (params.Species, error)) (map[params.Species]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[params.Species]float64, len(in))
	for name, v := range in {
		sp, err := lookup("boundary", name)
		if err != nil {
			return nil, err
		}
		out[sp] = v.Float()
	}
	return out, nil
}

var roles = map[string]params.Role{
	"electron": params.Electron,
	"hole":     params.Hole,
	"ion":      params.Ion,
}

var kinds = map[string]params.BoundaryKind{
	"insulating":              params.Insulating,
	"ohmic":                   params.OhmicContact,
	"surface-contact":         params.SurfaceContact,
	"interface-recombination": params.InterfaceRecombination,
	"ionic-interface":         params.IonicInterface,
}

// NewSystem assembles the discretized system of the deck's device.
func (s *Simulation) NewSystem(logger *zap.Logger) (*system.System, error) {
	return system.New(system.Config{
		Mesh:    s.Device.Mesh,
		Params:  s.Device.Params,
		Flux:    s.Flux,
		Backend: s.Backend,
	}, system.WithLogger(logger))
}

// Options carries the deck's solver settings into an analysis.
func (s *Simulation) Options(logger *zap.Logger) []analysis.Option {
	return []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithNewton(s.Newton),
		analysis.WithContinuation(s.Continuation),
		analysis.WithBackoff(s.Backoff),
		analysis.WithIllumination(s.Illumination),
	}
}
