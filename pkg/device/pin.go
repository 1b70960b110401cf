package device

import (
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/params"
)

// Species of the p-i-n preset.
const (
	PINElectrons params.Species = iota
	PINHoles
)

// Boundary ids of the p-i-n preset.
const (
	PINAnode     = 1 // p contact at x = 0
	PINCathode   = 2 // n contact
	PINJunctionP = 3 // p/i interface
	PINJunctionN = 4 // i/n interface
)

// PIN is a GaAs p-i-n diode with three regions of equal default thickness.
type PIN struct {
	Hp, Hi, Hn float64 // region thicknesses (m)
	Elements   int     // cells per region

	Temperature float64
	Ec, Ev      float64 // band edges (eV)
	Nc, Nv      float64 // effective densities of states (m^-3)
	MuN, MuP    float64 // mobilities (m^2/(V s))
	Eps         float64
	Nd, Na      float64 // doping (m^-3)

	Radiative    float64 // m^3/s
	TauN, TauP   float64 // s
	TrapLevel    float64 // eV
	AugerN       float64 // m^6/s
	AugerP       float64
	Generation   float64 // m^-3 s^-1 in the intrinsic region
	SurfaceSpeed float64 // interface recombination velocity at the junctions (m/s), 0 = off

	Statistics params.Statistics
}

func NewPIN() *PIN {
	p := &PIN{}
	p.setDefaultParameters()
	return p
}

func (p *PIN) setDefaultParameters() {
	p.Hp, p.Hi, p.Hn = 2e-6, 2e-6, 2e-6
	p.Elements = 40

	p.Temperature = 300
	p.Ec = 1.424
	p.Ev = 0.0
	p.Nc = 4.351959895879690e23
	p.Nv = 9.139615903601645e24
	p.MuN = 0.85
	p.MuP = 0.04
	p.Eps = 12.9
	p.Nd = 1e23
	p.Na = 1e23

	p.Radiative = 1e-16
	p.TauN = 1e-9
	p.TauP = 1e-9
	p.TrapLevel = 0.6

	p.Statistics = params.Boltzmann{}
}

func (p *PIN) SetModelParameters(m map[string]float64) {
	set(m, "hp", &p.Hp)
	set(m, "hi", &p.Hi)
	set(m, "hn", &p.Hn)
	setInt(m, "elements", &p.Elements)
	set(m, "temp", &p.Temperature)
	set(m, "ec", &p.Ec)
	set(m, "ev", &p.Ev)
	set(m, "nc", &p.Nc)
	set(m, "nv", &p.Nv)
	set(m, "mun", &p.MuN)
	set(m, "mup", &p.MuP)
	set(m, "eps", &p.Eps)
	set(m, "nd", &p.Nd)
	set(m, "na", &p.Na)
	set(m, "rad", &p.Radiative)
	set(m, "taun", &p.TauN)
	set(m, "taup", &p.TauP)
	set(m, "et", &p.TrapLevel)
	set(m, "cn", &p.AugerN)
	set(m, "cp", &p.AugerP)
	set(m, "gen", &p.Generation)
	set(m, "sint", &p.SurfaceSpeed)
}

func (p *PIN) Build() (*Device, error) {
	x1 := p.Hp
	x2 := x1 + p.Hi
	x3 := x2 + p.Hn

	m, err := mesh.New(mesh.Config{
		Coords: mesh.Glue(1e-9*x3,
			floats.Span(make([]float64, p.Elements+1), 0, x1),
			floats.Span(make([]float64, p.Elements+1), x1, x2),
			floats.Span(make([]float64, p.Elements+1), x2, x3),
		),
		Regions: []mesh.RegionSpec{
			{ID: 1, Start: 0, End: x1},
			{ID: 2, Start: x1, End: x2},
			{ID: 3, Start: x2, End: x3},
		},
		Boundaries: []mesh.BoundarySpec{
			{ID: PINAnode, Coord: 0},
			{ID: PINCathode, Coord: x3},
			{ID: PINJunctionP, Coord: x1},
			{ID: PINJunctionN, Coord: x2},
		},
	})
	if err != nil {
		return nil, err
	}

	rec := &params.Recombination{
		Radiative:    p.Radiative,
		TauN:         p.TauN,
		TauP:         p.TauP,
		HasTrapLevel: true,
		TrapLevel:    p.TrapLevel,
		AugerN:       p.AugerN,
		AugerP:       p.AugerP,
	}
	region := func(nd, na, gen float64) *params.Region {
		return &params.Region{
			Dielectric: p.Eps,
			Carriers: map[params.Species]params.Carrier{
				PINElectrons: {DOS: p.Nc, BandEdge: p.Ec, Mobility: p.MuN, Doping: nd},
				PINHoles:     {DOS: p.Nv, BandEdge: p.Ev, Mobility: p.MuP, Doping: na},
			},
			Recombination: rec,
			Generation:    gen,
		}
	}

	tbl := &params.Table{
		Temperature: p.Temperature,
		Species: []params.SpeciesInfo{
			{Name: "n", Role: params.Electron, Charge: -1, Statistics: p.Statistics},
			{Name: "p", Role: params.Hole, Charge: 1, Statistics: p.Statistics},
		},
		Regions: map[int]*params.Region{
			1: region(0, p.Na, 0),
			2: region(0, 0, p.Generation),
			3: region(p.Nd, 0, 0),
		},
		Boundaries: map[int]*params.Boundary{
			PINAnode:   {Kind: params.OhmicContact},
			PINCathode: {Kind: params.OhmicContact},
		},
	}
	if p.SurfaceSpeed > 0 {
		for _, id := range []int{PINJunctionP, PINJunctionN} {
			tbl.Boundaries[id] = &params.Boundary{
				Kind:     params.InterfaceRecombination,
				Velocity: map[params.Species]float64{PINElectrons: p.SurfaceSpeed, PINHoles: p.SurfaceSpeed},
				TrapN:    p.Nc * 1e-12,
				TrapP:    p.Nv * 1e-12,
			}
		}
	}

	return &Device{
		Name:    "pin",
		Mesh:    m,
		Params:  tbl,
		Anode:   PINAnode,
		Cathode: PINCathode,
	}, nil
}
