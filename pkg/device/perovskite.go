package device

import (
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/params"
)

// Species of the perovskite preset.
const (
	PSCElectrons params.Species = iota
	PSCHoles
	PSCAnions
)

// Boundary ids of the perovskite preset.
const (
	PSCCathode = 1 // electron transport layer contact at x = 0
	PSCAnode   = 2 // hole transport layer contact
	PSCETL     = 3 // ETL/perovskite interface
	PSCHTL     = 4 // perovskite/HTL interface
)

// layer holds the per-region coefficients of the perovskite preset.
type layer struct {
	Thickness float64
	Elements  int
	Ec, Ev    float64
	Nc, Nv    float64
	MuN, MuP  float64
	Eps       float64
	Nd, Na    float64
}

// Perovskite is a three-layer cell ETL / perovskite / HTL with mobile anion
// vacancies confined to the perovskite and optional interface charge at the
// ETL side.
type Perovskite struct {
	ETL, PVK, HTL layer

	Temperature float64

	// mobile anion vacancies
	IonDOS      float64
	IonEdge     float64
	IonMobility float64
	IonDoping   float64

	// interface species at the ETL/perovskite junction, off when IfDOS = 0
	IfDOS    float64 // m^-2
	IfEdge   float64
	IfDoping float64
	IfRate   float64 // m/s

	Radiative  float64
	TauN, TauP float64
	TrapLevel  float64
	Generation float64 // perovskite photogeneration (m^-3 s^-1)

	Statistics params.Statistics // electrons and holes
}

func NewPerovskite() *Perovskite {
	p := &Perovskite{}
	p.setDefaultParameters()
	return p
}

func (p *Perovskite) setDefaultParameters() {
	p.ETL = layer{
		Thickness: 9.9e-8, Elements: 20,
		Ec: -4.0, Ev: -5.8, Nc: 5e26, Nv: 5e26,
		MuN: 3.89e-4, MuP: 3.89e-4, Eps: 10, Nd: 2.089e24,
	}
	p.PVK = layer{
		Thickness: 4e-7, Elements: 40,
		Ec: -3.7, Ev: -5.4, Nc: 8.1e24, Nv: 5.8e24,
		MuN: 6.62e-3, MuP: 6.62e-3, Eps: 24.1,
	}
	p.HTL = layer{
		Thickness: 1.99e-7, Elements: 20,
		Ec: -3.4, Ev: -5.1, Nc: 5e26, Nv: 5e26,
		MuN: 3.89e-4, MuP: 3.89e-4, Eps: 3, Na: 2.089e24,
	}

	p.Temperature = 300

	p.IonDOS = 1e27
	p.IonEdge = -4.45
	p.IonMobility = 1e-14
	p.IonDoping = 6e22

	p.IfDOS = 1e17
	p.IfEdge = -4.35
	p.IfRate = 1e-8

	p.Radiative = 3.6e-18
	p.TauN = 1e-7
	p.TauP = 1e-7
	p.TrapLevel = -4.55

	p.Statistics = params.Boltzmann{}
}

func (p *Perovskite) SetModelParameters(m map[string]float64) {
	for prefix, l := range map[string]*layer{"etl": &p.ETL, "pvk": &p.PVK, "htl": &p.HTL} {
		set(m, prefix+".h", &l.Thickness)
		setInt(m, prefix+".elements", &l.Elements)
		set(m, prefix+".ec", &l.Ec)
		set(m, prefix+".ev", &l.Ev)
		set(m, prefix+".nc", &l.Nc)
		set(m, prefix+".nv", &l.Nv)
		set(m, prefix+".mun", &l.MuN)
		set(m, prefix+".mup", &l.MuP)
		set(m, prefix+".eps", &l.Eps)
		set(m, prefix+".nd", &l.Nd)
		set(m, prefix+".na", &l.Na)
	}
	set(m, "temp", &p.Temperature)
	set(m, "ion.dos", &p.IonDOS)
	set(m, "ion.e", &p.IonEdge)
	set(m, "ion.mu", &p.IonMobility)
	set(m, "ion.c", &p.IonDoping)
	set(m, "if.dos", &p.IfDOS)
	set(m, "if.e", &p.IfEdge)
	set(m, "if.c", &p.IfDoping)
	set(m, "if.k", &p.IfRate)
	set(m, "rad", &p.Radiative)
	set(m, "taun", &p.TauN)
	set(m, "taup", &p.TauP)
	set(m, "et", &p.TrapLevel)
	set(m, "gen", &p.Generation)
}

func (p *Perovskite) Build() (*Device, error) {
	x1 := p.ETL.Thickness
	x2 := x1 + p.PVK.Thickness
	x3 := x2 + p.HTL.Thickness

	m, err := mesh.New(mesh.Config{
		Coords: mesh.Glue(1e-9*x3,
			floats.Span(make([]float64, p.ETL.Elements+1), 0, x1),
			floats.Span(make([]float64, p.PVK.Elements+1), x1, x2),
			floats.Span(make([]float64, p.HTL.Elements+1), x2, x3),
		),
		Regions: []mesh.RegionSpec{
			{ID: 1, Start: 0, End: x1},
			{ID: 2, Start: x1, End: x2},
			{ID: 3, Start: x2, End: x3},
		},
		Boundaries: []mesh.BoundarySpec{
			{ID: PSCCathode, Coord: 0},
			{ID: PSCAnode, Coord: x3},
			{ID: PSCETL, Coord: x1},
			{ID: PSCHTL, Coord: x2},
		},
	})
	if err != nil {
		return nil, err
	}

	region := func(l layer) *params.Region {
		return &params.Region{
			Dielectric: l.Eps,
			Carriers: map[params.Species]params.Carrier{
				PSCElectrons: {DOS: l.Nc, BandEdge: l.Ec, Mobility: l.MuN, Doping: l.Nd},
				PSCHoles:     {DOS: l.Nv, BandEdge: l.Ev, Mobility: l.MuP, Doping: l.Na},
			},
		}
	}

	pvk := region(p.PVK)
	pvk.Carriers[PSCAnions] = params.Carrier{DOS: p.IonDOS, BandEdge: p.IonEdge, Mobility: p.IonMobility, Doping: p.IonDoping}
	pvk.Recombination = &params.Recombination{
		Radiative:    p.Radiative,
		TauN:         p.TauN,
		TauP:         p.TauP,
		HasTrapLevel: true,
		TrapLevel:    p.TrapLevel,
	}
	pvk.Generation = p.Generation

	tbl := &params.Table{
		Temperature: p.Temperature,
		Species: []params.SpeciesInfo{
			{Name: "n", Role: params.Electron, Charge: -1, Statistics: p.Statistics},
			{Name: "p", Role: params.Hole, Charge: 1, Statistics: p.Statistics},
			{Name: "a", Role: params.Ion, Charge: 1, Statistics: params.FermiDiracMinusOne{}},
		},
		Regions: map[int]*params.Region{
			1: region(p.ETL),
			2: pvk,
			3: region(p.HTL),
		},
		Boundaries: map[int]*params.Boundary{
			PSCCathode: {Kind: params.OhmicContact},
			PSCAnode:   {Kind: params.OhmicContact},
		},
	}
	if p.IfDOS > 0 {
		tbl.Boundaries[PSCETL] = &params.Boundary{
			Kind: params.IonicInterface,
			Interface: &params.InterfaceSpecies{
				Name:       "a_if",
				Bulk:       PSCAnions,
				Charge:     1,
				Statistics: params.FermiDiracMinusOne{},
				DOS:        p.IfDOS,
				BandEdge:   p.IfEdge,
				Doping:     p.IfDoping,
				Rate:       p.IfRate,
			},
		}
	}

	return &Device{
		Name:    "perovskite",
		Mesh:    m,
		Params:  tbl,
		Anode:   PSCAnode,
		Cathode: PSCCathode,
	}, nil
}
