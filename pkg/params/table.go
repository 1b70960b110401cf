package params

import (
	"math"
	"sort"

	"github.com/edp1096/toy-drift/internal/consts"
	"github.com/edp1096/toy-drift/pkg/simerr"
)

// Species indexes Table.Species.
type Species int

type Role int

const (
	Electron Role = iota
	Hole
	Ion
)

type SpeciesInfo struct {
	Name       string
	Role       Role
	Charge     float64 // z, ±1
	Statistics Statistics

	// Discontinuous species get independent unknowns on both sides of an
	// inner interface node.
	Discontinuous bool
}

// Carrier holds the per-region coefficients of one species. A species is
// present in a region iff the region carries a Carrier record for it.
type Carrier struct {
	DOS      float64 // effective density of states (m^-3)
	BandEdge float64 // band-edge energy (eV)
	Mobility float64 // m^2/(V s)
	Doping   float64 // background density compensating this species (m^-3)
}

type Recombination struct {
	Radiative float64 // m^3/s

	TauN float64 // SRH lifetimes (s); SRH is off unless both are positive
	TauP float64

	// Trap reference densities. When HasTrapLevel is set they are derived
	// from TrapLevel instead.
	TrapN        float64
	TrapP        float64
	HasTrapLevel bool
	TrapLevel    float64 // eV

	AugerN float64 // m^6/s
	AugerP float64
}

func (r *Recombination) SRH() bool {
	return r != nil && r.TauN > 0 && r.TauP > 0
}

type Region struct {
	Dielectric    float64 // relative permittivity
	Carriers      map[Species]Carrier
	Recombination *Recombination // nil disables bulk recombination
	Generation    float64        // uniform photogeneration (m^-3 s^-1)
}

func (r *Region) Carrier(s Species) (Carrier, bool) {
	c, ok := r.Carriers[s]
	return c, ok
}

type BoundaryKind int

const (
	// Insulating boundaries carry no flux and add nothing.
	Insulating BoundaryKind = iota
	// OhmicContact fixes electron and hole potentials to Voltage and ψ to the
	// locally neutral value shifted by Voltage.
	OhmicContact
	// SurfaceContact fixes ψ like an ohmic contact; carriers leave through a
	// surface velocity S (n - n0).
	SurfaceContact
	// InterfaceRecombination adds an SRH-like surface rate at an inner node.
	InterfaceRecombination
	// IonicInterface adds an interface charge unknown reacting with a bulk ion.
	IonicInterface
)

func (k BoundaryKind) String() string {
	switch k {
	case Insulating:
		return "insulating"
	case OhmicContact:
		return "ohmic"
	case SurfaceContact:
		return "surface-contact"
	case InterfaceRecombination:
		return "interface-recombination"
	case IonicInterface:
		return "ionic-interface"
	}
	return "unknown"
}

// InterfaceSpecies is an areal charge living only on an IonicInterface node.
type InterfaceSpecies struct {
	Name       string
	Bulk       Species // bulk ion exchanged with the interface
	Charge     float64
	Statistics Statistics
	DOS        float64 // m^-2
	BandEdge   float64 // eV
	Doping     float64 // m^-2
	Rate       float64 // reaction velocity k_r (m/s), must be positive
}

type Boundary struct {
	Kind    BoundaryKind
	Voltage float64 // contact voltage for OhmicContact / SurfaceContact

	// Optional overrides of DOS and band edge used for surface densities.
	Carriers map[Species]Carrier

	Velocity map[Species]float64 // surface recombination velocities (m/s)
	Transfer map[Species]float64 // exchange velocity across a split interface node (m/s)
	TrapN    float64             // surface SRH reference densities (m^-3)
	TrapP    float64

	Interface *InterfaceSpecies
}

func (b *Boundary) Contact() bool {
	return b.Kind == OhmicContact || b.Kind == SurfaceContact
}

type Table struct {
	Temperature float64 // K, 0 = 300 K
	Species     []SpeciesInfo
	Regions     map[int]*Region
	Boundaries  map[int]*Boundary
}

func (t *Table) ThermalVoltage() float64 {
	return consts.ThermalVoltage(t.Temperature)
}

func (t *Table) NumSpecies() int {
	return len(t.Species)
}

// ByRole returns the first species with the given role.
func (t *Table) ByRole(role Role) (Species, bool) {
	for i, s := range t.Species {
		if s.Role == role {
			return Species(i), true
		}
	}
	return -1, false
}

func (t *Table) Region(id int) *Region {
	return t.Regions[id]
}

func (t *Table) Boundary(id int) *Boundary {
	if b, ok := t.Boundaries[id]; ok {
		return b
	}
	return &Boundary{Kind: Insulating}
}

// SurfaceCarrier merges boundary overrides over the region record.
func (t *Table) SurfaceCarrier(boundaryID, regionID int, s Species) (Carrier, bool) {
	c, ok := t.Regions[regionID].Carrier(s)
	if !ok {
		return Carrier{}, false
	}
	if b, ok := t.Boundaries[boundaryID]; ok {
		if o, ok := b.Carriers[s]; ok {
			if o.DOS > 0 {
				c.DOS = o.DOS
			}
			if o.BandEdge != 0 {
				c.BandEdge = o.BandEdge
			}
		}
	}
	return c, true
}

// IntrinsicSquared is Nc Nv exp(-(Ec - Ev)/U_T) for the region's electrons and holes.
func (t *Table) IntrinsicSquared(c, v Carrier) float64 {
	ut := t.ThermalVoltage()
	return c.DOS * v.DOS * math.Exp(-(c.BandEdge-v.BandEdge)/ut)
}

// TrapDensities returns the SRH reference densities (n_t, p_t).
func (t *Table) TrapDensities(r *Recombination, c, v Carrier) (float64, float64) {
	if !r.HasTrapLevel {
		return r.TrapN, r.TrapP
	}
	ut := t.ThermalVoltage()
	nt := c.DOS * math.Exp((r.TrapLevel-c.BandEdge)/ut)
	pt := v.DOS * math.Exp((v.BandEdge-r.TrapLevel)/ut)
	return nt, pt
}

// Validate checks the table against the regions and boundaries of a mesh.
func (t *Table) Validate(regionIDs, boundaryIDs []int) error {
	if len(t.Species) == 0 {
		return simerr.Configf("params", "no species")
	}
	for i, s := range t.Species {
		if s.Charge != 1 && s.Charge != -1 {
			return simerr.Configf("params", "species %q: charge number must be ±1, got %g", s.Name, s.Charge)
		}
		if s.Statistics == nil {
			return simerr.Configf("params", "species %q: missing statistics", s.Name)
		}
		for j := 0; j < i; j++ {
			if t.Species[j].Name == s.Name {
				return simerr.Configf("params", "duplicate species %q", s.Name)
			}
		}
	}

	electrons, hasN := t.ByRole(Electron)
	holes, hasP := t.ByRole(Hole)

	sort.Ints(regionIDs)
	for _, id := range regionIDs {
		r, ok := t.Regions[id]
		if !ok {
			return simerr.Configf("params", "region %d has no parameter record", id)
		}
		if r.Dielectric <= 0 {
			return simerr.Configf("params", "region %d: dielectric constant must be positive", id)
		}
		for s, c := range r.Carriers {
			if int(s) < 0 || int(s) >= len(t.Species) {
				return simerr.Configf("params", "region %d: unknown species %d", id, s)
			}
			name := t.Species[s].Name
			if c.DOS <= 0 {
				return simerr.Configf("params", "region %d species %q: density of states must be positive", id, name)
			}
			if c.Mobility <= 0 {
				return simerr.Configf("params", "region %d species %q: mobility must be positive", id, name)
			}
		}
		if r.Recombination != nil || r.Generation != 0 {
			_, okN := r.Carriers[electrons]
			_, okP := r.Carriers[holes]
			if !hasN || !hasP || !okN || !okP {
				return simerr.Configf("params", "region %d: recombination/generation requires electrons and holes", id)
			}
		}
	}

	for id, b := range t.Boundaries {
		if b.Kind == IonicInterface {
			is := b.Interface
			if is == nil {
				return simerr.Configf("params", "boundary %d: ionic interface without interface species", id)
			}
			if int(is.Bulk) < 0 || int(is.Bulk) >= len(t.Species) || t.Species[is.Bulk].Role != Ion {
				return simerr.Configf("params", "boundary %d: interface species %q must react with a bulk ion", id, is.Name)
			}
			if is.Rate <= 0 || is.DOS <= 0 || is.Statistics == nil {
				return simerr.Configf("params", "boundary %d: interface species %q needs positive rate, density of states and statistics", id, is.Name)
			}
			if is.Charge != 1 && is.Charge != -1 {
				return simerr.Configf("params", "boundary %d: interface species %q charge must be ±1", id, is.Name)
			}
		}
		if b.Kind == InterfaceRecombination && (!hasN || !hasP) {
			return simerr.Configf("params", "boundary %d: interface recombination requires electrons and holes", id)
		}
		for s, v := range b.Velocity {
			if v < 0 {
				return simerr.Configf("params", "boundary %d: negative surface velocity for species %d", id, s)
			}
		}
		for s, v := range b.Transfer {
			if v < 0 {
				return simerr.Configf("params", "boundary %d: negative transfer velocity for species %d", id, s)
			}
		}
	}
	// Mesh boundaries without a record are insulating; records without a
	// mesh boundary are a typo.
	known := make(map[int]bool, len(boundaryIDs))
	for _, id := range boundaryIDs {
		known[id] = true
	}
	for id := range t.Boundaries {
		if !known[id] {
			return simerr.Configf("params", "boundary %d is not tagged on the mesh", id)
		}
	}
	return nil
}
