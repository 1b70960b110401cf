package system

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/params"
	"github.com/edp1096/toy-drift/pkg/simerr"
)

type contact struct {
	boundary int
	node     int
	kind     params.BoundaryKind
	voltage  float64
	psi0     float64 // built-in potential from local charge neutrality
	outflow  []surfaceCarrier
}

// surfaceCarrier is a carrier leaving through a surface contact with
// velocity S towards its equilibrium density n0.
type surfaceCarrier struct {
	species  params.Species
	row      int
	carrier  params.Carrier
	velocity float64
	n0       float64
}

func (s *System) setupContacts() error {
	for _, b := range s.mesh.Boundaries() {
		bnd := s.tbl.Boundary(b.ID)
		if !bnd.Contact() {
			continue
		}

		side := mesh.Left
		if _, ok := s.mesh.SideRegion(b.Node, mesh.Left); !ok {
			side = mesh.Right
		}
		rid, _ := s.mesh.SideRegion(b.Node, side)

		psi0, err := s.neutralPotential(b.ID, rid)
		if err != nil {
			return err
		}

		c := contact{
			boundary: b.ID,
			node:     b.Node,
			kind:     bnd.Kind,
			voltage:  bnd.Voltage,
			psi0:     psi0,
		}

		if bnd.Kind == params.SurfaceContact {
			for i := range s.tbl.Species {
				sp := params.Species(i)
				v := bnd.Velocity[sp]
				row := s.index[sp][b.Node][side]
				if v <= 0 || row < 0 {
					continue
				}
				cc, _ := s.tbl.SurfaceCarrier(b.ID, rid, sp)
				n0, _, _ := s.density(sp, cc, psi0, 0)
				c.outflow = append(c.outflow, surfaceCarrier{
					species:  sp,
					row:      row,
					carrier:  cc,
					velocity: v,
					n0:       n0,
				})
			}
		}

		s.contacts = append(s.contacts, c)
	}
	return nil
}

// neutralPotential solves Σ z (n - C) = 0 over electrons and holes for ψ at
// φ = 0 by bisection. Charge decreases monotonically with ψ.
func (s *System) neutralPotential(boundaryID, regionID int) (float64, error) {
	type term struct {
		sp params.Species
		c  params.Carrier
	}

	var terms []term
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, info := range s.tbl.Species {
		if info.Role == params.Ion {
			continue
		}
		c, ok := s.tbl.SurfaceCarrier(boundaryID, regionID, params.Species(i))
		if !ok {
			continue
		}
		terms = append(terms, term{params.Species(i), c})
		lo = math.Min(lo, c.BandEdge)
		hi = math.Max(hi, c.BandEdge)
	}
	if len(terms) == 0 {
		return 0, simerr.Configf("system", "region %d: no electrons or holes for local neutrality", regionID)
	}

	charge := func(psi float64) float64 {
		q := 0.0
		for _, t := range terms {
			n, _, _ := s.density(t.sp, t.c, psi, 0)
			q += s.tbl.Species[t.sp].Charge * (n - t.c.Doping)
		}
		return q
	}

	lo, hi = lo-1, hi+1
	for i := 0; charge(lo) <= 0 || charge(hi) >= 0; i++ {
		if i == 8 {
			return 0, simerr.Configf("system", "region %d: no charge-neutral potential", regionID)
		}
		lo, hi = lo-1, hi+1
	}

	for i := 0; i < 200 && hi-lo > 1e-15*(1+math.Abs(lo)); i++ {
		mid := (lo + hi) / 2
		if charge(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

func (s *System) findContact(id int) (*contact, error) {
	for i := range s.contacts {
		if s.contacts[i].boundary == id {
			return &s.contacts[i], nil
		}
	}
	return nil, fmt.Errorf("boundary %d is not a contact", id)
}

// Contacts returns the boundary ids of all ohmic and surface contacts.
func (s *System) Contacts() []int {
	ids := make([]int, len(s.contacts))
	for i, c := range s.contacts {
		ids[i] = c.boundary
	}
	return ids
}

func (s *System) SetContactVoltage(id int, v float64) error {
	c, err := s.findContact(id)
	if err != nil {
		return err
	}
	c.voltage = v
	return nil
}

func (s *System) ContactVoltage(id int) (float64, error) {
	c, err := s.findContact(id)
	if err != nil {
		return 0, err
	}
	return c.voltage, nil
}

// BuiltInPotential is the ψ offset of a contact at zero applied voltage.
func (s *System) BuiltInPotential(id int) (float64, error) {
	c, err := s.findContact(id)
	if err != nil {
		return 0, err
	}
	return c.psi0, nil
}

func (s *System) dirichletRows(fn func(row int, value float64)) {
	for _, c := range s.contacts {
		fn(s.psi[c.node], c.voltage+c.psi0)
		if c.kind != params.OhmicContact {
			continue
		}
		for i, info := range s.tbl.Species {
			if info.Role == params.Ion {
				continue
			}
			idx := s.index[i][c.node]
			for _, row := range idx {
				if row >= 0 {
					fn(row, c.voltage)
				}
			}
		}
	}
}

// ApplyDirichlet writes the contact values into u.
func (s *System) ApplyDirichlet(u []float64) {
	s.dirichletRows(func(row int, v float64) {
		u[row] = v
	})
}

// InitialGuess returns zero electron and hole quasi-Fermi potentials with ψ
// at the locally neutral value of each node's region. Ions start at their
// background density and interface species in equilibrium with their bulk
// ion. Contact values are applied last.
func (s *System) InitialGuess() []float64 {
	u := s.NewSolution()
	cache := make(map[int]float64)
	for k := range s.psi {
		rid := s.mesh.NodeRegion(k)
		psi, ok := cache[rid]
		if !ok {
			var err error
			psi, err = s.neutralPotential(-1, rid)
			if err != nil {
				psi = 0
			}
			cache[rid] = psi
		}
		u[s.psi[k]] = psi
	}

	for i, info := range s.tbl.Species {
		if info.Role != params.Ion {
			continue
		}
		for k := range s.psi {
			for _, side := range []mesh.Side{mesh.Left, mesh.Right} {
				row := s.index[i][k][side]
				if row < 0 {
					continue
				}
				rid, _ := s.mesh.SideRegion(k, side)
				c, _ := s.tbl.Region(rid).Carrier(params.Species(i))
				y := c.Doping / c.DOS
				if y <= 0 || y >= 1 {
					continue
				}
				eta := info.Statistics.Inverse(y)
				u[row] = u[s.psi[k]] - c.BandEdge + eta*s.ut/info.Charge
			}
		}
	}
	for k, irow := range s.iface {
		if irow < 0 {
			continue
		}
		bid, _ := s.mesh.NodeBoundary(k)
		if row, ok := s.nodeIndex(s.tbl.Boundary(bid).Interface.Bulk, k); ok {
			u[irow] = u[row]
		}
	}

	s.ApplyDirichlet(u)
	return u
}
