package system

import (
	"math"

	"go.uber.org/zap"

	"github.com/edp1096/toy-drift/pkg/matrix"
	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/model"
	"github.com/edp1096/toy-drift/pkg/params"
	"github.com/edp1096/toy-drift/pkg/simerr"
)

type Config struct {
	Mesh    *mesh.Mesh
	Params  *params.Table
	Flux    model.FluxScheme // nil = Scharfetter-Gummel
	Backend matrix.Backend
}

type Option func(*System)

func WithLogger(l *zap.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// System is the discretized van Roosbroeck system on a fixed mesh. Mesh and
// parameter table are shared read-only; contact voltages, the linear solver
// and the Jacobian buffer belong to one System.
type System struct {
	mesh    *mesh.Mesh
	tbl     *params.Table
	flux    model.FluxScheme
	backend matrix.Backend
	logger  *zap.Logger
	ut      float64

	// Unknown layout. Unknowns are numbered node by node: ψ, then the
	// species present at the node (one per side when split), then the
	// interface species if any.
	size      int
	psi       []int
	index     [][][2]int // [species][node][side], -1 when absent
	iface     []int      // per node, -1 without interface species
	rowNode   []int
	rowCharge []float64 // charge number of the row's species, 0 for Poisson rows
	ions      []ionComponent

	contacts []contact

	matrix matrix.Solver
	jac    *matrix.Jacobian
}

func New(cfg Config, opts ...Option) (*System, error) {
	if cfg.Mesh == nil || cfg.Params == nil {
		return nil, simerr.Configf("system", "mesh and parameter table are required")
	}

	s := &System{
		mesh:    cfg.Mesh,
		tbl:     cfg.Params,
		flux:    cfg.Flux,
		backend: cfg.Backend,
		logger:  zap.NewNop(),
		ut:      cfg.Params.ThermalVoltage(),
	}
	if s.flux == nil {
		s.flux = model.ScharfetterGummel{}
	}
	for _, opt := range opts {
		opt(s)
	}

	var regionIDs, boundaryIDs []int
	for _, r := range s.mesh.Regions() {
		regionIDs = append(regionIDs, r.ID)
	}
	for _, b := range s.mesh.Boundaries() {
		boundaryIDs = append(boundaryIDs, b.ID)
	}
	if err := s.tbl.Validate(regionIDs, boundaryIDs); err != nil {
		return nil, err
	}

	if err := s.layout(); err != nil {
		return nil, err
	}
	s.findIonComponents()
	if err := s.setupContacts(); err != nil {
		return nil, err
	}
	if err := s.createMatrix(); err != nil {
		return nil, err
	}

	s.logger.Debug("system assembled",
		zap.Int("nodes", s.mesh.NumNodes()),
		zap.Int("species", s.tbl.NumSpecies()),
		zap.Int("unknowns", s.size),
		zap.String("flux", s.flux.Name()),
		zap.Stringer("backend", s.backend),
		zap.Int("ion_components", len(s.ions)))

	return s, nil
}

func (s *System) createMatrix() error {
	mat, err := matrix.New(s.backend, s.size)
	if err != nil {
		return err
	}
	s.matrix = mat
	s.jac = matrix.NewJacobian(s.size)
	return nil
}

func (s *System) present(sp params.Species, k int, side mesh.Side) bool {
	rid, ok := s.mesh.SideRegion(k, side)
	if !ok {
		return false
	}
	_, ok = s.tbl.Region(rid).Carrier(sp)
	return ok
}

func (s *System) addRow(k int, charge float64) int {
	row := s.size
	s.size++
	s.rowNode = append(s.rowNode, k)
	s.rowCharge = append(s.rowCharge, charge)
	return row
}

func (s *System) layout() error {
	n := s.mesh.NumNodes()
	ns := s.tbl.NumSpecies()

	s.psi = make([]int, n)
	s.iface = make([]int, n)
	s.index = make([][][2]int, ns)
	for sp := range s.index {
		s.index[sp] = make([][2]int, n)
	}

	for k := 0; k < n; k++ {
		s.psi[k] = s.addRow(k, 0)

		bid, tagged := s.mesh.NodeBoundary(k)
		inner := tagged && k > 0 && k < n-1
		bnd := s.tbl.Boundary(bid)

		for i, info := range s.tbl.Species {
			sp := params.Species(i)
			left := s.present(sp, k, mesh.Left)
			right := s.present(sp, k, mesh.Right)

			idx := [2]int{-1, -1}
			switch {
			case left && right && inner && info.Discontinuous:
				if info.Role != params.Ion && bnd.Transfer[sp] <= 0 {
					return simerr.Configf("system", "species %q is split at boundary %d without a transfer velocity", info.Name, bid)
				}
				idx[mesh.Left] = s.addRow(k, info.Charge)
				idx[mesh.Right] = s.addRow(k, info.Charge)
			case left || right:
				row := s.addRow(k, info.Charge)
				if left {
					idx[mesh.Left] = row
				}
				if right {
					idx[mesh.Right] = row
				}
			}
			s.index[sp][k] = idx
		}

		s.iface[k] = -1
		if tagged && bnd.Kind == params.IonicInterface {
			if _, ok := s.nodeIndex(bnd.Interface.Bulk, k); !ok {
				return simerr.Configf("system", "boundary %d: bulk ion %q is absent at the interface node", bid, s.tbl.Species[bnd.Interface.Bulk].Name)
			}
			s.iface[k] = s.addRow(k, bnd.Interface.Charge)
		}
	}
	return nil
}

// nodeIndex returns the unknown of species sp at node k, preferring the left side.
func (s *System) nodeIndex(sp params.Species, k int) (int, bool) {
	side, ok := s.nodeSide(sp, k)
	if !ok {
		return -1, false
	}
	return s.index[sp][k][side], true
}

func (s *System) nodeSide(sp params.Species, k int) (mesh.Side, bool) {
	idx := s.index[sp][k]
	if idx[mesh.Left] >= 0 {
		return mesh.Left, true
	}
	if idx[mesh.Right] >= 0 {
		return mesh.Right, true
	}
	return mesh.Left, false
}

// ionComponent is a connected set of unknowns of one mobile ion species.
// Without a contact the stationary ion equations only fix potential
// differences, so the first balance row of every component is replaced by
// conservation of the total ion number.
type ionComponent struct {
	species params.Species
	row     int
	members []ionMember
	ifaces  []int // nodes whose interface species exchanges with this component
}

type ionMember struct {
	node int
	side mesh.Side
	row  int
}

func (s *System) findIonComponents() {
	parent := make([]int, s.size)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for i, info := range s.tbl.Species {
		if info.Role != params.Ion {
			continue
		}
		sp := params.Species(i)
		for e := 0; e < s.mesh.NumEdges(); e++ {
			a, b := s.index[sp][e][mesh.Right], s.index[sp][e+1][mesh.Left]
			if a >= 0 && b >= 0 {
				union(a, b)
			}
		}
		for k := 0; k < s.mesh.NumNodes(); k++ {
			idx := s.index[sp][k]
			if idx[mesh.Left] < 0 || idx[mesh.Right] < 0 || idx[mesh.Left] == idx[mesh.Right] {
				continue
			}
			if bid, ok := s.mesh.NodeBoundary(k); ok && s.tbl.Boundary(bid).Transfer[sp] > 0 {
				union(idx[mesh.Left], idx[mesh.Right])
			}
		}

		byRoot := make(map[int]*ionComponent)
		var order []int
		for k := 0; k < s.mesh.NumNodes(); k++ {
			for _, side := range []mesh.Side{mesh.Left, mesh.Right} {
				row := s.index[sp][k][side]
				if row < 0 {
					continue
				}
				root := find(row)
				comp, ok := byRoot[root]
				if !ok {
					comp = &ionComponent{species: sp, row: row}
					byRoot[root] = comp
					order = append(order, root)
				}
				comp.members = append(comp.members, ionMember{node: k, side: side, row: row})
			}

			if s.iface[k] < 0 {
				continue
			}
			bid, _ := s.mesh.NodeBoundary(k)
			if is := s.tbl.Boundary(bid).Interface; is.Bulk == sp {
				row, _ := s.nodeIndex(sp, k)
				byRoot[find(row)].ifaces = append(byRoot[find(row)].ifaces, k)
			}
		}
		for _, root := range order {
			s.ions = append(s.ions, *byRoot[root])
		}
	}
}

func (s *System) Size() int { return s.size }
func (s *System) Mesh() *mesh.Mesh { return s.mesh }
func (s *System) Params() *params.Table { return s.tbl }
func (s *System) Flux() model.FluxScheme { return s.flux }
func (s *System) Backend() matrix.Backend { return s.backend }
func (s *System) Logger() *zap.Logger { return s.logger }
func (s *System) ThermalVoltage() float64 { return s.ut }
func (s *System) GetMatrix() matrix.Solver { return s.matrix }
func (s *System) Jacobian() *matrix.Jacobian { return s.jac }
func (s *System) PsiIndex(k int) int { return s.psi[k] }

// ConstraintRows returns the rows replaced by ion conservation in stationary solves.
func (s *System) ConstraintRows() []int {
	rows := make([]int, len(s.ions))
	for i, c := range s.ions {
		rows[i] = c.row
	}
	return rows
}

func (s *System) NewSolution() []float64 { return make([]float64, s.size) }
func (s *System) Coordinates() []float64 { return append([]float64(nil), s.mesh.Coords()...) }

// Index returns the unknown of species sp on the given side of node k.
func (s *System) Index(sp params.Species, k int, side mesh.Side) (int, bool) {
	i := s.index[sp][k][side]
	return i, i >= 0
}

func (s *System) InterfaceIndex(k int) (int, bool) {
	i := s.iface[k]
	return i, i >= 0
}

// Potential extracts ψ per node.
func (s *System) Potential(u []float64) []float64 {
	out := make([]float64, len(s.psi))
	for k, i := range s.psi {
		out[k] = u[i]
	}
	return out
}

// QuasiFermi extracts φ of a species per node, NaN where it is absent.
func (s *System) QuasiFermi(sp params.Species, u []float64) []float64 {
	out := make([]float64, len(s.psi))
	for k := range out {
		out[k] = math.NaN()
		if i, ok := s.nodeIndex(sp, k); ok {
			out[k] = u[i]
		}
	}
	return out
}

// Density evaluates the density of a species per node (m^-3), 0 where it is
// absent. Interface nodes report the left-side value.
func (s *System) Density(sp params.Species, u []float64) []float64 {
	out := make([]float64, len(s.psi))
	for k := range out {
		side, ok := s.nodeSide(sp, k)
		if !ok {
			continue
		}
		rid, _ := s.mesh.SideRegion(k, side)
		c, _ := s.tbl.Region(rid).Carrier(sp)
		out[k], _, _ = s.density(sp, c, u[s.psi[k]], u[s.index[sp][k][side]])
	}
	return out
}

// InterfaceDensity is the areal density (m^-2) of the interface species on a
// boundary.
func (s *System) InterfaceDensity(boundaryID int, u []float64) (float64, bool) {
	b, ok := s.mesh.Boundary(boundaryID)
	if !ok || s.iface[b.Node] < 0 {
		return 0, false
	}
	is := s.tbl.Boundary(boundaryID).Interface
	st := is.Statistics
	return is.DOS * st.F(model.Eta(is.Charge, is.BandEdge, s.ut, u[s.psi[b.Node]], u[s.iface[b.Node]])), true
}

func (s *System) density(sp params.Species, c params.Carrier, psi, phi float64) (float64, float64, float64) {
	info := s.tbl.Species[sp]
	return model.Density(info.Statistics, info.Charge, c.DOS, c.BandEdge, s.ut, psi, phi)
}

// Clone returns a System sharing mesh, parameters and layout but owning its
// own contact voltages, solver and Jacobian.
func (s *System) Clone() (*System, error) {
	c := *s
	c.contacts = make([]contact, len(s.contacts))
	copy(c.contacts, s.contacts)
	if err := c.createMatrix(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *System) Destroy() {
	if s.matrix != nil {
		s.matrix.Destroy()
	}
}
