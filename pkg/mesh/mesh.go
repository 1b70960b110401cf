package mesh

import (
	"math"
	"sort"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

// Side of a node inside its control volume. An interface node has both sides
// in different regions, an outer node has only one.
type Side int

const (
	Left Side = iota
	Right
)

// RegionSpec tags the interval [Start, End] with a region id.
type RegionSpec struct {
	ID    int
	Start float64
	End   float64
}

// BoundarySpec tags the node at Coord with a boundary-region id.
type BoundarySpec struct {
	ID    int
	Coord float64
}

type Config struct {
	Coords     []float64 // strictly increasing
	Regions    []RegionSpec
	Boundaries []BoundarySpec
	Tolerance  float64 // absolute coordinate matching tolerance, 0 = 1e-9 * length
}

type Region struct {
	ID        int
	Start     float64
	End       float64
	FirstNode int
	LastNode  int
}

type Boundary struct {
	ID    int
	Node  int
	Coord float64
	Outer bool
}

type Mesh struct {
	coords       []float64
	edgeLen      []float64
	volume       []float64
	cellRegion   []int // region id per edge (cell between node e and e+1)
	nodeRegion   []int
	nodeBoundary []int // boundary id per node, -1 when untagged
	regions      []Region
	boundaries   []Boundary
	tol          float64
}

func New(cfg Config) (*Mesh, error) {
	n := len(cfg.Coords)
	if n < 2 {
		return nil, simerr.Configf("mesh", "need at least 2 nodes, got %d", n)
	}
	for k := 1; k < n; k++ {
		if !(cfg.Coords[k] > cfg.Coords[k-1]) {
			return nil, simerr.Configf("mesh", "coordinates not strictly increasing at node %d (%g <= %g)", k, cfg.Coords[k], cfg.Coords[k-1])
		}
	}
	if len(cfg.Regions) == 0 {
		return nil, simerr.Configf("mesh", "no regions")
	}

	m := &Mesh{
		coords:       append([]float64(nil), cfg.Coords...),
		edgeLen:      make([]float64, n-1),
		volume:       make([]float64, n),
		cellRegion:   make([]int, n-1),
		nodeRegion:   make([]int, n),
		nodeBoundary: make([]int, n),
		tol:          cfg.Tolerance,
	}
	if m.tol <= 0 {
		m.tol = 1e-9 * (m.coords[n-1] - m.coords[0])
	}

	for e := 0; e < n-1; e++ {
		h := m.coords[e+1] - m.coords[e]
		m.edgeLen[e] = h
		m.volume[e] += h / 2
		m.volume[e+1] += h / 2
	}

	if err := m.assignRegions(cfg.Regions); err != nil {
		return nil, err
	}
	if err := m.assignBoundaries(cfg.Boundaries); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Mesh) assignRegions(specs []RegionSpec) error {
	sorted := append([]RegionSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	seen := make(map[int]bool)
	last := len(m.coords) - 1
	for i, reg := range sorted {
		if seen[reg.ID] {
			return simerr.Configf("mesh", "duplicate region id %d", reg.ID)
		}
		seen[reg.ID] = true

		if !(reg.End > reg.Start) {
			return simerr.Configf("mesh", "region %d has empty interval [%g, %g]", reg.ID, reg.Start, reg.End)
		}

		first, err := m.FindNode(reg.Start)
		if err != nil {
			return simerr.Configf("mesh", "region %d start: %v", reg.ID, err)
		}
		end, err := m.FindNode(reg.End)
		if err != nil {
			return simerr.Configf("mesh", "region %d end: %v", reg.ID, err)
		}

		switch {
		case i == 0 && first != 0:
			return simerr.Configf("mesh", "gap before region %d: domain starts at %g", reg.ID, m.coords[0])
		case i > 0 && first < m.regions[i-1].LastNode:
			return simerr.Configf("mesh", "region %d overlaps region %d", reg.ID, m.regions[i-1].ID)
		case i > 0 && first > m.regions[i-1].LastNode:
			return simerr.Configf("mesh", "gap between region %d and region %d", m.regions[i-1].ID, reg.ID)
		}
		if first == end {
			return simerr.Configf("mesh", "region %d contains no cell", reg.ID)
		}

		m.regions = append(m.regions, Region{
			ID:        reg.ID,
			Start:     m.coords[first],
			End:       m.coords[end],
			FirstNode: first,
			LastNode:  end,
		})
		for e := first; e < end; e++ {
			m.cellRegion[e] = reg.ID
		}
	}

	if m.regions[len(m.regions)-1].LastNode != last {
		return simerr.Configf("mesh", "gap after region %d: domain ends at %g", m.regions[len(m.regions)-1].ID, m.coords[last])
	}

	// Nodes prefer the region on their left.
	m.nodeRegion[0] = m.cellRegion[0]
	for k := 1; k <= last; k++ {
		m.nodeRegion[k] = m.cellRegion[k-1]
	}
	return nil
}

func (m *Mesh) assignBoundaries(specs []BoundarySpec) error {
	for k := range m.nodeBoundary {
		m.nodeBoundary[k] = -1
	}

	seen := make(map[int]bool)
	last := len(m.coords) - 1
	for _, b := range specs {
		if seen[b.ID] {
			return simerr.Configf("mesh", "duplicate boundary id %d", b.ID)
		}
		seen[b.ID] = true

		k, err := m.FindNode(b.Coord)
		if err != nil {
			return simerr.Configf("mesh", "boundary %d: %v", b.ID, err)
		}
		if m.nodeBoundary[k] >= 0 {
			return simerr.Configf("mesh", "boundaries %d and %d share node %d", m.nodeBoundary[k], b.ID, k)
		}
		m.nodeBoundary[k] = b.ID
		m.boundaries = append(m.boundaries, Boundary{
			ID:    b.ID,
			Node:  k,
			Coord: m.coords[k],
			Outer: k == 0 || k == last,
		})
	}
	return nil
}

// FindNode returns the node matching x within the mesh tolerance.
func (m *Mesh) FindNode(x float64) (int, error) {
	k := sort.SearchFloat64s(m.coords, x)
	best, dist := -1, math.Inf(1)
	for _, c := range []int{k - 1, k} {
		if c < 0 || c >= len(m.coords) {
			continue
		}
		if d := math.Abs(m.coords[c] - x); d < dist {
			best, dist = c, d
		}
	}
	if dist > m.tol {
		return -1, simerr.Configf("mesh", "coordinate %g matches no node (closest %g, tolerance %g)", x, m.coords[best], m.tol)
	}
	return best, nil
}

func (m *Mesh) NumNodes() int { return len(m.coords) }
func (m *Mesh) NumEdges() int { return len(m.edgeLen) }
func (m *Mesh) Coord(k int) float64 { return m.coords[k] }
func (m *Mesh) Coords() []float64 { return m.coords }
func (m *Mesh) EdgeLength(e int) float64 { return m.edgeLen[e] }
func (m *Mesh) Volume(k int) float64 { return m.volume[k] }
func (m *Mesh) CellRegion(e int) int { return m.cellRegion[e] }
func (m *Mesh) NodeRegion(k int) int { return m.nodeRegion[k] }
func (m *Mesh) Regions() []Region { return m.regions }
func (m *Mesh) Boundaries() []Boundary { return m.boundaries }
func (m *Mesh) Tolerance() float64 { return m.tol }

// Length of the domain.
func (m *Mesh) Length() float64 {
	return m.coords[len(m.coords)-1] - m.coords[0]
}

// NodeBoundary returns the boundary id tagged on node k.
func (m *Mesh) NodeBoundary(k int) (int, bool) {
	id := m.nodeBoundary[k]
	return id, id >= 0
}

func (m *Mesh) Boundary(id int) (Boundary, bool) {
	for _, b := range m.boundaries {
		if b.ID == id {
			return b, true
		}
	}
	return Boundary{}, false
}

// Edge returns the edge index touching node k on the given side.
func (m *Mesh) Edge(k int, side Side) (int, bool) {
	if side == Left {
		return k - 1, k > 0
	}
	return k, k < len(m.coords)-1
}

// HalfVolume is the part of node k's control volume lying on the given side.
func (m *Mesh) HalfVolume(k int, side Side) float64 {
	e, ok := m.Edge(k, side)
	if !ok {
		return 0
	}
	return m.edgeLen[e] / 2
}

// SideRegion returns the region id of the cell on the given side of node k.
func (m *Mesh) SideRegion(k int, side Side) (int, bool) {
	e, ok := m.Edge(k, side)
	if !ok {
		return 0, false
	}
	return m.cellRegion[e], true
}
