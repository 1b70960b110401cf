package mesh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-drift/pkg/simerr"
)

func threeRegionConfig() Config {
	coords := Glue(1e-15,
		floats.Span(make([]float64, 5), 0, 2e-6),
		floats.Span(make([]float64, 9), 2e-6, 4e-6),
		floats.Span(make([]float64, 5), 4e-6, 6e-6),
	)
	return Config{
		Coords: coords,
		Regions: []RegionSpec{
			{ID: 1, Start: 0, End: 2e-6},
			{ID: 2, Start: 2e-6, End: 4e-6},
			{ID: 3, Start: 4e-6, End: 6e-6},
		},
		Boundaries: []BoundarySpec{
			{ID: 1, Coord: 0},
			{ID: 2, Coord: 6e-6},
			{ID: 3, Coord: 2e-6},
		},
	}
}

func TestNew_RegionPerNode(t *testing.T) {
	m, err := New(threeRegionConfig())
	require.NoError(t, err)
	require.Equal(t, 17, m.NumNodes())

	for k := 0; k < m.NumNodes(); k++ {
		id := m.NodeRegion(k)
		x := m.Coord(k)
		count := 0
		for _, r := range m.Regions() {
			if r.ID == id {
				count++
				assert.GreaterOrEqual(t, x, r.Start-m.Tolerance())
				assert.LessOrEqual(t, x, r.End+m.Tolerance())
			}
		}
		assert.Equal(t, 1, count, "node %d", k)
	}

	// interval endpoints coincide with nodes
	assert.Equal(t, 4, m.Regions()[0].LastNode)
	assert.Equal(t, 4, m.Regions()[1].FirstNode)
	assert.InDelta(t, 4e-6, m.Coord(m.Regions()[1].LastNode), 1e-18)

	// interface node belongs to the left region, its right cell to the next one
	assert.Equal(t, 1, m.NodeRegion(4))
	r, ok := m.SideRegion(4, Right)
	require.True(t, ok)
	assert.Equal(t, 2, r)
}

func TestNew_ControlVolumes(t *testing.T) {
	m, err := New(threeRegionConfig())
	require.NoError(t, err)

	total := 0.0
	for k := 0; k < m.NumNodes(); k++ {
		total += m.Volume(k)
		assert.InDelta(t, m.HalfVolume(k, Left)+m.HalfVolume(k, Right), m.Volume(k), 1e-20)
	}
	assert.InDelta(t, m.Length(), total, 1e-18)

	// outer nodes carry a single half edge
	assert.InDelta(t, m.EdgeLength(0)/2, m.Volume(0), 1e-20)
	assert.Zero(t, m.HalfVolume(0, Left))
	_, ok := m.Edge(m.NumNodes()-1, Right)
	assert.False(t, ok)
}

func TestNew_Boundaries(t *testing.T) {
	m, err := New(threeRegionConfig())
	require.NoError(t, err)

	b, ok := m.Boundary(3)
	require.True(t, ok)
	assert.Equal(t, 4, b.Node)
	assert.False(t, b.Outer)

	b, ok = m.Boundary(2)
	require.True(t, ok)
	assert.True(t, b.Outer)
	assert.Equal(t, m.NumNodes()-1, b.Node)

	id, ok := m.NodeBoundary(0)
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	_, ok = m.NodeBoundary(1)
	assert.False(t, ok)
}

func TestNew_ToleranceMatching(t *testing.T) {
	cfg := threeRegionConfig()
	cfg.Tolerance = 1e-12
	cfg.Boundaries[2].Coord = 2e-6 + 1e-14
	cfg.Regions[0].End = 2e-6 - 1e-14

	m, err := New(cfg)
	require.NoError(t, err)
	b, _ := m.Boundary(3)
	assert.Equal(t, 4, b.Node)

	cfg.Boundaries[2].Coord = 2.1e-6
	_, err = New(cfg)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestNew_InvalidPartitions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap", func(c *Config) { c.Regions[1].Start = 1e-6 }},
		{"gap", func(c *Config) { c.Regions[1].Start = 2.5e-6 }},
		{"uncovered end", func(c *Config) { c.Regions[2].End = 5e-6 }},
		{"uncovered start", func(c *Config) { c.Regions[0].Start = 0.5e-6 }},
		{"duplicate region", func(c *Config) { c.Regions[2].ID = 1 }},
		{"duplicate boundary node", func(c *Config) { c.Boundaries[2].Coord = 0 }},
		{"unsorted coords", func(c *Config) { c.Coords[3], c.Coords[4] = c.Coords[4], c.Coords[3] }},
		{"no regions", func(c *Config) { c.Regions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := threeRegionConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			var cerr *simerr.ConfigurationError
			assert.True(t, errors.As(err, &cerr))
			assert.Equal(t, "mesh", cerr.Component)
		})
	}
}

func TestGlue(t *testing.T) {
	x := Glue(1e-12, []float64{0, 1, 2}, []float64{2, 3}, []float64{3 + 1e-14, 4})
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, x)
}
