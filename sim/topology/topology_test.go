package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BuildsEveryTopologyType(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantRouters int
		wantServers int
		wantDiam    int
	}{
		{"mesh 3x3", Config{Type: "mesh", Sides: []int{3, 3}, ServersPerRouter: 1}, 9, 9, 4},
		{"torus 4x4", Config{Type: "torus", Sides: []int{4, 4}, ServersPerRouter: 2}, 16, 32, 4},
		{"ring 4", Config{Type: "ring", Routers: 4, ServersPerRouter: 1}, 4, 4, 2},
		{"hamming 3x3", Config{Type: "hamming", Sides: []int{3, 3}, ServersPerRouter: 1}, 9, 9, 2},
		{"fully connected 5", Config{Type: "fully_connected", Routers: 5, ServersPerRouter: 1}, 5, 5, 1},
		{"single router", Config{Type: "mesh", Sides: []int{1}, ServersPerRouter: 2}, 1, 2, 0},
		{"irregular line", Config{Type: "irregular", Adjacency: [][]int{{1}, {0, 2}, {1}}, ServersPerRouter: 1}, 3, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRouters, topo.NumRouters())
			assert.Equal(t, tt.wantServers, topo.NumServers())
			assert.Equal(t, tt.wantDiam, topo.Diameter())
		})
	}
}

func TestNew_RejectsMalformedDescriptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "butterfly"}},
		{"torus side 1", Config{Type: "torus", Sides: []int{1, 4}}},
		{"mesh without sides", Config{Type: "mesh"}},
		{"ring of zero", Config{Type: "ring", Routers: 0}},
		{"self loop", Config{Type: "irregular", Adjacency: [][]int{{0}}}},
		{"asymmetric link", Config{Type: "irregular", Adjacency: [][]int{{1}, {}}}},
		{"out of range", Config{Type: "irregular", Adjacency: [][]int{{7}}}},
		{"negative servers", Config{Type: "ring", Routers: 3, ServersPerRouter: -1}},
		{"disconnected when required", Config{Type: "irregular", Adjacency: [][]int{{}, {}}, RequireConnected: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "error %v must wrap ErrInvalid", err)
		})
	}
}

func TestNeighbour_LinksAreSymmetric(t *testing.T) {
	for _, cfg := range []Config{
		{Type: "mesh", Sides: []int{4, 3}, ServersPerRouter: 1},
		{Type: "torus", Sides: []int{2, 3, 4}, ServersPerRouter: 1},
		{Type: "hamming", Sides: []int{4, 2}, ServersPerRouter: 3},
	} {
		topo, err := New(cfg)
		require.NoError(t, err)
		// New already runs Check; run it again to exercise it directly.
		require.NoError(t, Check(topo, true))
		for r := 0; r < topo.NumRouters(); r++ {
			for p := 0; p < topo.Ports(r); p++ {
				loc, class := topo.Neighbour(r, p)
				switch {
				case loc.IsRouter():
					assert.Equal(t, LinkClassRouter, class)
					back, _ := topo.Neighbour(loc.Router, loc.Port)
					assert.Equal(t, RouterPort(r, p), back)
				case loc.IsServer():
					assert.Equal(t, LinkClassServer, class)
					attached, _ := topo.ServerNeighbour(loc.Server)
					assert.Equal(t, RouterPort(r, p), attached)
				}
			}
		}
	}
}

func TestMesh_BorderPortsAreUnconnected(t *testing.T) {
	// GIVEN a 3x3 mesh, the corner router 0 has only two router neighbours
	topo, err := NewMesh([]int{3, 3}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, topo.Degree(0))
	assert.Equal(t, 4, topo.Degree(4), "centre router is fully connected")
	// 4 grid ports + 1 server port, negative directions unconnected
	assert.Equal(t, 5, topo.Ports(0))
	loc, _ := topo.Neighbour(0, 0)
	assert.Equal(t, LocationNone, loc.Kind)
	assert.Equal(t, []int{4}, ServerPorts(topo, 0))
}

func TestDistance_MatchesGridMetric(t *testing.T) {
	topo, err := NewTorus([]int{5, 4}, 0)
	require.NoError(t, err)
	for a := 0; a < topo.NumRouters(); a++ {
		for b := 0; b < topo.NumRouters(); b++ {
			want := 0
			for _, delta := range topo.RoutingRecord(a, b) {
				if delta < 0 {
					delta = -delta
				}
				want += delta
			}
			assert.Equal(t, want, topo.Distance(a, b), "distance %d -> %d", a, b)
		}
	}
}

func TestDistance_UnreachableIsNegative(t *testing.T) {
	topo, err := NewIrregular([][]int{{1}, {0}, {}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, topo.Distance(0, 1))
	assert.Equal(t, -1, topo.Distance(0, 2))
	assert.Equal(t, 0, topo.Degree(2))
}

func TestLinksAndHistogram_Ring(t *testing.T) {
	topo, err := NewRing(4, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, Links(topo), "each of the 4 bidirectional links counted per direction")
	// From each router: two at distance 1, one at distance 2.
	assert.Equal(t, []int{0, 8, 4}, DistanceHistogram(topo))
	assert.Contains(t, Describe(topo), "ring")
}

func TestIsDirectionChange(t *testing.T) {
	topo, err := NewTorus([]int{4, 4}, 1)
	require.NoError(t, err)
	assert.False(t, topo.IsDirectionChange(5, 0, 1), "same dimension")
	assert.True(t, topo.IsDirectionChange(5, 0, 2), "x to y")
	assert.True(t, topo.IsDirectionChange(5, 4, 0), "injection from a server")
}
