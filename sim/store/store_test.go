package store

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/netsim/sim"
)

func TestStore_InsertAndQuery(t *testing.T) {
	// GIVEN a fresh database
	s, err := Open(filepath.Join(t.TempDir(), "results.sqlite3"))
	require.NoError(t, err)
	defer s.Close()

	// WHEN two runs of one configuration and one of another are stored
	runs := []*sim.Result{
		{RunID: "a", ConfigurationHash: "h1", Cycle: 100, AcceptedLoad: 0.25, AveragePacketHops: 1.5},
		{RunID: "b", ConfigurationHash: "h2", Cycle: 200, AcceptedLoad: 0.5},
		{RunID: "c", ConfigurationHash: "h1", Cycle: 300, ServerPercentiles: []sim.ServerPercentile{{Percentile: 50, AcceptedLoad: 0.3}}},
	}
	for _, r := range runs {
		require.NoError(t, s.Insert(r))
	}

	// THEN they come back in insertion order, filtered by hash
	all, err := s.Results("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].RunID)
	assert.Equal(t, 0.25, all[0].AcceptedLoad)
	assert.Equal(t, 1.5, all[0].AveragePacketHops)

	h1, err := s.Results("h1")
	require.NoError(t, err)
	require.Len(t, h1, 2)
	assert.Equal(t, int64(300), h1[1].Cycle)

	// AND the stored record is the full JSON result
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(h1[1].JSON), &fields))
	assert.Contains(t, fields, "server_percentile50")
}

func TestStore_RejectsDuplicateAndAnonymousRuns(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "results.sqlite3"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(&sim.Result{RunID: "x"}))
	assert.Error(t, s.Insert(&sim.Result{RunID: "x"}))
	assert.Error(t, s.Insert(&sim.Result{}))
}

func TestStore_ReopenKeepsResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.sqlite3")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(&sim.Result{RunID: "kept"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Results("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].RunID)
	assert.Equal(t, path, s.Path())
}

func TestDefaultPath(t *testing.T) {
	a, b := DefaultPath(), DefaultPath()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "netsim_"))
	assert.True(t, strings.HasSuffix(a, ".sqlite3"))
}
