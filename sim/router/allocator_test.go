package router

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomAllocator_Ordering(t *testing.T) {
	requests := []request{
		{entryPort: 0, exitPort: 2, label: 3},
		{entryPort: 1, exitPort: 2, label: 1, inTransit: false},
		{entryPort: 2, exitPort: 3, label: 1, inTransit: true},
		{entryPort: 3, exitPort: 3, label: 0},
	}
	tests := []struct {
		name  string
		alloc *randomAllocator
		check func(t *testing.T, got []request)
	}{
		{
			name:  "lowest label first",
			alloc: &randomAllocator{lowestLabelFirst: true},
			check: func(t *testing.T, got []request) {
				assert.Equal(t, 0, got[0].label)
				assert.ElementsMatch(t, []int{1, 1}, []int{got[1].label, got[2].label})
				assert.Equal(t, 3, got[3].label)
			},
		},
		{
			name:  "in-transit before injection within a label",
			alloc: &randomAllocator{lowestLabelFirst: true, intransitPriority: true},
			check: func(t *testing.T, got []request) {
				assert.True(t, got[1].inTransit)
				assert.False(t, got[2].inTransit)
			},
		},
		{
			name:  "plain shuffle keeps every request",
			alloc: &randomAllocator{},
			check: func(t *testing.T, got []request) {
				assert.ElementsMatch(t, requests, got)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for seed := int64(0); seed < 20; seed++ {
				got := tt.alloc.allocate(requests, rand.New(rand.NewSource(seed)))
				require.Len(t, got, len(requests))
				tt.check(t, got)
			}
		})
	}
	assert.Nil(t, (&randomAllocator{}).allocate(nil, rand.New(rand.NewSource(1))))
}

func TestISLIP_MatchesAndRotatesPointers(t *testing.T) {
	// GIVEN two inputs of one VC competing for the same output channel
	s := newISLIP(4, 4, 1, 1)
	requests := []request{
		{entryPort: 0, exitPort: 3},
		{entryPort: 1, exitPort: 3},
	}

	// WHEN allocating twice
	first := s.allocate(requests, nil)
	second := s.allocate(requests, nil)

	// THEN each call grants one input, and the grant pointer moves past the winner
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, 0, first[0].entryPort)
	assert.Equal(t, 1, second[0].entryPort)
}

func TestISLIP_IterationsFillTheMatch(t *testing.T) {
	// GIVEN input 0 wanting outputs 0 and 1, input 1 wanting only output 1
	requests := []request{
		{entryPort: 0, exitPort: 0},
		{entryPort: 0, exitPort: 1},
		{entryPort: 1, exitPort: 1},
	}

	// WHEN a single iteration runs, output 0 and output 1 both grant input 0
	one := newISLIP(2, 2, 1, 1).allocate(requests, nil)
	// THEN only one pair is matched
	assert.Len(t, one, 1)

	// WHEN a second iteration is allowed, output 1 grants the still free input 1
	two := newISLIP(2, 2, 1, 2).allocate(requests, nil)
	assert.Len(t, two, 2)
	seen := make(map[int]bool)
	for _, q := range two {
		assert.False(t, seen[q.exitPort], "an output is matched once")
		seen[q.exitPort] = true
	}
}
