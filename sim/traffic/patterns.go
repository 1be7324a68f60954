package traffic

import (
	"fmt"
	"math"
	"math/rand"
)

// pattern maps an origin server to a destination server.
type pattern interface {
	destination(origin int, rng *rand.Rand) int
}

var validPatternNames = map[string]bool{
	"uniform":     true,
	"permutation": true,
	"transpose":   true,
	"shift":       true,
}

func newPattern(name string, cfg Config, servers int, rng *rand.Rand) (pattern, error) {
	switch name {
	case "uniform":
		if servers < 2 && !cfg.AllowSelf {
			return nil, fmt.Errorf("%w: uniform traffic without allow_self needs at least 2 servers", ErrInvalid)
		}
		return uniformPattern{servers: servers, allowSelf: cfg.AllowSelf}, nil
	case "permutation":
		return permutationPattern(rng.Perm(servers)), nil
	case "transpose":
		side := int(math.Round(math.Sqrt(float64(servers))))
		if side*side != servers {
			return nil, fmt.Errorf("%w: transpose needs a square number of servers, got %d", ErrInvalid, servers)
		}
		return transposePattern{side: side}, nil
	case "shift":
		return shiftPattern{servers: servers, shift: ((cfg.Shift % servers) + servers) % servers}, nil
	default:
		return nil, fmt.Errorf("%w: unknown pattern %q", ErrInvalid, name)
	}
}

type uniformPattern struct {
	servers   int
	allowSelf bool
}

func (p uniformPattern) destination(origin int, rng *rand.Rand) int {
	if p.allowSelf {
		return rng.Intn(p.servers)
	}
	d := rng.Intn(p.servers - 1)
	if d >= origin {
		d++
	}
	return d
}

// permutationPattern is drawn once at construction, so each server always
// talks to the same partner.
type permutationPattern []int

func (p permutationPattern) destination(origin int, _ *rand.Rand) int { return p[origin] }

// transposePattern sees servers as a side x side matrix in row-major order.
type transposePattern struct {
	side int
}

func (p transposePattern) destination(origin int, _ *rand.Rand) int {
	row, col := origin/p.side, origin%p.side
	return col*p.side + row
}

type shiftPattern struct {
	servers int
	shift   int
}

func (p shiftPattern) destination(origin int, _ *rand.Rand) int {
	return (origin + p.shift) % p.servers
}
