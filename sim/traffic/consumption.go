package traffic

import (
	"fmt"
	"math"

	"github.com/inference-sim/netsim/sim/packet"
)

// Consumer decides whether a server accepts a fully received message.
type Consumer interface {
	Consume(server int, m *packet.Message, cycle int64) bool
}

// ConsumptionConfig selects the consumption model of a traffic.
type ConsumptionConfig struct {
	// Policy is "always" (the default) or "token_bucket".
	Policy string `yaml:"policy"`
	// Capacity is the bucket size in phits.
	Capacity float64 `yaml:"capacity"`
	// Rate is the refill in phits per cycle.
	Rate float64 `yaml:"rate"`
}

// Validate checks the model against the biggest message the traffic
// creates; a bucket smaller than it would never drain.
func (cfg ConsumptionConfig) Validate(largestMessage int) error {
	switch cfg.Policy {
	case "", "always":
		return nil
	case "token_bucket":
		if cfg.Rate <= 0 || math.IsNaN(cfg.Rate) || math.IsInf(cfg.Rate, 0) {
			return fmt.Errorf("%w: token_bucket rate must be a finite positive number, got %v", ErrInvalid, cfg.Rate)
		}
		if cfg.Capacity < float64(largestMessage) || math.IsInf(cfg.Capacity, 0) || math.IsNaN(cfg.Capacity) {
			return fmt.Errorf("%w: token_bucket capacity %v is smaller than a message of %d phits", ErrInvalid, cfg.Capacity, largestMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown consumption policy %q; valid: always, token_bucket", ErrInvalid, cfg.Policy)
	}
}

// NewConsumer creates a consumption model for traffic whose biggest message
// has largestMessage phits.
func NewConsumer(cfg ConsumptionConfig, servers, largestMessage int) (Consumer, error) {
	if err := cfg.Validate(largestMessage); err != nil {
		return nil, err
	}
	if cfg.Policy == "token_bucket" {
		return NewTokenBucket(cfg.Capacity, cfg.Rate, servers), nil
	}
	return &AlwaysConsume{}, nil
}

// AlwaysConsume accepts every message on arrival.
type AlwaysConsume struct{}

func (a *AlwaysConsume) Consume(int, *packet.Message, int64) bool { return true }

// TokenBucket limits the rate at which each server consumes phits.
type TokenBucket struct {
	capacity   float64
	refillRate float64 // phits per cycle
	tokens     []float64
	lastRefill []int64
}

// NewTokenBucket creates a full bucket per server.
func NewTokenBucket(capacity, refillRate float64, servers int) *TokenBucket {
	tb := &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     make([]float64, servers),
		lastRefill: make([]int64, servers),
	}
	for s := range tb.tokens {
		tb.tokens[s] = capacity
	}
	return tb
}

// Consume accepts the message when server has at least its size in tokens.
func (tb *TokenBucket) Consume(server int, m *packet.Message, cycle int64) bool {
	elapsed := cycle - tb.lastRefill[server]
	if elapsed > 0 {
		refill := float64(elapsed) * tb.refillRate
		tb.tokens[server] = min(tb.capacity, tb.tokens[server]+refill)
		tb.lastRefill[server] = cycle
	}
	cost := float64(m.Size)
	if tb.tokens[server] >= cost {
		tb.tokens[server] -= cost
		return true
	}
	return false
}
