// Package loadbalance picks the bridge host a frame is attached to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity hosts
//   - WeightedRandom:  hosts of different capacity
//   - ConsistentHash:  the same frame id lands on the same host while the host set is stable
package loadbalance

import (
	"errors"
	"fmt"

	"framebridge/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance. key identifies what is being placed (the frame id); only
// key-aware strategies look at it. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// ByName returns a fresh balancer for a configuration name.
func ByName(name string) (Balancer, error) {
	switch name {
	case "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "", "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
