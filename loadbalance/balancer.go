// Package loadbalance picks the endpoint a discovered call is sent to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity endpoints
//   - WeightedRandom:  heterogeneous endpoints (weight from the registry)
//   - ConsistentHash:  pins each API method to one endpoint while the set is stable
package loadbalance

import (
	"errors"

	"github.com/julianpistorius/jsvcgen/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. key is the JSON-RPC
	// method name; strategies that do not need affinity ignore it.
	// Called on every dispatch, must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, defaulting to round robin.
func New(name string) Balancer {
	switch name {
	case "weighted", "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "hash", "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}
