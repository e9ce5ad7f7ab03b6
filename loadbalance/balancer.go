// Package loadbalance selects one discovered XML-RPC server per call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers advertised with different weights
//   - ConsistentHash:  the same method name always lands on the same server
package loadbalance

import (
	"github.com/juju/errors"

	"xmlrpc-bridge/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
const ErrNoInstances = errors.ConstError("no instances available")

// Strategy names accepted by New.
const (
	StrategyRoundRobin     = "round-robin"
	StrategyWeightedRandom = "weighted-random"
	StrategyConsistentHash = "consistent-hash"
)

// Balancer is called before each outbound call to select a target.
// Implementations must be safe for concurrent use.
type Balancer interface {
	// Pick selects one instance. key is the method name; strategies that do
	// not need affinity ignore it.
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name.
	Name() string
}

// New returns the balancer for a strategy name. An empty name means
// round-robin.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case "", StrategyRoundRobin:
		return &RoundRobinBalancer{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case StrategyConsistentHash:
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.NotValidf("balancer %q", strategy)
}
