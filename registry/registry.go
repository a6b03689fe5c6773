package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by lookups that found nothing registered under a service name.
var ErrNoInstances = errors.New("registry: no instances available")

// ServiceInstance describes one reachable JSON-RPC endpoint.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version"` // Highest API version the endpoint serves, e.g. "9.0"
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
