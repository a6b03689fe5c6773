package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/apiversion"
	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/loadbalance"
	"github.com/julianpistorius/jsvcgen/registry"
)

// DiscoveryDispatcher finds endpoints for a service name in a registry and
// spreads calls over them with a balancer.
//
//	DispatchRequest → Discover(service) → Pick(method, instances) → FramedDispatcher(addr)
//
// One FramedDispatcher (one multiplexed connection) is kept per endpoint address.
type DiscoveryDispatcher struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	service  string
	codec    codec.CodecType
	logger   *zap.Logger

	versionTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*FramedDispatcher
}

// NewDiscoveryDispatcher creates a dispatcher for serviceName. A nil balancer
// means round robin; a nil logger disables logging.
func NewDiscoveryDispatcher(reg registry.Registry, bal loadbalance.Balancer, serviceName string, codecType codec.CodecType, logger *zap.Logger) *DiscoveryDispatcher {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryDispatcher{
		registry:       reg,
		balancer:       bal,
		service:        serviceName,
		codec:          codecType,
		logger:         logger,
		versionTimeout: 2 * time.Second,
		conns:          make(map[string]*FramedDispatcher),
	}
}

// Version is the oldest API version among the registered endpoints, so any
// endpoint the balancer picks accepts a request that passed the version check.
// Returns "" when the registry cannot be reached or any endpoint reports no
// usable version, because the balancer may pick that endpoint.
func (d *DiscoveryDispatcher) Version() string {
	ctx, cancel := context.WithTimeout(context.Background(), d.versionTimeout)
	defer cancel()

	instances, err := d.registry.Discover(ctx, d.service)
	if err != nil {
		d.logger.Warn("discover for version failed", zap.String("service", d.service), zap.Error(err))
		return ""
	}
	versions := make([]string, len(instances))
	for i, inst := range instances {
		versions[i] = inst.Version
	}
	return apiversion.Lowest(versions)
}

func (d *DiscoveryDispatcher) DispatchRequest(ctx context.Context, request []byte) ([]byte, error) {
	instances, err := d.registry.Discover(ctx, d.service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d.service, err)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("discover %s: %w", d.service, registry.ErrNoInstances)
	}

	// The method name is the balancing key; a request without one still goes somewhere.
	method, _ := jsonparser.GetString(request, "method")

	instance, err := d.balancer.Pick(method, instances)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("picked instance",
		zap.String("service", d.service),
		zap.String("method", method),
		zap.String("addr", instance.Addr),
		zap.String("balancer", d.balancer.Name()))

	return d.dispatcherFor(instance.Addr, instance.Version).DispatchRequest(ctx, request)
}

func (d *DiscoveryDispatcher) dispatcherFor(addr, version string) *FramedDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()

	fd, ok := d.conns[addr]
	if !ok {
		fd = NewFramedDispatcher(addr, version, WithFramedCodec(d.codec), WithFramedLogger(d.logger))
		d.conns[addr] = fd
	}
	return fd
}

// Close drops every endpoint connection.
func (d *DiscoveryDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, fd := range d.conns {
		fd.Close()
		delete(d.conns, addr)
	}
	return nil
}
