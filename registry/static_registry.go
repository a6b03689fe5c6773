package registry

import (
	"context"
	"sync"
)

// StaticRegistry keeps instances in memory. It serves fixed endpoint lists from
// configuration and stands in for etcd in tests. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

// NewStaticRegistry creates a registry pre-populated with instances for one service.
func NewStaticRegistry(serviceName string, instances ...ServiceInstance) *StaticRegistry {
	r := &StaticRegistry{
		services: make(map[string][]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
	if serviceName != "" && len(instances) > 0 {
		r.services[serviceName] = append([]ServiceInstance(nil), instances...)
	}
	return r
}

func (r *StaticRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[serviceName]
	replaced := false
	for i := range list {
		if list[i].Addr == instance.Addr {
			list[i] = instance
			replaced = true
		}
	}
	if !replaced {
		list = append(list, instance)
	}
	r.services[serviceName] = list
	r.notifyLocked(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[serviceName]
	kept := list[:0]
	for _, inst := range list {
		if inst.Addr != addr {
			kept = append(kept, inst)
		}
	}
	r.services[serviceName] = kept
	r.notifyLocked(serviceName)
	return nil
}

// Discover returns a copy so callers may keep it across later registrations.
func (r *StaticRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ServiceInstance{}, r.services[serviceName]...), nil
}

func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[serviceName]
		for i, w := range watchers {
			if w == ch {
				r.watchers[serviceName] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// notifyLocked pushes the latest list to every watcher, dropping a stale
// pending update instead of blocking.
func (r *StaticRegistry) notifyLocked(serviceName string) {
	snapshot := append([]ServiceInstance{}, r.services[serviceName]...)
	for _, w := range r.watchers[serviceName] {
		select {
		case <-w:
		default:
		}
		w <- snapshot
	}
}
