package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
)

// MemoryRegistry is an in-process Registry for single-process flows and
// tests. TTLs are ignored: entries live until deregistered.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
	closed   bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, service string, instance ServiceInstance, ttl time.Duration) error {
	if service == "" || instance.Addr == "" {
		return errors.NotValidf("registration %q/%q", service, instance.Addr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("registry closed")
	}
	if r.services[service] == nil {
		r.services[service] = make(map[string]ServiceInstance)
	}
	r.services[service][instance.Addr] = instance
	r.notifyLocked(service)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[service][addr]; !ok {
		return nil
	}
	delete(r.services[service], addr)
	r.notifyLocked(service)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(service), nil
}

// Watch emits the current list immediately, then on every change.
func (r *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- r.listLocked(service)
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[service]
		for i, w := range watchers {
			if w == ch {
				r.watchers[service] = append(watchers[:i], watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch
}

func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for service, watchers := range r.watchers {
		for _, w := range watchers {
			close(w)
		}
		delete(r.watchers, service)
	}
	return nil
}

func (r *MemoryRegistry) listLocked(service string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(r.services[service]))
	for _, inst := range r.services[service] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Addr < instances[j].Addr
	})
	return instances
}

// notifyLocked replaces any unread update with the latest list, so a slow
// watcher only ever sees the newest state.
func (r *MemoryRegistry) notifyLocked(service string) {
	list := r.listLocked(service)
	for _, w := range r.watchers[service] {
		select {
		case <-w:
		default:
		}
		w <- list
	}
}
