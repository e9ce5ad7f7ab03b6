package registry

import (
	"context"
	"time"
)

// ServiceInstance is one advertised XML-RPC server.
type ServiceInstance struct {
	Addr    string `json:"addr"`           // host:port
	Path    string `json:"path,omitempty"` // HTTP path of the endpoint
	Weight  int    `json:"weight"`         // Weight for load balancing
	Version string `json:"version,omitempty"`
}

// DefaultTTL is the lease length used when a caller passes zero.
const DefaultTTL = 10 * time.Second

type Registry interface {
	Register(ctx context.Context, service string, instance ServiceInstance, ttl time.Duration) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]ServiceInstance, error)
	// Watch emits the full instance list on every change until ctx is done,
	// then closes the channel.
	Watch(ctx context.Context, service string) <-chan []ServiceInstance
	Close() error
}
