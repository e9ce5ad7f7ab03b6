// Package client implements the Connection Handle: one live XML-RPC session
// per configured client, to a fixed endpoint or to servers discovered by
// service name.
package client

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/loadbalance"
	"xmlrpc-bridge/middleware"
	"xmlrpc-bridge/registry"
	"xmlrpc-bridge/transport"
)

// Config holds what a Client needs. Either Endpoint is a complete address, or
// Service names servers to discover through Registry; in that case
// Endpoint.Path is the default path for instances that do not advertise one.
type Config struct {
	Endpoint    transport.Endpoint
	Service     string
	Registry    registry.Registry
	Balancer    loadbalance.Balancer // Round-robin when nil
	Middlewares []middleware.Middleware
	Logger      *zap.Logger
}

// Validate reports whether the config can produce a client.
func (c Config) Validate() error {
	if c.Service != "" {
		if c.Registry == nil {
			return errors.NotValidf("service %q without a registry", c.Service)
		}
		return nil
	}
	return errors.Trace(c.Endpoint.Validate())
}

type Client struct {
	cfg     Config
	logger  *zap.Logger
	handler middleware.HandlerFunc

	static *transport.ClientTransport // Set when not in discovery mode

	mu         sync.Mutex
	transports map[string]*transport.ClientTransport // Per discovered address
	instances  []registry.ServiceInstance
	closed     bool

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// New validates cfg and opens the session. Nothing is dialled until the
// first call.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}

	c := &Client{
		cfg:        cfg,
		logger:     cfg.Logger,
		transports: make(map[string]*transport.ClientTransport),
	}
	c.handler = middleware.Chain(cfg.Middlewares...)(c.call)

	if cfg.Service == "" {
		t, err := transport.NewClientTransport(cfg.Endpoint)
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.static = t
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})
	if instances, err := cfg.Registry.Discover(ctx, cfg.Service); err != nil {
		c.logger.Warn("initial discovery failed", zap.String("service", cfg.Service), zap.Error(err))
	} else {
		c.instances = instances
	}
	go c.watch(cfg.Registry.Watch(ctx, cfg.Service))
	return c, nil
}

// Call invokes method on the remote server through the middleware chain.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}
	return c.handler(ctx, method, params)
}

// Endpoint returns the static endpoint, or the zero value in discovery mode.
func (c *Client) Endpoint() transport.Endpoint {
	return c.cfg.Endpoint
}

// Close stops discovery and releases every transport. Calls in flight finish
// on their own.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.stopWatch != nil {
		c.stopWatch()
		<-c.watchDone
	}
	if c.static != nil {
		c.static.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, t := range c.transports {
		t.Close()
		delete(c.transports, addr)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (any, error) {
	t, err := c.getTransport(method)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return t.Call(ctx, method, params)
}

func (c *Client) getTransport(method string) (*transport.ClientTransport, error) {
	if c.static != nil {
		return c.static, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.instances) == 0 {
		return nil, errors.NotFoundf("instances of service %q", c.cfg.Service)
	}
	instance, err := c.cfg.Balancer.Pick(c.instances, method)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if t, ok := c.transports[instance.Addr]; ok {
		return t, nil
	}

	path := instance.Path
	if path == "" {
		path = c.cfg.Endpoint.Path
	}
	ep, err := transport.ParseAddr(instance.Addr, path)
	if err != nil {
		return nil, errors.Annotatef(err, "instance of %q", c.cfg.Service)
	}
	t, err := transport.NewClientTransport(ep)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.transports[instance.Addr] = t
	return t, nil
}

// watch keeps the instance list current and drops transports of servers
// that went away.
func (c *Client) watch(updates <-chan []registry.ServiceInstance) {
	defer close(c.watchDone)
	for instances := range updates {
		live := make(map[string]bool, len(instances))
		for _, inst := range instances {
			live[inst.Addr] = true
		}

		c.mu.Lock()
		c.instances = instances
		for addr, t := range c.transports {
			if !live[addr] {
				t.Close()
				delete(c.transports, addr)
			}
		}
		c.mu.Unlock()

		c.logger.Debug("service instances updated",
			zap.String("service", c.cfg.Service),
			zap.Int("instances", len(instances)),
		)
	}
}
