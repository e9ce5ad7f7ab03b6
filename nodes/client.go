package nodes

import (
	"context"
	"time"

	"github.com/juju/errors"

	"xmlrpc-bridge/client"
	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/loadbalance"
	"xmlrpc-bridge/message"
	"xmlrpc-bridge/middleware"
	"xmlrpc-bridge/transport"
)

type clientConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Path      string        `yaml:"path"`
	Service   string        `yaml:"service"`
	Balancer  string        `yaml:"balancer"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rateLimit"` // Calls per second, 0 disables
	Burst     int           `yaml:"burst"`
}

// ClientNode is the xmlrpc-client config node. It owns one Connection
// Handle, shared by the call nodes that reference it.
type ClientNode struct {
	base
	client *client.Client // Nil when the connection could not be set up
}

func newClientNode(def *flow.NodeDef, rt flow.Runtime, opts Options) (*ClientNode, error) {
	var cfg clientConfig
	if err := def.Decode(&cfg); err != nil {
		return nil, errors.Trace(err)
	}
	n := &ClientNode{base: base{def: def, rt: rt}}

	c, err := n.connect(cfg, opts)
	if err != nil {
		rt.Error(errors.Annotatef(err, "xmlrpc client %s", def.Label()), nil)
		return n, nil
	}
	n.client = c
	return n, nil
}

func (n *ClientNode) connect(cfg clientConfig, opts Options) (*client.Client, error) {
	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(n.rt.Logger()),
		middleware.MetricsMiddleware(opts.Metrics),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, burst))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Timeout))
	}

	ccfg := client.Config{
		Endpoint:    transport.Endpoint{Host: cfg.Host, Port: cfg.Port, Path: cfg.Path},
		Middlewares: mws,
		Logger:      n.rt.Logger(),
	}
	if cfg.Service != "" {
		if opts.Registry == nil {
			return nil, errors.NotValidf("service %q without discovery", cfg.Service)
		}
		bal, err := loadbalance.New(cfg.Balancer)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ccfg.Service = cfg.Service
		ccfg.Registry = opts.Registry
		ccfg.Balancer = bal
	}
	return client.New(ccfg)
}

// Caller returns the Connection Handle, or nil if there is none.
func (n *ClientNode) Caller() Caller {
	if n.client == nil {
		return nil
	}
	return n.client
}

func (n *ClientNode) Input(ctx context.Context, msg *message.Message) {}

func (n *ClientNode) Close(ctx context.Context) error {
	if n.client == nil {
		return nil
	}
	return errors.Trace(n.client.Close())
}
