package nodes

import (
	"context"
	"time"

	"github.com/juju/errors"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
	"xmlrpc-bridge/server"
)

type serverConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Path            string        `yaml:"path"`
	Advertise       string        `yaml:"advertise"`
	ResponseTimeout time.Duration `yaml:"responseTimeout"`
	Introspection   bool          `yaml:"introspection"`
}

// ServerNode is the xmlrpc-server config node. It owns the listening socket
// that listen nodes subscribe to.
type ServerNode struct {
	base
	server *server.Server // Nil when the socket could not be bound
}

func newServerNode(def *flow.NodeDef, rt flow.Runtime, opts Options) (*ServerNode, error) {
	var cfg serverConfig
	if err := def.Decode(&cfg); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = opts.ResponseTimeout
	}
	n := &ServerNode{base: base{def: def, rt: rt}}

	scfg := server.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Path:            cfg.Path,
		ResponseTimeout: cfg.ResponseTimeout,
		Introspection:   cfg.Introspection,
		Clock:           opts.Clock,
		Logger:          rt.Logger(),
		Metrics:         opts.Metrics,
		Warner:          runtimeWarner{rt},
	}
	if cfg.Advertise != "" && opts.Registry != nil {
		scfg.Advertise = cfg.Advertise
		scfg.Registry = opts.Registry
	}
	srv, err := server.New(scfg)
	if err != nil {
		rt.Error(errors.Annotatef(err, "xmlrpc server %s", def.Label()), nil)
		return n, nil
	}
	n.server = srv
	return n, nil
}

// Listener returns the Listener Registry, or nil if there is none.
func (n *ServerNode) Listener() Listener {
	if n.server == nil {
		return nil
	}
	return n.server
}

// Server returns the underlying server, or nil.
func (n *ServerNode) Server() *server.Server {
	return n.server
}

func (n *ServerNode) Input(ctx context.Context, msg *message.Message) {}

func (n *ServerNode) Close(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	return errors.Trace(n.server.Close(ctx))
}

// runtimeWarner shows server warnings on the server node.
type runtimeWarner struct {
	rt flow.Runtime
}

func (w runtimeWarner) NotFound(method string) {
	w.rt.Warn(w.rt.T(i18n.MethodNotFound, method))
}

func (w runtimeWarner) Duplicate(method string) {
	w.rt.Warn(w.rt.T(i18n.AlreadyRegistered, method))
}
