package nodes

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
	"xmlrpc-bridge/reply"
)

type listenConfig struct {
	Method string `yaml:"method"`
	Server string `yaml:"server"`
}

// ListenNode is the Inbound Dispatch Adapter: every request for its method
// becomes one event carrying the reply token.
type ListenNode struct {
	base
	method     string
	listener   Listener
	registered bool
	closed     atomic.Bool
}

func newListenFactory(opts Options) flow.Factory {
	return func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
		var cfg listenConfig
		if err := def.Decode(&cfg); err != nil {
			return nil, errors.Trace(err)
		}
		var listener Listener
		if cfg.Server != "" {
			if ref, err := deps.Resolve(cfg.Server); err == nil {
				if sn, ok := ref.(*ServerNode); ok {
					listener = sn.Listener()
				}
			}
		}
		return NewListenNode(def, rt, cfg.Method, listener), nil
	}
}

// NewListenNode subscribes method on listener. A nil listener is reported
// once and the node stays inert. A method someone else already listens on
// has been warned about by the server; the node then stays inert too.
func NewListenNode(def *flow.NodeDef, rt flow.Runtime, method string, listener Listener) *ListenNode {
	n := &ListenNode{
		base:     base{def: def, rt: rt},
		method:   method,
		listener: listener,
	}
	if listener == nil {
		rt.Error(configurationError(rt.T(i18n.MissingServer)), nil)
		return n
	}
	err := listener.Register(method, n.handle)
	switch {
	case err == nil:
		n.registered = true
	case errors.Is(err, errors.AlreadyExists):
		rt.Logger().Debug("method taken by another listener", zap.String("method", method))
	default:
		rt.Error(errors.Annotatef(err, "listening on %q", method), nil)
	}
	return n
}

// handle runs on the server's request goroutine and only enqueues.
func (n *ListenNode) handle(err error, params []any, tok *reply.Token) {
	if n.closed.Load() {
		return
	}
	if err != nil {
		// The token is left to expire; the caller gets the timeout fault.
		n.rt.Error(errors.Annotatef(err, "request for %q", tok.Method()), nil)
		return
	}
	msg := message.New(nil)
	msg.Method = tok.Method()
	msg.Params = params
	msg.Reply = tok
	n.rt.Send(msg)
}

func (n *ListenNode) Input(ctx context.Context, msg *message.Message) {}

// Close unregisters the method, but only if this node registered it.
func (n *ListenNode) Close(ctx context.Context) error {
	n.closed.Store(true)
	if n.registered {
		n.listener.Unregister(n.method)
		n.registered = false
	}
	return nil
}
