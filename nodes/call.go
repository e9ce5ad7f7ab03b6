package nodes

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
)

type callConfig struct {
	Method string `yaml:"method"`
	Client string `yaml:"client"`
}

// CallNode is the Method Invoker: every input event becomes one remote call,
// and every successful call one output event.
type CallNode struct {
	base
	method string
	caller Caller
	closed atomic.Bool
}

func newCallFactory(opts Options) flow.Factory {
	return func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
		var cfg callConfig
		if err := def.Decode(&cfg); err != nil {
			return nil, errors.Trace(err)
		}
		var caller Caller
		if cfg.Client != "" {
			if ref, err := deps.Resolve(cfg.Client); err == nil {
				if cn, ok := ref.(*ClientNode); ok {
					caller = cn.Caller()
				}
			}
		}
		return NewCallNode(def, rt, cfg.Method, caller), nil
	}
}

// NewCallNode creates a call node. method is the default method name; a nil
// caller is reported once and the node ignores its input.
func NewCallNode(def *flow.NodeDef, rt flow.Runtime, method string, caller Caller) *CallNode {
	if caller == nil {
		rt.Error(configurationError(rt.T(i18n.MissingClient)), nil)
	}
	return &CallNode{
		base:   base{def: def, rt: rt},
		method: method,
		caller: caller,
	}
}

func (n *CallNode) Input(ctx context.Context, msg *message.Message) {
	if n.caller == nil {
		return
	}
	method := msg.Method
	if method == "" {
		method = n.method
	}
	if method == "" {
		n.rt.Error(configurationError(n.rt.T(i18n.MissingMethod)), msg)
		return
	}
	params := message.Params(msg.Payload)

	// The mailbox must not wait on the network.
	go func() {
		result, err := n.caller.Call(ctx, method, params)
		if n.closed.Load() {
			n.rt.Logger().Debug("dropping result after close", zap.String("method", method), zap.String("msgid", msg.ID))
			return
		}
		if err != nil {
			n.rt.Error(err, msg)
			return
		}
		out := msg.Clone()
		out.Payload = result
		n.rt.Send(out)
	}()
}

// Close stops results from being emitted. Calls in flight are not
// cancelled; their results are dropped.
func (n *CallNode) Close(ctx context.Context) error {
	n.closed.Store(true)
	return nil
}
