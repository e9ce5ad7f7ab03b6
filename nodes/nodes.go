// Package nodes implements the XML-RPC node types and the small utility
// nodes a flow needs around them.
//
//	xmlrpc-client ◄─ref─ xmlrpc call       outbound: event ─► Call ─► event
//	xmlrpc-server ◄─ref─ xmlrpc listen     inbound:  request ─► event{reply}
//	                     xmlrpc response   answer:   event{reply} ─► reply.Send
//
// Config nodes (client, server) own the network resources. The nodes that
// reference them receive a typed handle at construction; a missing handle is
// reported once and leaves the node inert.
package nodes

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/metrics"
	"xmlrpc-bridge/registry"
	"xmlrpc-bridge/server"
)

// Type names as used in flow files.
const (
	TypeClient   = "xmlrpc-client"
	TypeCall     = "xmlrpc call"
	TypeServer   = "xmlrpc-server"
	TypeListen   = "xmlrpc listen"
	TypeResponse = "xmlrpc response"
	TypeInject   = "inject"
	TypeSet      = "set"
	TypeDebug    = "debug"
)

// Caller is the Connection Handle a call node uses.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (any, error)
}

// Listener is the Listener Registry a listen node subscribes to.
type Listener interface {
	Register(method string, h server.Handler) error
	Unregister(method string)
}

// Options carries process-wide dependencies into the node factories.
type Options struct {
	// Registry enables discovery for client nodes with a service and
	// advertising for server nodes with advertise set.
	Registry registry.Registry
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	// ResponseTimeout is the default for server nodes that set none.
	ResponseTimeout time.Duration
}

// Register adds every node type to types.
func Register(types *flow.Types, opts Options) error {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = server.DefaultResponseTimeout
	}
	configs := map[string]flow.Factory{
		TypeClient: func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
			return newClientNode(def, rt, opts)
		},
		TypeServer: func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
			return newServerNode(def, rt, opts)
		},
	}
	regular := map[string]flow.Factory{
		TypeCall:     newCallFactory(opts),
		TypeListen:   newListenFactory(opts),
		TypeResponse: newResponseFactory(opts),
		TypeInject:   newInjectFactory(opts),
		TypeSet:      newSetNode,
		TypeDebug:    newDebugNode,
	}
	for name, f := range configs {
		if err := types.RegisterConfig(name, f); err != nil {
			return errors.Trace(err)
		}
	}
	for name, f := range regular {
		if err := types.Register(name, f); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

type base struct {
	def *flow.NodeDef
	rt  flow.Runtime
}

func (b *base) ID() string   { return b.def.ID }
func (b *base) Type() string { return b.def.Type }

// configurationError is reported once when a node cannot work.
func configurationError(text string) error {
	return errors.NewNotValid(nil, text)
}
