// Package flow is the host that runs nodes: it builds them from a flow
// definition, carries messages along wires and drives their lifecycle.
//
//	Deploy:  config nodes ─► other nodes ─► mailboxes ─► Start
//	Run:     node ──Send──► mailbox(target) ──► target.Input   (one at a time)
//	Close:   stop in reverse deploy order: mailbox, then node.Close
//
// Messages sent after Close has begun are dropped.
package flow

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
)

// Node is a deployed node.
type Node interface {
	ID() string
	Type() string
	// Input handles one message. It is never called concurrently for one
	// node and must not block on network I/O.
	Input(ctx context.Context, msg *message.Message)
	// Close releases the node's resources. Late callbacks after Close must
	// be ignored by the node.
	Close(ctx context.Context) error
}

// Starter is implemented by nodes that act on their own once the flow is
// wired, e.g. a timer.
type Starter interface {
	Start(ctx context.Context) error
}

// Runtime is the host API available to a node.
type Runtime interface {
	// Send emits msg on the node's output wires.
	Send(msg *message.Message)
	// Warn reports a problem that does not stop the node.
	Warn(text string)
	// Error reports err, optionally attached to the message that caused it.
	Error(err error, msg *message.Message)
	Logger() *zap.Logger
	// T localizes a message id.
	T(id string, args ...any) string
}

// Deps resolves references to other nodes at construction time.
type Deps interface {
	// Resolve returns the node with id. Only nodes deployed earlier, which
	// includes every config node, can be resolved.
	Resolve(id string) (Node, error)
}

type Options struct {
	Types      *Types
	Logger     *zap.Logger
	Translator *i18n.Translator
}

type deployed struct {
	def  *NodeDef
	node Node
	box  *mailbox // Nil for config nodes
}

// Flow is a running set of nodes.
type Flow struct {
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	order   []*deployed
	byID    map[string]*deployed
	running bool // Mailbox goroutines launched

	mu     sync.RWMutex
	closed bool
}

// Deploy validates def, builds every node and starts delivering messages.
// If a node cannot be built, the nodes built so far are closed again.
func Deploy(ctx context.Context, def *Definition, opts Options) (*Flow, error) {
	if opts.Types == nil {
		return nil, errors.NotValidf("nil node types")
	}
	if err := def.Validate(opts.Types); err != nil {
		return nil, errors.Trace(err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Translator == nil {
		opts.Translator = i18n.New("")
	}

	f := &Flow{
		opts:   opts,
		logger: opts.Logger,
		byID:   make(map[string]*deployed, len(def.Nodes)),
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())

	for _, configPass := range []bool{true, false} {
		for i := range def.Nodes {
			nd := &def.Nodes[i]
			info, _ := opts.Types.Lookup(nd.Type)
			if info.Config != configPass {
				continue
			}
			if err := f.build(nd, info); err != nil {
				_ = f.Close(ctx)
				return nil, errors.Annotatef(err, "deploying node %q", nd.ID)
			}
		}
	}

	f.running = true
	for _, d := range f.order {
		if d.box != nil {
			go d.box.run(f.ctx, d.node)
		}
	}
	for _, d := range f.order {
		if s, ok := d.node.(Starter); ok {
			if err := s.Start(f.ctx); err != nil {
				_ = f.Close(ctx)
				return nil, errors.Annotatef(err, "starting node %q", d.def.ID)
			}
		}
	}
	f.logger.Info("flow deployed", zap.Int("nodes", len(f.order)))
	return f, nil
}

func (f *Flow) build(nd *NodeDef, info TypeInfo) error {
	rt := &nodeRuntime{
		flow: f,
		def:  nd,
		logger: f.logger.With(
			zap.String("node", nd.ID),
			zap.String("type", nd.Type),
		),
		translator: f.opts.Translator,
	}
	node, err := info.Factory(nd, rt, f)
	if err != nil {
		return errors.Trace(err)
	}
	d := &deployed{def: nd, node: node}
	if !info.Config {
		d.box = newMailbox()
	}
	f.order = append(f.order, d)
	f.byID[nd.ID] = d
	return nil
}

// Resolve implements Deps.
func (f *Flow) Resolve(id string) (Node, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFoundf("node %q", id)
	}
	return d.node, nil
}

// Node returns a deployed node by id.
func (f *Flow) Node(id string) (Node, bool) {
	d, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return d.node, true
}

// Inject delivers msg to the node with id as if it arrived on a wire.
func (f *Flow) Inject(id string, msg *message.Message) error {
	d, ok := f.byID[id]
	if !ok {
		return errors.NotFoundf("node %q", id)
	}
	if d.box == nil {
		return errors.NotSupportedf("input to config node %q", id)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed || !d.box.put(msg) {
		return errors.Errorf("flow closed")
	}
	return nil
}

// route delivers msg along the wires of from. Every target after the first
// gets its own copy.
func (f *Flow) route(from *NodeDef, msg *message.Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.logger.Debug("dropping message after close", zap.String("node", from.ID), zap.String("msgid", msg.ID))
		return
	}
	// Copies are taken before the original leaves, since the first
	// target may modify it.
	outs := make([]*message.Message, len(from.Wires))
	for i := range from.Wires {
		if i == 0 {
			outs[i] = msg
		} else {
			outs[i] = msg.Clone()
		}
	}
	for i, target := range from.Wires {
		d := f.byID[target]
		if d == nil || d.box == nil {
			continue
		}
		d.box.put(outs[i])
	}
}

// Close stops every node in reverse deploy order and returns the first
// error. It is idempotent.
func (f *Flow) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	var first error
	for i := len(f.order) - 1; i >= 0; i-- {
		d := f.order[i]
		if d.box != nil {
			d.box.close()
			if f.running {
				<-d.box.done
			}
		}
		if err := d.node.Close(ctx); err != nil {
			f.logger.Warn("closing node", zap.String("node", d.def.ID), zap.Error(err))
			if first == nil {
				first = errors.Annotatef(err, "closing node %q", d.def.ID)
			}
		}
	}
	f.cancel()
	f.logger.Info("flow closed")
	return first
}
