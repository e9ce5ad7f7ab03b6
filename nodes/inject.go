package nodes

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/message"
)

type injectConfig struct {
	Payload any           `yaml:"payload"`
	Method  string        `yaml:"method"`
	Once    bool          `yaml:"once"`   // Emit once when the flow starts
	Repeat  time.Duration `yaml:"repeat"` // Emit periodically, 0 disables
}

// InjectNode starts events: on deploy, on a timer, or whenever it receives
// any input.
type InjectNode struct {
	base
	cfg     injectConfig
	clock   clock.Clock
	tomb    tomb.Tomb
	started bool
}

func newInjectFactory(opts Options) flow.Factory {
	return func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
		var cfg injectConfig
		if err := def.Decode(&cfg); err != nil {
			return nil, errors.Trace(err)
		}
		if cfg.Repeat < 0 {
			return nil, errors.NotValidf("repeat %s", cfg.Repeat)
		}
		return &InjectNode{base: base{def: def, rt: rt}, cfg: cfg, clock: opts.Clock}, nil
	}
}

func (n *InjectNode) Start(ctx context.Context) error {
	if n.cfg.Once {
		n.emit()
	}
	if n.cfg.Repeat > 0 {
		n.started = true
		n.tomb.Go(n.loop)
	}
	return nil
}

func (n *InjectNode) loop() error {
	for {
		select {
		case <-n.tomb.Dying():
			return tomb.ErrDying
		case <-n.clock.After(n.cfg.Repeat):
			n.emit()
		}
	}
}

func (n *InjectNode) Input(ctx context.Context, msg *message.Message) {
	n.emit()
}

func (n *InjectNode) emit() {
	payload := n.cfg.Payload
	if list, ok := payload.([]any); ok {
		payload = append([]any(nil), list...)
	}
	msg := message.New(payload)
	msg.Method = n.cfg.Method
	n.rt.Send(msg)
}

func (n *InjectNode) Close(ctx context.Context) error {
	if !n.started {
		return nil
	}
	n.tomb.Kill(nil)
	return n.tomb.Wait()
}
