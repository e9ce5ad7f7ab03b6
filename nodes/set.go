package nodes

import (
	"context"

	"github.com/juju/errors"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/message"
)

type setConfig struct {
	Payload any    `yaml:"payload"`
	Param   *int   `yaml:"param"` // Take the payload from this request parameter
	Error   string `yaml:"error"` // Answer with a fault instead
	Code    int    `yaml:"code"`
}

// SetNode rewrites the payload or error of each event and passes it on.
type SetNode struct {
	base
	cfg setConfig
}

func newSetNode(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
	var cfg setConfig
	if err := def.Decode(&cfg); err != nil {
		return nil, errors.Trace(err)
	}
	return &SetNode{base: base{def: def, rt: rt}, cfg: cfg}, nil
}

func (n *SetNode) Input(ctx context.Context, msg *message.Message) {
	switch {
	case n.cfg.Param != nil:
		i := *n.cfg.Param
		if i < 0 || i >= len(msg.Params) {
			n.rt.Error(errors.NotValidf("param %d of %d", i, len(msg.Params)), msg)
			return
		}
		msg.Payload = msg.Params[i]
	case n.cfg.Payload != nil:
		msg.Payload = n.cfg.Payload
	}
	if n.cfg.Error != "" {
		msg.Error = &message.ErrorInfo{Message: n.cfg.Error, Code: n.cfg.Code}
	}
	n.rt.Send(msg)
}

func (n *SetNode) Close(ctx context.Context) error {
	return nil
}
