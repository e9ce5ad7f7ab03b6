package nodes

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/message"
)

// DebugNode logs every event it receives.
type DebugNode struct {
	base
}

func newDebugNode(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
	if err := def.Decode(&struct{}{}); err != nil {
		return nil, errors.Trace(err)
	}
	return &DebugNode{base: base{def: def, rt: rt}}, nil
}

func (n *DebugNode) Input(ctx context.Context, msg *message.Message) {
	fields := []zap.Field{
		zap.String("msgid", msg.ID),
		zap.Any("payload", msg.Payload),
	}
	if msg.Method != "" {
		fields = append(fields, zap.String("method", msg.Method))
	}
	if msg.Error != nil {
		fields = append(fields, zap.String("error", msg.Error.Message))
	}
	n.rt.Logger().Info("debug", fields...)
}

func (n *DebugNode) Close(ctx context.Context) error {
	return nil
}
