package nodes

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
	"xmlrpc-bridge/metrics"
	"xmlrpc-bridge/reply"
)

// ResponseNode is the Response Correlator: it answers the inbound request
// whose token the event carries.
type ResponseNode struct {
	base
	metrics *metrics.Metrics
}

func newResponseFactory(opts Options) flow.Factory {
	return func(def *flow.NodeDef, rt flow.Runtime, deps flow.Deps) (flow.Node, error) {
		if err := def.Decode(&struct{}{}); err != nil {
			return nil, errors.Trace(err)
		}
		return &ResponseNode{base: base{def: def, rt: rt}, metrics: opts.Metrics}, nil
	}
}

func (n *ResponseNode) Input(ctx context.Context, msg *message.Message) {
	tok := msg.Reply
	if tok == nil {
		n.metrics.CorrelationMisuse()
		n.rt.Warn(n.rt.T(i18n.MissingCallback))
		return
	}

	err := tok.Send(msg.Err(), msg.Payload)
	switch {
	case err == nil:
		if tok.State() == reply.StateAbandoned {
			n.rt.Logger().Debug("caller went away before the response", zap.String("method", tok.Method()), zap.String("msgid", msg.ID))
		}
	case errors.Is(err, reply.ErrAlreadySent):
		n.metrics.CorrelationMisuse()
		n.rt.Warn(n.rt.T(i18n.ResponseAlreadySent, tok.Method()))
	case errors.Is(err, reply.ErrExpired):
		n.rt.Logger().Debug("response after deadline", zap.String("method", tok.Method()), zap.String("msgid", msg.ID))
	default:
		n.rt.Error(err, msg)
	}
}

func (n *ResponseNode) Close(ctx context.Context) error {
	return nil
}
