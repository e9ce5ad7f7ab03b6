package flow

import (
	"go.uber.org/zap"

	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/message"
)

// nodeRuntime is the Runtime handed to one node.
type nodeRuntime struct {
	flow       *Flow
	def        *NodeDef
	logger     *zap.Logger
	translator *i18n.Translator
}

func (r *nodeRuntime) Send(msg *message.Message) {
	if msg == nil {
		return
	}
	r.flow.route(r.def, msg)
}

func (r *nodeRuntime) Warn(text string) {
	r.logger.Warn(text)
}

func (r *nodeRuntime) Error(err error, msg *message.Message) {
	if err == nil {
		return
	}
	fields := []zap.Field{zap.NamedError("cause", err)}
	if msg != nil {
		fields = append(fields, zap.String("msgid", msg.ID))
	}
	r.logger.Error(err.Error(), fields...)
}

func (r *nodeRuntime) Logger() *zap.Logger {
	return r.logger
}

func (r *nodeRuntime) T(id string, args ...any) string {
	return r.translator.T(id, args...)
}
