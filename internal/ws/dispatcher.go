package ws

import (
	"errors"

	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g. protocol.SendMessageMsg).
type MessageHandler func(c *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping itself and replies with a
// structured error to malformed, unsupported or premature messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log.Named("dispatch"),
	}
}

// Register associates a MessageHandler with a message type, replacing any
// previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's Handler. Nothing is processed for a connection
// that is not registered.
func (d *MessageDispatcher) Dispatch(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn_id", c.ID), zap.Error(err))
		if errors.Is(err, protocol.ErrUnknownType) {
			SendError(c, protocol.CodeUnsupportedType, "unsupported message type", msgType)
			return
		}
		SendError(c, protocol.CodeParseError, "invalid message format", msgType)
		return
	}

	if c.State() != StateRegistered {
		SendError(c, protocol.CodeNotRegistered, "connection is not registered", msgType)
		return
	}

	if msgType == protocol.TypePing {
		_ = c.Send(protocol.MustServerMessage(protocol.TypePong, protocol.PongMsg{}))
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("type", msgType), zap.String("conn_id", c.ID))
		SendError(c, protocol.CodeUnsupportedType, "unsupported message type", msgType)
		return
	}

	handler(c, msg)
}

// SendError queues a structured error for the client. Delivery is best
// effort.
func SendError(c *Connection, code, message, requestType string) {
	_ = c.Send(protocol.MustServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:        code,
		Message:     message,
		RequestType: requestType,
	}))
}
