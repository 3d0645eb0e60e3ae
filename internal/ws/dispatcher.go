package ws

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/gateway"
	"github.com/huddle/chat-server/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(ctx context.Context, conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to the gateway based
// on the message type. It answers ping itself and sends structured errors
// for messages it cannot route.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	gw       *gateway.Gateway
	log      zerolog.Logger
}

// NewMessageDispatcher creates a MessageDispatcher with the chat operations
// of gw registered.
func NewMessageDispatcher(gw *gateway.Gateway, log zerolog.Logger) *MessageDispatcher {
	d := &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		gw:       gw,
		log:      log,
	}

	d.Register(protocol.TypeSendGroupMessage, func(ctx context.Context, c *Connection, msg interface{}) {
		_ = d.gw.SendGroupMessage(ctx, c.Session(), msg.(protocol.SendGroupMessageMsg))
	})
	d.Register(protocol.TypeSendDirectMessage, func(ctx context.Context, c *Connection, msg interface{}) {
		d.gw.SendDirectMessage(ctx, c.Session(), msg.(protocol.SendDirectMessageMsg))
	})
	d.Register(protocol.TypeDeleteMessage, func(ctx context.Context, c *Connection, msg interface{}) {
		d.gw.DeleteMessage(ctx, c.Session(), msg.(protocol.DeleteMessageMsg))
	})
	return d
}

// Register associates a MessageHandler with a message type, replacing any
// previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and routes it. A request whose fields fail to decode
// or validate is acknowledged through the gateway with its request_id;
// anything unparseable gets an error frame. Neither closes the connection.
func (d *MessageDispatcher) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) && conn.Session() != nil {
			d.gw.Reject(conn.Session(), verr.MsgType, verr.RequestID, err)
			return
		}
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("dispatch parse error")
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok || conn.Session() == nil {
		d.log.Debug().Str("type", msgType).Str("conn", conn.ID).Msg("unsupported message type")
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(ctx, conn, msg)
}

// sendError queues an error frame for the client.
func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error().Err(err).Msg("build error message")
		return
	}
	if err := conn.Send(data); err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("send error message")
	}
}

// sendPong answers an application-level ping.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error().Err(err).Msg("build pong message")
		return
	}
	if err := conn.Send(data); err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("send pong")
	}
}
