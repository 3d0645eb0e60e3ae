package gateway

import (
	"context"

	"github.com/huddle/chat-server/internal/broadcast"
	"github.com/huddle/chat-server/internal/message"
	"github.com/huddle/chat-server/internal/metrics"
	"github.com/huddle/chat-server/internal/protocol"
	"github.com/huddle/chat-server/internal/ratelimit"
)

// SendGroupMessage appends a message authored by the session's user to the
// group log and broadcasts it to every session, the author included. Success
// has no reply of its own; a failure is acknowledged to the requester.
func (g *Gateway) SendGroupMessage(ctx context.Context, sess *Session, req protocol.SendGroupMessageMsg) error {
	ack := Ack{RequestID: req.RequestID, Op: protocol.TypeSendGroupMessage}

	body, gerr := g.admit(ctx, sess, protocol.ScopeGroup, req.Text, req.Image)
	if gerr != nil {
		ack.Err = gerr
		g.acknowledge(sess, ack)
		return gerr
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !sess.open() {
		ack.Err = errSessionClosed
		g.ackLocked(sess, ack)
		return errSessionClosed
	}

	m := g.groups.Append(message.Group{
		Author:    sess.Username,
		Body:      body,
		CreatedAt: g.now(),
	})
	metrics.MessagesTotal.WithLabelValues(protocol.ScopeGroup, "stored").Inc()

	g.dispatch(broadcast.KindGroupMessageAdded, "", protocol.TypeGroupMessageAdded, protocol.GroupMessageAddedMsg{
		Message: protocol.GroupMessage(m),
	})
	return nil
}

// SendDirectMessage stores a message from the session's user to req.To in
// both participants' logs, delivers it to the recipient's session if there
// is one, and acknowledges the outcome to the sender. A message to a user
// who is offline is still stored and shows up in their next snapshot.
func (g *Gateway) SendDirectMessage(ctx context.Context, sess *Session, req protocol.SendDirectMessageMsg) Ack {
	ack := Ack{RequestID: req.RequestID, Op: protocol.TypeSendDirectMessage}

	body, gerr := g.admit(ctx, sess, protocol.ScopeDirect, req.Text, req.Image)
	if gerr != nil {
		ack.Err = gerr
		g.acknowledge(sess, ack)
		return ack
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !sess.open() {
		ack.Err = errSessionClosed
		g.ackLocked(sess, ack)
		return ack
	}
	if _, ok := g.registry.Get(req.To); !ok {
		metrics.MessagesTotal.WithLabelValues(protocol.ScopeDirect, "rejected").Inc()
		ack.Err = errRecipientNotFound
		g.ackLocked(sess, ack)
		return ack
	}

	m := g.directs.Append(message.Direct{
		From:      sess.Username,
		To:        req.To,
		Body:      body,
		CreatedAt: g.now(),
	})
	metrics.MessagesTotal.WithLabelValues(protocol.ScopeDirect, "stored").Inc()

	g.dispatch(broadcast.KindDirectMessageDelivered, req.To, protocol.TypeDirectMessageDelivered, protocol.DirectMessageDeliveredMsg{
		Message: protocol.DirectMessage(m),
	})

	ack.Direct = &m
	g.ackLocked(sess, ack)
	return ack
}

// DeleteMessage removes one of the session user's own messages from the
// store named by req.Scope. On success every session is told to drop it;
// on failure only the requester hears back, and an unknown id looks the
// same as somebody else's message.
func (g *Gateway) DeleteMessage(_ context.Context, sess *Session, req protocol.DeleteMessageMsg) Ack {
	ack := Ack{RequestID: req.RequestID, Op: protocol.TypeDeleteMessage}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !sess.open() {
		ack.Err = errSessionClosed
		g.ackLocked(sess, ack)
		return ack
	}

	var err error
	switch req.Scope {
	case protocol.ScopeGroup:
		_, err = g.groups.Delete(req.MessageID, sess.Username)
	case protocol.ScopeDirect:
		_, err = g.directs.Delete(req.MessageID, sess.Username)
	default:
		ack.Err = newError(CodeValidation, "unknown scope "+req.Scope, nil)
		g.ackLocked(sess, ack)
		return ack
	}
	if err != nil {
		metrics.DeletionsTotal.WithLabelValues(req.Scope, "not_found").Inc()
		ack.Err = errMessageNotFound
		g.ackLocked(sess, ack)
		return ack
	}
	metrics.DeletionsTotal.WithLabelValues(req.Scope, "deleted").Inc()

	g.dispatch(broadcast.KindMessageDeleted, "", protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		MessageID: req.MessageID,
		Scope:     req.Scope,
	})
	g.ackLocked(sess, ack)
	return ack
}

// Reject acknowledges a request whose payload failed validation before it
// reached the gateway.
func (g *Gateway) Reject(sess *Session, op, requestID string, cause error) Ack {
	ack := Ack{
		RequestID: requestID,
		Op:        op,
		Err:       newError(CodeValidation, "malformed request", cause),
	}
	g.acknowledge(sess, ack)
	return ack
}

// admit runs the checks that need no shared state: session liveness, rate
// limit, body shape and content filter.
func (g *Gateway) admit(ctx context.Context, sess *Session, scope string, text *string, image string) (message.Body, *Error) {
	if !sess.open() {
		return nil, errSessionClosed
	}

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, sess.Username, ratelimit.RuleSend)
		if err != nil {
			g.log.Debug().Err(err).Str("user", sess.Username).Msg("rate limiter unavailable")
		}
		if !allowed {
			metrics.MessagesTotal.WithLabelValues(scope, "rate_limited").Inc()
			return nil, errRateLimited
		}
	}

	body, err := message.NewBody(text, image)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(scope, "rejected").Inc()
		return nil, newError(CodeValidation, "invalid message body", err)
	}

	if g.filter != nil && body.Kind() == message.KindText {
		if res := g.filter.Check(scope, body.Value()); res.Blocked {
			metrics.MessagesTotal.WithLabelValues(scope, "blocked").Inc()
			g.log.Info().Str("user", sess.Username).Str("reason", res.Reason).Str("term", res.Term).Msg("message blocked")
			detail := res.Detail
			if detail == "" {
				detail = "message blocked"
			}
			return nil, newError(CodeBlocked, detail, nil)
		}
	}
	return body, nil
}

func (g *Gateway) acknowledge(sess *Session, ack Ack) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ackLocked(sess, ack)
}

// ackLocked must be called with g.mu held.
func (g *Gateway) ackLocked(sess *Session, ack Ack) {
	msg := protocol.AckMsg{
		RequestID: ack.RequestID,
		Op:        ack.Op,
		Success:   ack.Success(),
	}
	if ack.Err != nil {
		msg.Error = &protocol.ErrorMsg{Code: string(ack.Err.Code), Message: ack.Err.Message}
	}
	if ack.Direct != nil {
		payload := protocol.DirectMessage(*ack.Direct)
		msg.Message = &payload
	}
	g.reply(sess, protocol.TypeAck, msg)
}
