package moderation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/huddle/chat-server/internal/broadcast"
	"github.com/huddle/chat-server/internal/protocol"
)

// Flag is produced by Audit for a mirrored message the filter objects to.
type Flag struct {
	MessageID string `json:"message_id"`
	Scope     string `json:"scope"`
	Author    string `json:"author"`
	Recipient string `json:"recipient,omitempty"`
	Reason    string `json:"reason"`
	Term      string `json:"term"`
	Ts        int64  `json:"ts"`
}

// Audit screens a mirrored event. It returns nil for events that carry no
// text and for text the filter accepts.
func (f *Filter) Audit(kind string, data []byte) (*Flag, error) {
	var (
		flag Flag
		text *string
	)

	switch broadcast.Kind(kind) {
	case broadcast.KindGroupMessageAdded:
		var ev protocol.GroupMessageAddedMsg
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("moderation: decode %s: %w", kind, err)
		}
		flag = Flag{MessageID: ev.Message.ID, Scope: protocol.ScopeGroup, Author: ev.Message.User}
		text = ev.Message.Text
	case broadcast.KindDirectMessageDelivered:
		var ev protocol.DirectMessageDeliveredMsg
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("moderation: decode %s: %w", kind, err)
		}
		flag = Flag{MessageID: ev.Message.ID, Scope: protocol.ScopeDirect, Author: ev.Message.From, Recipient: ev.Message.To}
		text = ev.Message.Text
	default:
		return nil, nil
	}

	if text == nil {
		return nil, nil
	}
	res := f.Check(flag.Scope, *text)
	if !res.Blocked {
		return nil, nil
	}
	flag.Reason = res.Reason
	flag.Term = res.Term
	flag.Ts = time.Now().Unix()
	return &flag, nil
}
