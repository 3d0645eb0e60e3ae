package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huddle/chat-server/internal/protocol"
)

func TestAudit_FlagsGroupText(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})
	text := "a badword"
	data, err := protocol.NewServerMessage(protocol.TypeGroupMessageAdded, protocol.GroupMessageAddedMsg{
		Message: protocol.GroupMessagePayload{ID: "m1", User: "alice", Kind: "text", Text: &text},
	})
	require.NoError(t, err)

	flag, err := f.Audit("group_message_added", data)
	require.NoError(t, err)
	require.NotNil(t, flag)
	require.Equal(t, "m1", flag.MessageID)
	require.Equal(t, protocol.ScopeGroup, flag.Scope)
	require.Equal(t, "alice", flag.Author)
	require.Equal(t, ReasonKeyword, flag.Reason)
	require.Equal(t, "badword", flag.Term)
}

func TestAudit_FlagsDirectText(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})
	text := "psst b@dw0rd"
	data, err := protocol.NewServerMessage(protocol.TypeDirectMessageDelivered, protocol.DirectMessageDeliveredMsg{
		Message: protocol.DirectMessagePayload{ID: "m2", From: "alice", To: "bob", Kind: "text", Text: &text},
	})
	require.NoError(t, err)

	flag, err := f.Audit("direct_message_delivered", data)
	require.NoError(t, err)
	require.NotNil(t, flag)
	require.Equal(t, protocol.ScopeDirect, flag.Scope)
	require.Equal(t, "bob", flag.Recipient)
	require.Equal(t, ReasonKeyword, flag.Reason)
}

func TestAudit_UsesEventScope(t *testing.T) {
	f := NewFilterWithTerms(nil)
	text := "a.com b.com c.com d.com"

	group, err := protocol.NewServerMessage(protocol.TypeGroupMessageAdded, protocol.GroupMessageAddedMsg{
		Message: protocol.GroupMessagePayload{ID: "m3", User: "alice", Kind: "text", Text: &text},
	})
	require.NoError(t, err)
	flag, err := f.Audit("group_message_added", group)
	require.NoError(t, err)
	require.NotNil(t, flag)
	require.Equal(t, ReasonSpam, flag.Reason)
	require.Equal(t, "link_flood", flag.Term)

	direct, err := protocol.NewServerMessage(protocol.TypeDirectMessageDelivered, protocol.DirectMessageDeliveredMsg{
		Message: protocol.DirectMessagePayload{ID: "m4", From: "alice", To: "bob", Kind: "text", Text: &text},
	})
	require.NoError(t, err)
	flag, err = f.Audit("direct_message_delivered", direct)
	require.NoError(t, err)
	require.Nil(t, flag)
}

func TestAudit_IgnoresCleanImagesAndOtherKinds(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	clean := "hello"
	data, _ := protocol.NewServerMessage(protocol.TypeGroupMessageAdded, protocol.GroupMessageAddedMsg{
		Message: protocol.GroupMessagePayload{ID: "m1", User: "alice", Kind: "text", Text: &clean},
	})
	flag, err := f.Audit("group_message_added", data)
	require.NoError(t, err)
	require.Nil(t, flag)

	data, _ = protocol.NewServerMessage(protocol.TypeGroupMessageAdded, protocol.GroupMessageAddedMsg{
		Message: protocol.GroupMessagePayload{ID: "m2", User: "alice", Kind: "image", Image: "/uploads/badword.png"},
	})
	flag, err = f.Audit("group_message_added", data)
	require.NoError(t, err)
	require.Nil(t, flag)

	flag, err = f.Audit("presence_changed", []byte(`{"type":"presence_list","users":[]}`))
	require.NoError(t, err)
	require.Nil(t, flag)
}

func TestAudit_Malformed(t *testing.T) {
	_, err := NewFilter().Audit("group_message_added", []byte(`{not json`))
	require.Error(t, err)
}
