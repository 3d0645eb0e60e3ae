package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (s *recordingSink) Send(data []byte) error {
	if s.fail {
		return errors.New("queue full")
	}
	s.mu.Lock()
	s.frames = append(s.frames, data)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type mapDirectory map[string]Sink

func (d mapDirectory) Recipients() []Sink {
	out := make([]Sink, 0, len(d))
	for _, s := range d {
		out = append(out, s)
	}
	return out
}

func (d mapDirectory) Recipient(username string) (Sink, bool) {
	s, ok := d[username]
	return s, ok
}

type recordingPublisher struct {
	kinds []string
	err   error
}

func (p *recordingPublisher) PublishEvent(kind string, _ []byte) error {
	p.kinds = append(p.kinds, kind)
	return p.err
}

func TestAudienceFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want Audience
	}{
		{KindPresenceChanged, Everyone},
		{KindGroupMessageAdded, Everyone},
		{KindMessageDeleted, Everyone},
		{KindDirectMessageDelivered, RecipientOnly},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			require.Equal(t, tt.want, AudienceFor(tt.kind))
		})
	}
}

func TestDispatchEveryone(t *testing.T) {
	alice, bob := &recordingSink{}, &recordingSink{}
	c := NewCoordinator(mapDirectory{"alice": alice, "bob": bob}, nil, zerolog.Nop())

	n := c.Dispatch(Event{Kind: KindGroupMessageAdded, Payload: []byte(`{}`)})
	require.Equal(t, 2, n)
	require.Equal(t, 1, alice.count())
	require.Equal(t, 1, bob.count())
}

func TestDispatchRecipientOnly(t *testing.T) {
	alice, bob := &recordingSink{}, &recordingSink{}
	c := NewCoordinator(mapDirectory{"alice": alice, "bob": bob}, nil, zerolog.Nop())

	n := c.Dispatch(Event{Kind: KindDirectMessageDelivered, Recipient: "bob", Payload: []byte(`{}`)})
	require.Equal(t, 1, n)
	require.Zero(t, alice.count())
	require.Equal(t, 1, bob.count())
}

func TestDispatchOfflineRecipient(t *testing.T) {
	alice := &recordingSink{}
	pub := &recordingPublisher{}
	c := NewCoordinator(mapDirectory{"alice": alice}, pub, zerolog.Nop())

	n := c.Dispatch(Event{Kind: KindDirectMessageDelivered, Recipient: "bob", Payload: []byte(`{}`)})
	require.Zero(t, n)
	require.Zero(t, alice.count())
	require.Equal(t, []string{"direct_message_delivered"}, pub.kinds)
}

func TestDispatchSinkFailureIsContained(t *testing.T) {
	good, bad := &recordingSink{}, &recordingSink{fail: true}
	c := NewCoordinator(mapDirectory{"good": good, "bad": bad}, nil, zerolog.Nop())

	n := c.Dispatch(Event{Kind: KindPresenceChanged, Payload: []byte(`{}`)})
	require.Equal(t, 1, n)
	require.Equal(t, 1, good.count())
}

func TestDispatchPublisherErrorIgnored(t *testing.T) {
	s := &recordingSink{}
	pub := &recordingPublisher{err: errors.New("nats down")}
	c := NewCoordinator(mapDirectory{"a": s}, pub, zerolog.Nop())

	require.Equal(t, 1, c.Dispatch(Event{Kind: KindMessageDeleted, Payload: []byte(`{}`)}))
	require.Equal(t, []string{"message_deleted"}, pub.kinds)
}

func TestReplyIsNotMirrored(t *testing.T) {
	s := &recordingSink{}
	pub := &recordingPublisher{}
	c := NewCoordinator(mapDirectory{}, pub, zerolog.Nop())

	require.True(t, c.Reply(s, "ack", []byte(`{}`)))
	require.Equal(t, 1, s.count())
	require.Empty(t, pub.kinds)

	require.False(t, c.Reply(&recordingSink{fail: true}, "ack", []byte(`{}`)))
}
