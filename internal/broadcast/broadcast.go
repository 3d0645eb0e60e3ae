// Package broadcast decides which sessions receive each outbound event and
// hands the encoded frame to their sinks. It holds no state of its own: the
// set of live sessions is read from a Directory on every dispatch.
package broadcast

import (
	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/metrics"
)

// Kind identifies a fan-out event.
type Kind string

const (
	KindPresenceChanged        Kind = "presence_changed"
	KindGroupMessageAdded      Kind = "group_message_added"
	KindMessageDeleted         Kind = "message_deleted"
	KindDirectMessageDelivered Kind = "direct_message_delivered"
)

// Audience is the recipient policy for an event kind.
type Audience int

const (
	// Everyone targets every currently connected session.
	Everyone Audience = iota
	// RecipientOnly targets the named recipient's session, if it has one.
	RecipientOnly
)

func (a Audience) String() string {
	switch a {
	case Everyone:
		return "everyone"
	case RecipientOnly:
		return "recipient_only"
	default:
		return "unknown"
	}
}

// AudienceFor returns the recipient policy for kind. Deletion notices go to
// everyone regardless of scope, since any session may have rendered the
// message.
func AudienceFor(kind Kind) Audience {
	if kind == KindDirectMessageDelivered {
		return RecipientOnly
	}
	return Everyone
}

// Sink accepts encoded frames for one session. Send must not block on the
// network; implementations queue the frame or fail.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Directory is the view of live sessions the coordinator dispatches over.
type Directory interface {
	// Recipients returns the sink of every current session.
	Recipients() []Sink
	// Recipient returns the current session sink for username.
	Recipient(username string) (Sink, bool)
}

// Publisher mirrors dispatched events to external observers. It is never
// part of delivery.
type Publisher interface {
	PublishEvent(kind string, data []byte) error
}

// Event is one fan-out unit. Recipient is only consulted for RecipientOnly
// kinds.
type Event struct {
	Kind      Kind
	Recipient string
	Payload   []byte
}

// Coordinator fans events out to sessions.
type Coordinator struct {
	dir Directory
	pub Publisher
	log zerolog.Logger
}

// NewCoordinator creates a Coordinator reading sessions from dir. pub may be
// nil to disable mirroring.
func NewCoordinator(dir Directory, pub Publisher, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		dir: dir,
		pub: pub,
		log: log.With().Str("component", "broadcast").Logger(),
	}
}

// Dispatch delivers ev according to AudienceFor(ev.Kind) and returns the
// number of sinks that accepted it. Per-sink failures are logged and counted
// but never returned.
func (c *Coordinator) Dispatch(ev Event) int {
	var targets []Sink
	switch AudienceFor(ev.Kind) {
	case RecipientOnly:
		if sink, ok := c.dir.Recipient(ev.Recipient); ok {
			targets = []Sink{sink}
		}
	default:
		targets = c.dir.Recipients()
	}

	delivered := 0
	for _, sink := range targets {
		if c.deliver(sink, string(ev.Kind), ev.Payload) {
			delivered++
		}
	}

	if c.pub != nil {
		if err := c.pub.PublishEvent(string(ev.Kind), ev.Payload); err != nil {
			c.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("event mirror publish failed")
		}
	}
	return delivered
}

// Reply sends a request-scoped frame (acknowledgment, snapshot, notice) to a
// single session. It is not mirrored.
func (c *Coordinator) Reply(sink Sink, kind string, payload []byte) bool {
	return c.deliver(sink, kind, payload)
}

func (c *Coordinator) deliver(sink Sink, kind string, payload []byte) bool {
	if err := sink.Send(payload); err != nil {
		metrics.FramesDropped.WithLabelValues(kind).Inc()
		c.log.Debug().Err(err).Str("kind", kind).Msg("frame dropped")
		return false
	}
	metrics.FramesDelivered.WithLabelValues(kind).Inc()
	return true
}
