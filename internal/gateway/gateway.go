// Package gateway binds verified identities to live sessions and applies
// their requests to the presence registry and the message stores. Every
// mutation and the fan-out it triggers run under a single gateway lock, so
// each session observes events in commit order.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/broadcast"
	"github.com/huddle/chat-server/internal/message"
	"github.com/huddle/chat-server/internal/metrics"
	"github.com/huddle/chat-server/internal/moderation"
	"github.com/huddle/chat-server/internal/presence"
	"github.com/huddle/chat-server/internal/protocol"
	"github.com/huddle/chat-server/internal/ratelimit"
)

// PresenceMirror copies presence transitions to an external store for
// operators. Its failures never affect the in-memory registry. Writes are
// made outside the gateway lock and may arrive out of order; seq is the
// session's join order and lets the mirror discard stale writes.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, username, sessionID string, seq int64) error
	MarkOffline(ctx context.Context, username, sessionID string, seq int64) error
}

// Limiter throttles per-user actions.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// ContentFilter screens message text before it is stored. scope is
// protocol.ScopeGroup or protocol.ScopeDirect.
type ContentFilter interface {
	Check(scope, text string) moderation.FilterResult
}

// Options configures a Gateway. Verifier is required; nil stores and
// registry are replaced with empty in-memory ones, and nil side channels
// are disabled.
type Options struct {
	Verifier  Verifier
	Registry  *presence.Registry
	Groups    *message.GroupStore
	Directs   *message.DirectStore
	Publisher broadcast.Publisher
	Mirror    PresenceMirror
	Limiter   Limiter
	Filter    ContentFilter
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Gateway is the session coordinator.
type Gateway struct {
	verifier Verifier
	registry *presence.Registry
	groups   *message.GroupStore
	directs  *message.DirectStore
	mirror   PresenceMirror
	limiter  Limiter
	filter   ContentFilter
	coord    *broadcast.Coordinator
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // username -> current session
	seq      int64
}

// New creates a Gateway from opts.
func New(opts Options) *Gateway {
	g := &Gateway{
		verifier: opts.Verifier,
		registry: opts.Registry,
		groups:   opts.Groups,
		directs:  opts.Directs,
		mirror:   opts.Mirror,
		limiter:  opts.Limiter,
		filter:   opts.Filter,
		now:      opts.Now,
		log:      opts.Logger.With().Str("component", "gateway").Logger(),
		sessions: make(map[string]*Session),
	}
	if g.registry == nil {
		g.registry = presence.NewRegistry()
	}
	if g.groups == nil {
		g.groups = message.NewGroupStore()
	}
	if g.directs == nil {
		g.directs = message.NewDirectStore()
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	g.coord = broadcast.NewCoordinator(liveSessions{g}, opts.Publisher, opts.Logger)
	return g
}

// liveSessions exposes the current sessions to the coordinator. Its methods
// are only called from dispatches made with g.mu held.
type liveSessions struct{ g *Gateway }

func (l liveSessions) Recipients() []broadcast.Sink {
	out := make([]broadcast.Sink, 0, len(l.g.sessions))
	for _, s := range l.g.sessions {
		out = append(out, s.sink)
	}
	return out
}

func (l liveSessions) Recipient(username string) (broadcast.Sink, bool) {
	s, ok := l.g.sessions[username]
	if !ok {
		return nil, false
	}
	return s.sink, true
}

// Authenticate verifies token. On failure it returns a CodeAuth error and
// leaves all state untouched.
func (g *Gateway) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, newError(CodeAuth, "missing token", nil)
	}
	username, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, newError(CodeAuth, "invalid token", err)
	}
	if username == "" {
		return Identity{}, newError(CodeAuth, "token names no user", nil)
	}
	return Identity{username: username}, nil
}

// Connect authenticates token and joins a session delivering to sink.
func (g *Gateway) Connect(ctx context.Context, token string, sink broadcast.Sink) (*Session, error) {
	id, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.Join(id, sink), nil
}

// Join registers a new current session for id. The session first receives
// the group snapshot and, when it has any, its direct-message snapshot;
// then every session receives the updated presence list. A session this one
// supersedes is closed.
func (g *Gateway) Join(id Identity, sink broadcast.Sink) *Session {
	sess := &Session{
		ID:          presence.SessionRef(uuid.NewString()),
		Username:    id.username,
		ConnectedAt: g.now(),
		sink:        sink,
	}

	g.mu.Lock()
	sess.setState(StateAuthenticated)
	g.registry.Upsert(sess.Username, sess.ID)
	prev := g.sessions[sess.Username]
	g.sessions[sess.Username] = sess
	g.seq++
	sess.seq = g.seq

	g.reply(sess, protocol.TypeInitialMessages, protocol.InitialMessagesMsg{
		Messages: protocol.GroupMessages(g.groups.Snapshot()),
	})
	if direct := g.directs.SnapshotFor(sess.Username); len(direct) > 0 {
		g.reply(sess, protocol.TypeInitialDirectMessages, protocol.InitialDirectMessagesMsg{
			Messages: protocol.DirectMessages(direct),
		})
	}
	g.broadcastPresence()

	if prev != nil {
		prev.setState(StateClosed)
		g.reply(prev, protocol.TypeSessionReplaced, protocol.SessionReplacedMsg{})
	}
	g.mu.Unlock()

	if prev != nil {
		_ = prev.sink.Close()
		g.log.Info().Str("user", sess.Username).Str("session", string(prev.ID)).Msg("session superseded")
	}
	g.mirrorOnline(sess)

	g.log.Info().Str("user", sess.Username).Str("session", string(sess.ID)).Msg("session joined")
	return sess
}

// Leave closes sess. Presence is cleared, and broadcast, only when sess is
// still the user's current session. Calling Leave more than once is safe.
func (g *Gateway) Leave(sess *Session) bool {
	g.mu.Lock()
	sess.setState(StateClosed)
	if g.sessions[sess.Username] == sess {
		delete(g.sessions, sess.Username)
	}
	changed := g.registry.Clear(sess.Username, sess.ID)
	if changed {
		g.broadcastPresence()
	}
	g.mu.Unlock()

	if changed {
		g.mirrorOffline(sess)
		g.log.Info().Str("user", sess.Username).Str("session", string(sess.ID)).Msg("session left")
	}
	return changed
}

// SetProfileImage records a new profile image for username and re-broadcasts
// presence.
func (g *Gateway) SetProfileImage(username, ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.registry.SetProfileImage(username, ref)
	g.broadcastPresence()
}

// EnsureUser creates an offline presence record for a registered user who
// has not connected yet. Connected sessions are told about the new user.
func (g *Gateway) EnsureUser(username, profileImage string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := g.registry.Ensure(username)
	if profileImage != "" {
		if rec, _ := g.registry.Get(username); rec.ProfileImage != profileImage {
			g.registry.SetProfileImage(username, profileImage)
			changed = true
		}
	}
	if changed {
		g.broadcastPresence()
	}
}

// Users returns a presence snapshot.
func (g *Gateway) Users() []presence.Record {
	return g.registry.List()
}

// Online reports whether username has a current session.
func (g *Gateway) Online(username string) bool {
	rec, ok := g.registry.Get(username)
	return ok && rec.Online
}

// broadcastPresence must be called with g.mu held.
func (g *Gateway) broadcastPresence() {
	metrics.OnlineUsers.Set(float64(g.registry.OnlineCount()))
	g.dispatch(broadcast.KindPresenceChanged, "", protocol.TypePresenceList, protocol.PresenceListMsg{
		Users: protocol.Users(g.registry.List()),
	})
}

// dispatch must be called with g.mu held.
func (g *Gateway) dispatch(kind broadcast.Kind, recipient, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		g.log.Error().Err(err).Str("type", msgType).Msg("encode event")
		return
	}
	g.coord.Dispatch(broadcast.Event{Kind: kind, Recipient: recipient, Payload: data})
}

// reply must be called with g.mu held.
func (g *Gateway) reply(sess *Session, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		g.log.Error().Err(err).Str("type", msgType).Msg("encode reply")
		return
	}
	g.coord.Reply(sess.sink, msgType, data)
}

func (g *Gateway) mirrorOnline(sess *Session) {
	if g.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.mirror.MarkOnline(ctx, sess.Username, string(sess.ID), sess.seq); err != nil {
		g.log.Warn().Err(err).Str("user", sess.Username).Msg("presence mirror online failed")
	}
}

func (g *Gateway) mirrorOffline(sess *Session) {
	if g.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.mirror.MarkOffline(ctx, sess.Username, string(sess.ID), sess.seq); err != nil {
		g.log.Warn().Err(err).Str("user", sess.Username).Msg("presence mirror offline failed")
	}
}
