package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, server string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewStore(mr.Addr(), server)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func field(mr *miniredis.Miniredis, user, name string) string {
	return mr.HGet(PresencePrefix+user, name)
}

func online(t *testing.T, mr *miniredis.Miniredis, user string) bool {
	t.Helper()
	hash := field(mr, user, "online") == "1"
	member, _ := mr.SIsMember(OnlineKey, user)
	require.Equal(t, hash, member, "hash and online set disagree for %s", user)
	return hash
}

func TestMarkOnlineWritesHash(t *testing.T) {
	s, mr := newTestStore(t, "node-1")

	require.NoError(t, s.MarkOnline(context.Background(), "alice", "sess-1", 1))

	require.True(t, online(t, mr, "alice"))
	require.Equal(t, "alice", field(mr, "alice", "username"))
	require.Equal(t, "sess-1", field(mr, "alice", "session_id"))
	require.Equal(t, "node-1", field(mr, "alice", "server"))
	require.Equal(t, "1", field(mr, "alice", "seq"))
}

func TestMarkOnlineIgnoresStaleSeq(t *testing.T) {
	s, mr := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, s.MarkOnline(ctx, "alice", "newer", 5))
	require.NoError(t, s.MarkOnline(ctx, "alice", "older", 4))

	require.Equal(t, "newer", field(mr, "alice", "session_id"))
	require.Equal(t, "5", field(mr, "alice", "seq"))
}

func TestMarkOfflineIgnoresSupersededSession(t *testing.T) {
	s, mr := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, s.MarkOnline(ctx, "alice", "sess-1", 1))
	require.NoError(t, s.MarkOnline(ctx, "alice", "sess-2", 2))

	changed, err := s.markOffline(ctx, "alice", "sess-1", 1)
	require.NoError(t, err)
	require.False(t, changed, "superseded session must not clear presence")
	require.True(t, online(t, mr, "alice"))

	changed, err = s.markOffline(ctx, "alice", "sess-2", 2)
	require.NoError(t, err)
	require.True(t, changed)
	require.False(t, online(t, mr, "alice"))
	require.Empty(t, field(mr, "alice", "session_id"))
	require.Equal(t, "sess-2", field(mr, "alice", "last_session"))
}

func TestLateOnlineAfterOfflineStaysOffline(t *testing.T) {
	s, mr := newTestStore(t, "node-1")
	ctx := context.Background()

	// The offline write for join 3 lands before that join's online write.
	require.NoError(t, s.MarkOffline(ctx, "alice", "sess-3", 3))
	require.NoError(t, s.MarkOnline(ctx, "alice", "sess-3", 3))

	require.False(t, online(t, mr, "alice"))
	require.Equal(t, "3", field(mr, "alice", "seq"))

	// A later join still goes through.
	require.NoError(t, s.MarkOnline(ctx, "alice", "sess-4", 4))
	require.True(t, online(t, mr, "alice"))
	require.Equal(t, "sess-4", field(mr, "alice", "session_id"))
}

func TestMarkOfflineTwiceIsNoop(t *testing.T) {
	s, _ := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, s.MarkOnline(ctx, "bob", "sess-1", 1))
	require.NoError(t, s.MarkOffline(ctx, "bob", "sess-1", 1))

	changed, err := s.markOffline(ctx, "bob", "sess-1", 1)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestNewerEpochWins(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	old, err := NewStore(mr.Addr(), "node-1")
	require.NoError(t, err)
	defer old.Close()
	restarted, err := NewStore(mr.Addr(), "node-1")
	require.NoError(t, err)
	defer restarted.Close()
	restarted.epoch = old.epoch + 1

	require.NoError(t, restarted.MarkOnline(ctx, "carol", "fresh", 1))
	// A write from before the restart carries a higher seq but an older epoch.
	require.NoError(t, old.MarkOffline(ctx, "carol", "stale", 9))

	require.True(t, online(t, mr, "carol"))
	require.Equal(t, "fresh", field(mr, "carol", "session_id"))
}

func TestPresenceKeyHasTTL(t *testing.T) {
	s, mr := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, s.MarkOnline(ctx, "carol", "sess-1", 1))
	require.Equal(t, PresenceTTL, mr.TTL(PresencePrefix+"carol"))

	mr.SetTTL(PresencePrefix+"carol", 0)
	require.NoError(t, s.MarkOffline(ctx, "carol", "sess-1", 1))
	require.Equal(t, PresenceTTL, mr.TTL(PresencePrefix+"carol"))
}

func TestNewStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewStore(addr, "node-1")
	require.Error(t, err)
}
