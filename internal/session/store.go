// Package session mirrors presence transitions into Redis so operators and
// other tools can see who is online without asking the chat server. The
// in-memory registry stays authoritative; this copy is best effort.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for per-user presence hashes.
	PresencePrefix = "presence:"

	// OnlineKey is the set of usernames currently online.
	OnlineKey = "presence:online"

	// PresenceTTL bounds how long a presence hash outlives its last update.
	PresenceTTL = 24 * time.Hour
)

// A presence hash holds username, online ("1" or "0"), session_id (empty
// when offline), last_session (the session an offline write ended), server,
// epoch (server start, unix millis), seq (join order within an epoch) and
// updated_at (unix seconds). Every write carries the (epoch, seq) of the
// session it describes and is ignored when the stored pair is newer. An
// offline write keeps its pair as a tombstone, so a delayed online write for
// the same session cannot bring it back.

// Store writes presence hashes to Redis.
type Store struct {
	client     *redis.Client
	serverName string
	epoch      int64

	onlineScript  *redis.Script
	offlineScript *redis.Script
}

// NewStore connects to Redis at redisAddr and verifies the connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{
		client:        client,
		serverName:    serverName,
		epoch:         time.Now().UnixMilli(),
		onlineScript:  redis.NewScript(markOnlineLua),
		offlineScript: redis.NewScript(markOfflineLua),
	}, nil
}

// MarkOnline records that username is bound to sessionID. seq is the join
// order assigned by the gateway; an update older than the stored one is
// ignored, so out-of-order writes from racing reconnects cannot regress the
// mirror.
func (s *Store) MarkOnline(ctx context.Context, username, sessionID string, seq int64) error {
	keys := []string{PresencePrefix + username, OnlineKey}
	err := s.onlineScript.Run(ctx, s.client, keys,
		username, sessionID, s.serverName, s.epoch, seq,
		time.Now().Unix(), int64(PresenceTTL/time.Second),
	).Err()
	if err != nil {
		return fmt.Errorf("session: mark online: %w", err)
	}
	return nil
}

// MarkOffline records that the session with the given join seq has ended.
// It is ignored if a later session is already recorded.
func (s *Store) MarkOffline(ctx context.Context, username, sessionID string, seq int64) error {
	_, err := s.markOffline(ctx, username, sessionID, seq)
	return err
}

// markOffline reports whether the hash was written.
func (s *Store) markOffline(ctx context.Context, username, sessionID string, seq int64) (bool, error) {
	keys := []string{PresencePrefix + username, OnlineKey}
	n, err := s.offlineScript.Run(ctx, s.client, keys,
		username, sessionID, s.serverName, s.epoch, seq,
		time.Now().Unix(), int64(PresenceTTL/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("session: mark offline: %w", err)
	}
	return n == 1, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

// markOnlineLua writes the presence hash unless a newer join is already
// recorded. Ordering is (epoch, seq).
//
//	KEYS[1] = presence hash, KEYS[2] = online set
//	ARGV = username, session_id, server, epoch, seq, now, ttl
const markOnlineLua = `
local cur_epoch = tonumber(redis.call('HGET', KEYS[1], 'epoch') or '0')
local cur_seq = tonumber(redis.call('HGET', KEYS[1], 'seq') or '0')
local epoch = tonumber(ARGV[4])
local seq = tonumber(ARGV[5])
if epoch < cur_epoch or (epoch == cur_epoch and seq <= cur_seq) then
  return 0
end
redis.call('HSET', KEYS[1],
  'username', ARGV[1], 'online', '1', 'session_id', ARGV[2],
  'server', ARGV[3], 'epoch', ARGV[4], 'seq', ARGV[5], 'updated_at', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`

// markOfflineLua writes an offline tombstone unless a newer session is
// recorded. An equal (epoch, seq) belongs to the same session and is
// overwritten.
//
//	KEYS[1] = presence hash, KEYS[2] = online set
//	ARGV = username, session_id, server, epoch, seq, now, ttl
const markOfflineLua = `
local cur_epoch = tonumber(redis.call('HGET', KEYS[1], 'epoch') or '0')
local cur_seq = tonumber(redis.call('HGET', KEYS[1], 'seq') or '0')
local epoch = tonumber(ARGV[4])
local seq = tonumber(ARGV[5])
if epoch < cur_epoch or (epoch == cur_epoch and seq < cur_seq) then
  return 0
end
if redis.call('HGET', KEYS[1], 'online') == '0' and epoch == cur_epoch and seq == cur_seq then
  return 0
end
redis.call('HSET', KEYS[1],
  'username', ARGV[1], 'online', '0', 'session_id', '', 'last_session', ARGV[2],
  'server', ARGV[3], 'epoch', ARGV[4], 'seq', ARGV[5], 'updated_at', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`
