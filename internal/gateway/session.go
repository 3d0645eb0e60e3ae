package gateway

import (
	"sync/atomic"
	"time"

	"github.com/huddle/chat-server/internal/broadcast"
	"github.com/huddle/chat-server/internal/presence"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity is a verified username. The zero value is not a valid identity;
// one is only produced by Gateway.Authenticate.
type Identity struct {
	username string
}

// Username returns the verified username.
func (i Identity) Username() string { return i.username }

// Session binds a verified identity to one transport connection.
type Session struct {
	ID          presence.SessionRef
	Username    string
	ConnectedAt time.Time

	sink  broadcast.Sink
	state atomic.Int32
	seq   int64 // join order, set once under the gateway lock
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) open() bool { return s.State() == StateAuthenticated }
