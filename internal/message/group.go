package message

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Delete when the message does not exist or the
// requester is not allowed to delete it. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("message: not found or unauthorized")

// Group is a message in the shared room.
type Group struct {
	ID        string
	Author    string
	Body      Body
	CreatedAt time.Time
}

// GroupStore is the ordered log of group messages.
type GroupStore struct {
	mu   sync.RWMutex
	log  []Group
	opts options
}

// NewGroupStore creates an empty GroupStore.
func NewGroupStore(opts ...Option) *GroupStore {
	return &GroupStore{opts: buildOptions(opts)}
}

// Append adds m to the end of the log, assigning an ID and timestamp when
// they are unset, and returns the stored message.
func (s *GroupStore) Append(m Group) Group {
	if m.ID == "" {
		m.ID = s.opts.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.opts.now()
	}

	s.mu.Lock()
	s.log = append(s.log, m)
	s.mu.Unlock()
	return m
}

// Delete removes the message with the given id if requester is its author.
func (s *GroupStore) Delete(id, requester string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.log {
		if m.ID != id {
			continue
		}
		if m.Author != requester {
			return Group{}, ErrNotFound
		}
		s.log = append(s.log[:i], s.log[i+1:]...)
		return m, nil
	}
	return Group{}, ErrNotFound
}

// Snapshot returns a copy of the log in insertion order.
func (s *GroupStore) Snapshot() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Group, len(s.log))
	copy(out, s.log)
	return out
}
