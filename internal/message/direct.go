package message

import (
	"sync"
	"time"
)

// Direct is a message between exactly one sender and one recipient.
type Direct struct {
	ID        string
	From      string
	To        string
	Body      Body
	CreatedAt time.Time
}

// DirectStore keeps, per username, the ordered sequence of direct messages
// that user sent or received. Each message is also indexed by ID so that
// deletion touches only the two affected sequences.
type DirectStore struct {
	mu   sync.RWMutex
	logs map[string][]Direct
	byID map[string]Direct
	opts options
}

// NewDirectStore creates an empty DirectStore.
func NewDirectStore(opts ...Option) *DirectStore {
	return &DirectStore{
		logs: make(map[string][]Direct),
		byID: make(map[string]Direct),
		opts: buildOptions(opts),
	}
}

// Append stores m in both the sender's and the recipient's sequence as one
// write. A message to oneself is stored once.
func (s *DirectStore) Append(m Direct) Direct {
	if m.ID == "" {
		m.ID = s.opts.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.opts.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[m.ID] = m
	s.logs[m.From] = append(s.logs[m.From], m)
	if m.To != m.From {
		s.logs[m.To] = append(s.logs[m.To], m)
	}
	return m
}

// Delete removes the message with the given id from both participants'
// sequences if requester is its sender.
func (s *DirectStore) Delete(id, requester string) (Direct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.From != requester {
		return Direct{}, ErrNotFound
	}

	delete(s.byID, id)
	s.logs[m.From] = without(s.logs[m.From], id)
	if m.To != m.From {
		s.logs[m.To] = without(s.logs[m.To], id)
	}
	return m, nil
}

// SnapshotFor returns a copy of the direct messages username sent or
// received, in insertion order.
func (s *DirectStore) SnapshotFor(username string) []Direct {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.logs[username]
	out := make([]Direct, len(seq))
	copy(out, seq)
	return out
}

func without(seq []Direct, id string) []Direct {
	out := seq[:0]
	for _, m := range seq {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
