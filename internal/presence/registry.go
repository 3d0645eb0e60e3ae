// Package presence holds the authoritative in-memory view of who is online.
// A Record exists per username for the lifetime of the process; only the
// session gateway sets or clears the session reference on it.
package presence

import "sync"

// SessionRef identifies the transport session currently bound to a user.
// The empty ref means "no session".
type SessionRef string

// Record is a point-in-time copy of one user's presence state.
type Record struct {
	Username     string
	Online       bool
	Session      SessionRef
	ProfileImage string // empty when the user never uploaded one
}

// Valid reports whether the record satisfies online <=> session present.
func (r Record) Valid() bool {
	return r.Online == (r.Session != "")
}

// Registry maps usernames to presence records. All methods are safe for
// concurrent use; List returns records in first-seen order.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// lookupOrCreate must be called with mu held for writing.
func (r *Registry) lookupOrCreate(username string) (*Record, bool) {
	rec, ok := r.records[username]
	if ok {
		return rec, false
	}
	rec = &Record{Username: username}
	r.records[username] = rec
	r.order = append(r.order, username)
	return rec, true
}

// Ensure creates an offline record for username if none exists. It returns
// true when a record was created.
func (r *Registry) Ensure(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, created := r.lookupOrCreate(username)
	return created
}

// Upsert marks username online with the given session, creating the record
// if needed. The last call wins. It returns the session that was current
// before the call, or "" if the user was offline.
func (r *Registry) Upsert(username string, ref SessionRef) SessionRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, _ := r.lookupOrCreate(username)
	prev := rec.Session
	rec.Online = true
	rec.Session = ref
	return prev
}

// Clear marks username offline only if ref is still its current session.
// A stale ref (from a connection superseded by a reconnect) is a no-op.
// It returns true when the record changed.
func (r *Registry) Clear(username string, ref SessionRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[username]
	if !ok || ref == "" || rec.Session != ref {
		return false
	}
	rec.Online = false
	rec.Session = ""
	return true
}

// Get returns a copy of the record for username.
func (r *Registry) Get(username string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[username]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns a snapshot of every record in first-seen order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.records[name])
	}
	return out
}

// SetProfileImage records the profile image reference for username,
// creating the record if needed.
func (r *Registry) SetProfileImage(username, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, _ := r.lookupOrCreate(username)
	rec.ProfileImage = ref
}

// OnlineCount returns the number of users currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if rec.Online {
			n++
		}
	}
	return n
}
