package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireAllValid(t *testing.T, r *Registry) {
	t.Helper()
	for _, rec := range r.List() {
		require.Truef(t, rec.Valid(), "inconsistent record %+v", rec)
	}
}

func TestUpsertCreatesOnlineRecord(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	prev := r.Upsert("alice", "s1")
	req.Equal(SessionRef(""), prev)

	rec, ok := r.Get("alice")
	req.True(ok)
	req.True(rec.Online)
	req.Equal(SessionRef("s1"), rec.Session)
	requireAllValid(t, r)
}

func TestUpsertLastWriterWins(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Upsert("alice", "s1")
	prev := r.Upsert("alice", "s2")
	req.Equal(SessionRef("s1"), prev)

	rec, _ := r.Get("alice")
	req.Equal(SessionRef("s2"), rec.Session)
	req.Len(r.List(), 1)
}

func TestClearMatchingSession(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Upsert("alice", "s1")
	req.True(r.Clear("alice", "s1"))

	rec, _ := r.Get("alice")
	req.False(rec.Online)
	req.Equal(SessionRef(""), rec.Session)
	requireAllValid(t, r)
}

func TestClearStaleSessionIsNoop(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	// A connects, B reconnects, A's disconnect arrives late.
	r.Upsert("alice", "A")
	r.Upsert("alice", "B")
	req.False(r.Clear("alice", "A"))

	rec, _ := r.Get("alice")
	req.True(rec.Online)
	req.Equal(SessionRef("B"), rec.Session)
}

func TestClearUnknownUser(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Clear("ghost", "s1"))
	_, ok := r.Get("ghost")
	require.False(t, ok)
}

func TestClearEmptyRefNeverMatchesOfflineRecord(t *testing.T) {
	r := NewRegistry()
	r.Ensure("alice")
	require.False(t, r.Clear("alice", ""))
}

func TestEnsureAndProfileImage(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	req.True(r.Ensure("bob"))
	req.False(r.Ensure("bob"))

	r.SetProfileImage("carol", "/uploads/c.png")
	rec, ok := r.Get("carol")
	req.True(ok)
	req.False(rec.Online)
	req.Equal("/uploads/c.png", rec.ProfileImage)

	r.Upsert("carol", "s9")
	rec, _ = r.Get("carol")
	req.Equal("/uploads/c.png", rec.ProfileImage)
}

func TestListIsOrderedSnapshot(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Ensure("bob")
	r.Upsert("alice", "s1")
	r.SetProfileImage("carol", "x")

	list := r.List()
	req.Equal([]string{"bob", "alice", "carol"}, []string{list[0].Username, list[1].Username, list[2].Username})

	// Mutating the snapshot does not leak into the registry.
	list[0].Online = true
	rec, _ := r.Get("bob")
	req.False(rec.Online)
	req.Equal(list[1:], r.List()[1:])
}

func TestCaseSensitiveUsernames(t *testing.T) {
	r := NewRegistry()
	r.Upsert("Alice", "s1")
	_, ok := r.Get("alice")
	require.False(t, ok)
}

// The final online flag is true iff the most recent terminal event for the
// current session was a connect.
func TestPresenceConsistencyRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		r := NewRegistry()
		var live []SessionRef
		current := SessionRef("")
		next := 0

		for step := 0; step < 30; step++ {
			if len(live) == 0 || rng.Intn(2) == 0 {
				next++
				ref := SessionRef(fmt.Sprintf("s%d", next))
				r.Upsert("alice", ref)
				live = append(live, ref)
				current = ref
				continue
			}
			i := rng.Intn(len(live))
			ref := live[i]
			live = append(live[:i], live[i+1:]...)
			if r.Clear("alice", ref) {
				require.Equal(t, current, ref)
				current = ""
			}
		}

		rec, _ := r.Get("alice")
		require.Equal(t, current != "", rec.Online, "round %d", round)
		require.Equal(t, current, rec.Session)
		require.True(t, rec.Valid())
	}
}

func TestConcurrentUpsertClear(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", id%5)
			ref := SessionRef(fmt.Sprintf("s-%d", id))
			r.Upsert(user, ref)
			_ = r.List()
			r.Clear(user, ref)
		}(g)
	}
	wg.Wait()

	require.Len(t, r.List(), 5)
	requireAllValid(t, r)
}
