package message

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%03d", n)
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return at }
}

func strPtr(s string) *string { return &s }

func TestNewBody(t *testing.T) {
	tests := []struct {
		name    string
		text    *string
		image   string
		kind    Kind
		value   string
		wantErr bool
	}{
		{"text", strPtr("hi"), "", KindText, "hi", false},
		{"empty text tolerated", strPtr(""), "", KindText, "", false},
		{"image wins over text", strPtr("caption"), "/uploads/a.png", KindImage, "/uploads/a.png", false},
		{"image only", nil, "/uploads/a.png", KindImage, "/uploads/a.png", false},
		{"absent body", nil, "", "", "", true},
		{"oversized text", strPtr(strings.Repeat("a", MaxMessageBytes+1)), "", "", "", true},
		{"invalid utf8", strPtr("\xff\xfe"), "", "", "", true},
		{"oversized image ref", nil, strings.Repeat("x", MaxImageRef+1), "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := NewBody(tt.text, tt.image)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, body.Kind())
			require.Equal(t, tt.value, body.Value())
		})
	}
}

func TestValidateTextCharacterLimit(t *testing.T) {
	// 2001 ASCII characters stay under the byte limit but exceed the character limit.
	require.Error(t, ValidateText(strings.Repeat("a", MaxTextChars+1)))
	require.NoError(t, ValidateText(strings.Repeat("é", 1000)))
}

func TestNewIDIsMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 1000; i++ {
		next := NewID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestGroupAppendAssignsIDAndTimestamp(t *testing.T) {
	req := require.New(t)
	s := NewGroupStore(WithIDs(seqIDs()), WithClock(fixedClock()))

	m := s.Append(Group{Author: "alice", Body: Text("hi")})
	req.Equal("m001", m.ID)
	req.Equal(fixedClock()(), m.CreatedAt)

	kept := s.Append(Group{ID: "custom", Author: "bob", Body: Text("yo")})
	req.Equal("custom", kept.ID)
	req.Equal([]Group{m, kept}, s.Snapshot())
}

func TestGroupDeleteAuthorization(t *testing.T) {
	req := require.New(t)
	s := NewGroupStore(WithIDs(seqIDs()))

	m := s.Append(Group{Author: "bob", Body: Text("mine")})

	_, err := s.Delete(m.ID, "alice")
	req.ErrorIs(err, ErrNotFound)
	req.Equal(1, s.Len())

	_, err = s.Delete("nope", "bob")
	req.ErrorIs(err, ErrNotFound)

	deleted, err := s.Delete(m.ID, "bob")
	req.NoError(err)
	req.Equal(m.ID, deleted.ID)
	req.Equal(0, s.Len())

	_, err = s.Delete(m.ID, "bob")
	req.ErrorIs(err, ErrNotFound)
}

func TestGroupDeleteKeepsOrder(t *testing.T) {
	s := NewGroupStore(WithIDs(seqIDs()))
	a := s.Append(Group{Author: "a", Body: Text("1")})
	b := s.Append(Group{Author: "b", Body: Text("2")})
	c := s.Append(Group{Author: "c", Body: Text("3")})

	_, err := s.Delete(b.ID, "b")
	require.NoError(t, err)
	require.Equal(t, []Group{a, c}, s.Snapshot())
}

func TestGroupSnapshotIdempotent(t *testing.T) {
	s := NewGroupStore()
	s.Append(Group{Author: "a", Body: Text("1")})
	s.Append(Group{Author: "b", Body: Image("/uploads/x.gif")})

	first := s.Snapshot()
	second := s.Snapshot()
	require.Equal(t, first, second)

	first[0].Author = "mallory"
	require.Equal(t, "a", s.Snapshot()[0].Author)
}

func TestDirectAppendDualDelivery(t *testing.T) {
	req := require.New(t)
	s := NewDirectStore(WithIDs(seqIDs()))

	m := s.Append(Direct{From: "alice", To: "bob", Body: Text("psst")})
	s.Append(Direct{From: "carol", To: "dave", Body: Text("other")})

	req.ElementsMatch([]string{"alice", "bob"}, s.Holders(m.ID))
	req.Equal([]Direct{m}, s.SnapshotFor("alice"))
	req.Equal([]Direct{m}, s.SnapshotFor("bob"))
	req.NotEqual(m.ID, s.SnapshotFor("carol")[0].ID)
}

func TestDirectDeleteRemovesBothCopies(t *testing.T) {
	req := require.New(t)
	s := NewDirectStore(WithIDs(seqIDs()))

	m := s.Append(Direct{From: "alice", To: "bob", Body: Text("psst")})
	keep := s.Append(Direct{From: "bob", To: "alice", Body: Text("reply")})

	_, err := s.Delete(m.ID, "bob")
	req.ErrorIs(err, ErrNotFound, "recipient may not delete")
	req.ElementsMatch([]string{"alice", "bob"}, s.Holders(m.ID))

	_, err = s.Delete(m.ID, "alice")
	req.NoError(err)
	req.Empty(s.Holders(m.ID))
	req.Equal([]Direct{keep}, s.SnapshotFor("alice"))
	req.Equal([]Direct{keep}, s.SnapshotFor("bob"))

	_, err = s.Delete(m.ID, "alice")
	req.ErrorIs(err, ErrNotFound)
}

func TestDirectMessageToSelfStoredOnce(t *testing.T) {
	s := NewDirectStore()
	m := s.Append(Direct{From: "alice", To: "alice", Body: Text("note")})
	require.Len(t, s.SnapshotFor("alice"), 1)

	_, err := s.Delete(m.ID, "alice")
	require.NoError(t, err)
	require.Empty(t, s.SnapshotFor("alice"))
}

func TestDirectSnapshotForUnknownUser(t *testing.T) {
	s := NewDirectStore()
	snap := s.SnapshotFor("nobody")
	require.NotNil(t, snap)
	require.Empty(t, snap)
}
