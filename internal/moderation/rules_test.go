package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huddle/chat-server/internal/protocol"
)

func TestFloodRulesApplyToGroupOnly(t *testing.T) {
	f := NewFilterWithTerms(nil)

	tests := []struct {
		name  string
		input string
		term  string
	}{
		{"links", "a.com b.com https://c.io www.d.org", "link_flood"},
		{"char run", "nooooooooo way", "char_flood"},
		{"emoji run", strings.Repeat("🔥", 8), "char_flood"},
		{"word repeat", "buy buy buy buy now", "word_flood"},
		{"word repeat across punctuation", "spam, spam. spam! spam", "word_flood"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(protocol.ScopeGroup, tt.input)
			require.True(t, res.Blocked)
			require.Equal(t, ReasonSpam, res.Reason)
			require.Equal(t, tt.term, res.Term)
			require.NotEmpty(t, res.Detail)

			require.False(t, f.Check(protocol.ScopeDirect, tt.input).Blocked, "direct messages are exempt")
		})
	}
}

func TestFloodRulesBelowLimits(t *testing.T) {
	f := NewFilterWithTerms(nil)

	for _, input := range []string{
		"a.com b.com https://c.io",
		"nooooooo",
		"no no no",
		"hello\n\n\n\n\n\n\n\n\nworld",
		"https://example.com/aaaaaaaaaaaa",
		"https://x.io/a https://x.io/a https://x.io/a",
	} {
		require.False(t, f.Check(protocol.ScopeGroup, input).Blocked, input)
	}
}

func TestKeywordOutranksFlood(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	res := f.Check(protocol.ScopeGroup, "badword badword badword badword")
	require.Equal(t, ReasonKeyword, res.Reason)
}

func TestUnknownScopeGetsKeywordsOnly(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	require.True(t, f.Check("", "badword").Blocked)
	require.False(t, f.Check("", "spam spam spam spam").Blocked)
}

func TestStripLinks(t *testing.T) {
	s := "see https://a.io/x and b.com now"
	require.Equal(t, "see   and   now", stripLinks(s, linkPattern.FindAllStringIndex(s, -1)))
	require.Equal(t, "plain", stripLinks("plain", nil))
}

func TestLongestRunAndRepeat(t *testing.T) {
	require.Equal(t, 0, longestRun(""))
	require.Equal(t, 3, longestRun("abbbc"))
	require.Equal(t, 1, longestRun("a    b"))
	require.Equal(t, 0, longestRepeat(nil))
	require.Equal(t, 2, longestRepeat([]string{"a", "b", "b", "a"}))
}
