package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huddle/chat-server/internal/protocol"
)

var scopes = []string{protocol.ScopeGroup, protocol.ScopeDirect}

func TestNewFilterLoadsBlocklist(t *testing.T) {
	f := NewFilter()
	require.NotEmpty(t, f.words)
	require.NotEmpty(t, f.phrases)
}

func TestKeywordsBlockedInEveryScope(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "kill yourself"})

	tests := []struct {
		name  string
		input string
		term  string
	}{
		{"exact", "badword", "badword"},
		{"in sentence", "this is badword here", "badword"},
		{"case insensitive", "BaDwOrD", "badword"},
		{"punctuation", "hello, badword!", "badword"},
		{"phrase", "you should kill yourself now", "kill yourself"},
		{"leet zero and at", "b@dw0rd", "badword"},
		{"leet inside sentence", "what a b4dw0rd today", "badword"},
		{"in link path", "see https://example.com/badword", "badword"},
	}

	for _, scope := range scopes {
		for _, tt := range tests {
			t.Run(scope+"/"+tt.name, func(t *testing.T) {
				res := f.Check(scope, tt.input)
				require.True(t, res.Blocked)
				require.Equal(t, ReasonKeyword, res.Reason)
				require.Equal(t, tt.term, res.Term)
				require.NotEmpty(t, res.Detail)
			})
		}
	}
}

func TestKeywordsNeedWholeWords(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "go die"})

	for _, input := range []string{"badwording is fine", "mybadword", "go and die", "godie"} {
		for _, scope := range scopes {
			require.False(t, f.Check(scope, input).Blocked, "%s: %q", scope, input)
		}
	}
}

func TestDefaultBlocklist(t *testing.T) {
	f := NewFilter()

	for _, input := range []string{"kill yourself", "send nudes", "heil hitler", "free bitcoin", "get it at free-bitcoin.com"} {
		res := f.Check(protocol.ScopeDirect, input)
		require.True(t, res.Blocked, input)
		require.Equal(t, ReasonKeyword, res.Reason, input)
	}
}

func TestEverydayTextPasses(t *testing.T) {
	f := NewFilter()

	messages := []string{
		"",
		"who is joining standup?",
		"the deploy went out at 3pm",
		"I need to assess the situation",
		"what class are you in?",
		"soooo good",
		"call me at +1 555-123-4567",
		"release notes: https://github.com/huddle/chat-server/releases/tag/v2.0",
		"docs at https://a55.example.com and www.go.dev",
		"ha ha ha",
	}

	for _, scope := range scopes {
		for _, msg := range messages {
			res := f.Check(scope, msg)
			require.False(t, res.Blocked, "%s: %q blocked by %s", scope, msg, res.Term)
		}
	}
}

func TestLinkPattern(t *testing.T) {
	tests := []struct {
		input string
		links int
	}{
		{"https://example.com/path?q=1", 1},
		{"http://a.io www.b.org", 2},
		{"mirror at files.example.net/x", 1},
		{"huddle.dev", 1},
		{"v2.0 is out, pi is 3.14", 0},
		{"node.js and e.g. this", 0},
	}

	for _, tt := range tests {
		require.Len(t, linkPattern.FindAllStringIndex(tt.input, -1), tt.links, tt.input)
	}
}

func TestLeetIgnoresLinks(t *testing.T) {
	f := NewFilterWithTerms([]string{"ass"})

	require.False(t, f.Check(protocol.ScopeGroup, "see https://a55.example.com").Blocked)
	require.True(t, f.Check(protocol.ScopeGroup, "you a55").Blocked)
}

func TestNewFilterWithTerms(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "Go  Die", "single"})

	require.Equal(t, []string{"go die"}, f.phrases)
	require.Len(t, f.words, 1)
	require.Contains(t, f.words, "single")
}

func TestTokenizers(t *testing.T) {
	require.Equal(t, []string{"hello", "world"}, tokenizePlain("hello---world!"))
	require.Nil(t, tokenizePlain(""))
	require.Equal(t, []string{"hello", "$h!t", "bye"}, tokenizeLeet("hello  $h!t bye"))
	require.Equal(t, "change", normalizeLeet("ch@ng3"))
	require.Equal(t, "shit", normalizeLeet("$h!t"))
}

func BenchmarkCheck(b *testing.B) {
	f := NewFilter()
	msg := "morning all, the build is green again. Can someone review https://example.com/pr/42 before lunch?"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(protocol.ScopeGroup, msg)
	}
}

func BenchmarkCheck_LongMessage(b *testing.B) {
	f := NewFilter()
	msg := strings.Repeat("this is a perfectly normal message with no bad content. ", 40)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(protocol.ScopeGroup, msg)
	}
}
