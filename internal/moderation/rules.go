package moderation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/huddle/chat-server/internal/protocol"
)

// Limits for the group channel. Direct messages are exempt.
const (
	maxGroupLinks = 3
	maxCharRun    = 8
	maxWordRepeat = 4
)

// linkPattern matches explicit URLs and bare domains on common TLDs. Version
// strings and decimals ("v2.0", "3.14") do not match.
var linkPattern = regexp.MustCompile(`\b(?:https?://|www\.)\S+|\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|net|org|io|dev|app|co|me|gg|xyz|ru)\b(?:/\S*)?`)

// rule is a check that applies to messages in the listed scopes.
type rule struct {
	name   string
	detail string
	scopes []string
	match  func(prose string, links int) bool
}

var rules = []rule{
	{
		name:   "link_flood",
		detail: "Too many links in one message",
		scopes: []string{protocol.ScopeGroup},
		match:  func(_ string, links int) bool { return links > maxGroupLinks },
	},
	{
		name:   "char_flood",
		detail: "Character flooding detected",
		scopes: []string{protocol.ScopeGroup},
		match:  func(prose string, _ int) bool { return longestRun(prose) >= maxCharRun },
	},
	{
		name:   "word_flood",
		detail: "Repeated word flooding detected",
		scopes: []string{protocol.ScopeGroup},
		match:  func(prose string, _ int) bool { return longestRepeat(tokenizePlain(prose)) >= maxWordRepeat },
	},
}

func (r rule) appliesTo(scope string) bool {
	for _, s := range r.scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// checkRules applies the rules for scope to prose, the message text with its
// links removed, given the number of links that were removed.
func checkRules(scope, prose string, links int) FilterResult {
	for _, r := range rules {
		if r.appliesTo(scope) && r.match(prose, links) {
			return FilterResult{Blocked: true, Reason: ReasonSpam, Term: r.name, Detail: r.detail}
		}
	}
	return FilterResult{}
}

// stripLinks replaces each span in spans with a single space.
func stripLinks(s string, spans [][]int) string {
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(s[last:sp[0]])
		b.WriteByte(' ')
		last = sp[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// longestRun returns the length of the longest run of one repeated
// non-space rune.
func longestRun(s string) int {
	best, run := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev && !unicode.IsSpace(r) {
			run++
		} else {
			run = 1
		}
		prev = r
		if run > best {
			best = run
		}
	}
	return best
}

// longestRepeat returns the longest streak of the same token in a row.
func longestRepeat(tokens []string) int {
	best, run := 0, 0
	for i, tok := range tokens {
		if i > 0 && tok == tokens[i-1] {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}
