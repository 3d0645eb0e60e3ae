// Package moderation screens chat text before it is stored. Blocked keywords
// and their leetspeak variants are refused in every scope; flooding rules
// only apply to the shared group channel. Links are allowed.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in FilterResult.Reason.
const (
	ReasonKeyword = "blocked_keyword"
	ReasonSpam    = "spam_pattern"
)

// FilterResult is the outcome of screening one message.
type FilterResult struct {
	Blocked bool
	Reason  string // ReasonKeyword or ReasonSpam
	Term    string // matched term, or the spam check name
	Detail  string // human readable, safe to show the author
}

// defaultTerms is the built-in blocklist. Multi-word entries match whole
// consecutive words.
var defaultTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "fag", "retard", "tranny", "chink", "spic", "kike",
	// harassment
	"kill yourself", "kys", "go die", "hang yourself",
	// sexual content
	"child porn", "cp links", "send nudes", "rape",
	// extremism and threats
	"heil hitler", "white power", "bomb threat", "school shooting",
	// scams
	"free bitcoin", "crypto giveaway", "double your money",
}

// leetMap folds common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// Filter matches text against a keyword blocklist and spam patterns. It is
// immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a Filter loaded with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms returns a Filter that blocks exactly terms. Blank terms
// are ignored; matching is case-insensitive.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, t := range terms {
		tokens := tokenizePlain(strings.ToLower(t))
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, strings.Join(tokens, " "))
		}
	}
	return f
}

// Check screens text sent in scope (protocol.ScopeGroup or
// protocol.ScopeDirect). Keyword matches take priority over scope rules.
func (f *Filter) Check(scope, text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}
	lower := strings.ToLower(text)

	// Link hosts and paths are matched as plain words only. Digits and
	// symbols inside a URL are not leetspeak.
	if term := f.matchTokens(tokenizePlain(lower)); term != "" {
		return keywordResult(term)
	}

	links := linkPattern.FindAllStringIndex(lower, -1)
	prose := stripLinks(lower, links)

	leet := tokenizeLeet(prose)
	for i, tok := range leet {
		leet[i] = strings.TrimFunc(normalizeLeet(tok), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
	}
	if term := f.matchTokens(leet); term != "" {
		return keywordResult(term)
	}

	return checkRules(scope, prose, len(links))
}

// matchTokens returns the first blocked word or phrase found in tokens.
func (f *Filter) matchTokens(tokens []string) string {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok
		}
	}
	if len(f.phrases) == 0 || len(tokens) < 2 {
		return ""
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range f.phrases {
		if strings.Contains(joined, " "+p+" ") {
			return p
		}
	}
	return ""
}

func keywordResult(term string) FilterResult {
	return FilterResult{
		Blocked: true,
		Reason:  ReasonKeyword,
		Term:    term,
		Detail:  "Message contains prohibited content",
	}
}

// normalizeLeet maps leetspeak substitutions in s to the letters they stand for.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := leetMap[r]; ok {
			return l
		}
		return r
	}, s)
}

// tokenizePlain splits s into runs of letters and digits.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits s on whitespace only, keeping symbols that may stand in
// for letters.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}
