// Package directory indexes usernames for the user search endpoint.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldUsername = "username"
	fieldLower    = "username_lower"
)

// Index is an in-memory bluge index of usernames. Matching is a
// case-insensitive substring test on the username.
type Index struct {
	writer *bluge.Writer
}

// NewIndex opens an empty in-memory index.
func NewIndex() (*Index, error) {
	w, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("directory: open index: %w", err)
	}
	return &Index{writer: w}, nil
}

// Add indexes username. Adding the same username again is a no-op.
func (ix *Index) Add(username string) error {
	doc := bluge.NewDocument(username).
		AddField(bluge.NewKeywordField(fieldUsername, username).StoreValue()).
		AddField(bluge.NewKeywordField(fieldLower, strings.ToLower(username)))

	if err := ix.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("directory: index %q: %w", username, err)
	}
	return nil
}

// Search returns the usernames containing query, ignoring case, in sorted
// order. An empty query matches everyone.
func (ix *Index) Search(ctx context.Context, query string) ([]string, error) {
	reader, err := ix.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("directory: open reader: %w", err)
	}
	defer reader.Close()

	needle := strings.ToLower(query)

	var q bluge.Query = bluge.NewMatchAllQuery()
	if needle != "" {
		// Wildcard metacharacters in the query become single-character
		// wildcards; the substring check below restores exact semantics.
		pattern := strings.NewReplacer("*", "?", `\`, "?").Replace(needle)
		q = bluge.NewWildcardQuery("*" + pattern + "*").SetField(fieldLower)
	}

	iter, err := reader.Search(ctx, bluge.NewAllMatches(q))
	if err != nil {
		return nil, fmt.Errorf("directory: search: %w", err)
	}

	var out []string
	match, err := iter.Next()
	for err == nil && match != nil {
		var name string
		verr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldUsername {
				name = string(value)
				return false
			}
			return true
		})
		if verr != nil {
			return nil, fmt.Errorf("directory: read match: %w", verr)
		}
		if name != "" && strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
		}
		match, err = iter.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("directory: iterate: %w", err)
	}

	sort.Strings(out)
	return out, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.writer.Close()
}
