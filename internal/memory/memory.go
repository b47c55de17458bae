// Package memory provides the semantic storage layer behind AXON's
// remember and recall primitives: an abstract Backend, a dict-backed
// implementation for tests and session scope, and a SQLite-backed
// implementation for persistent scope.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// #region entry

// Entry is a single stored value with retrieval metadata.
type Entry struct {
	Key       string                 `json:"key"`
	Value     interface{}            `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Score     float64                `json:"score,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// #endregion entry

// #region backend

// Backend is the storage contract used by remember/recall. Each
// operation is atomic with respect to the single-threaded executor.
type Backend interface {
	// Store writes a value under a key, overwriting any prior entry.
	Store(ctx context.Context, key string, value interface{}, metadata map[string]interface{}) (Entry, error)
	// Retrieve returns up to topK entries ranked by relevance to the
	// query, most relevant first. An empty scope matches everything.
	Retrieve(ctx context.Context, query string, topK int, scope string) ([]Entry, error)
	// Clear removes entries (all of them, or one scope) and reports
	// how many were removed.
	Clear(ctx context.Context, scope string) (int, error)
}

// #endregion backend

// #region scoring

// Match quality ladder: exact key, key containment, content containment.
const (
	scoreExactKey    = 1.0
	scoreKeyContains = 0.7
	scoreValueMatch  = 0.4
)

// stopwords are excluded from content-match scoring so that filler words
// in a query do not surface unrelated entries.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "with": true,
}

// scoreEntry rates how well an entry matches a query.
func scoreEntry(e Entry, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	key := strings.ToLower(e.Key)
	if key == q {
		return scoreExactKey
	}
	if strings.Contains(key, q) {
		return scoreKeyContains
	}
	content := strings.ToLower(fmt.Sprintf("%v", e.Value))
	if strings.Contains(content, q) {
		return scoreValueMatch
	}
	// Token-level match with stopwords removed.
	for _, tok := range strings.Fields(q) {
		if stopwords[tok] || len(tok) < 3 {
			continue
		}
		if strings.Contains(content, tok) || strings.Contains(key, tok) {
			return scoreValueMatch
		}
	}
	return 0
}

// rank sorts scored entries by score then recency and truncates to topK.
func rank(entries []Entry, topK int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if topK > 0 && len(entries) > topK {
		entries = entries[:topK]
	}
	return entries
}

// #endregion scoring

// #region in-memory

// InMemory is the default Backend: a plain map with substring retrieval.
// Used for session/ephemeral scopes and in tests.
type InMemory struct {
	entries map[string]Entry
	clock   func() time.Time
}

// NewInMemory creates an empty in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{
		entries: map[string]Entry{},
		clock:   time.Now,
	}
}

// Store writes a value by key, overwriting any existing entry.
func (m *InMemory) Store(ctx context.Context, key string, value interface{}, metadata map[string]interface{}) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if key == "" {
		return Entry{}, fmt.Errorf("memory key must not be empty")
	}
	entry := Entry{
		Key:       key,
		Value:     value,
		Metadata:  metadata,
		CreatedAt: m.clock().UTC(),
	}
	m.entries[key] = entry
	return entry, nil
}

// Retrieve scores every entry against the query and returns the topK.
func (m *InMemory) Retrieve(ctx context.Context, query string, topK int, scope string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matched []Entry
	for _, entry := range m.entries {
		if scope != "" && metaScope(entry.Metadata) != scope {
			continue
		}
		if score := scoreEntry(entry, query); score > 0 {
			scored := entry
			scored.Score = score
			matched = append(matched, scored)
		}
	}
	return rank(matched, topK), nil
}

// Clear removes entries, optionally restricted to a scope.
func (m *InMemory) Clear(ctx context.Context, scope string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if scope == "" {
		n := len(m.entries)
		m.entries = map[string]Entry{}
		return n, nil
	}
	n := 0
	for key, entry := range m.entries {
		if metaScope(entry.Metadata) == scope {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries.
func (m *InMemory) Len() int {
	return len(m.entries)
}

func metaScope(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if s, ok := metadata["scope"].(string); ok {
		return s
	}
	return ""
}

// #endregion in-memory
