package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestInMemoryStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()

	if _, err := m.Store(ctx, "contract_type", "NDA", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(ctx, "parties", "Acme Corp and Beta LLC", nil); err != nil {
		t.Fatal(err)
	}

	results, err := m.Retrieve(ctx, "contract_type", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Score != 1.0 {
		t.Fatalf("exact match results = %+v", results)
	}

	results, _ = m.Retrieve(ctx, "contract", 5, "")
	if len(results) == 0 || results[0].Score != 0.7 {
		t.Fatalf("key-contains results = %+v", results)
	}

	results, _ = m.Retrieve(ctx, "Acme", 5, "")
	if len(results) == 0 || results[0].Score != 0.4 {
		t.Fatalf("value-match results = %+v", results)
	}
}

func TestInMemoryEmptyKeyRejected(t *testing.T) {
	if _, err := NewInMemory().Store(context.Background(), "", "v", nil); err == nil {
		t.Fatal("empty key accepted")
	}
}

func TestInMemoryScopeFilter(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()
	m.Store(ctx, "a", "alpha notes", map[string]interface{}{"scope": "research"})
	m.Store(ctx, "b", "alpha drafts", map[string]interface{}{"scope": "drafts"})

	results, _ := m.Retrieve(ctx, "alpha", 5, "research")
	if len(results) != 1 || results[0].Key != "a" {
		t.Fatalf("scoped results = %+v", results)
	}

	n, _ := m.Clear(ctx, "drafts")
	if n != 1 || m.Len() != 1 {
		t.Errorf("clear removed %d, remaining %d", n, m.Len())
	}
}

func TestStopwordsIgnoredInContentMatch(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()
	m.Store(ctx, "k1", "quantum entanglement results", nil)

	// Only stopwords and short tokens: must not match.
	results, _ := m.Retrieve(ctx, "the of an is", 5, "")
	if len(results) != 0 {
		t.Fatalf("stopword query matched: %+v", results)
	}

	results, _ = m.Retrieve(ctx, "the quantum results", 5, "")
	if len(results) != 1 {
		t.Fatalf("content tokens missed: %+v", results)
	}
}

func TestTopKTruncation(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()
	m.Store(ctx, "note_one", "x", nil)
	m.Store(ctx, "note_two", "x", nil)
	m.Store(ctx, "note_three", "x", nil)

	results, _ := m.Retrieve(ctx, "note", 2, "")
	if len(results) != 2 {
		t.Fatalf("topK not applied: %d", len(results))
	}
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Store(ctx, "summary", map[string]interface{}{
		"topic": "quantum computing",
	}, map[string]interface{}{"scope": "research"}); err != nil {
		t.Fatal(err)
	}

	results, err := store.Retrieve(ctx, "summary", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Score != 1.0 {
		t.Fatalf("results = %+v", results)
	}
	value := results[0].Value.(map[string]interface{})
	if value["topic"] != "quantum computing" {
		t.Errorf("value = %v", value)
	}

	// Overwrite by key.
	if _, err := store.Store(ctx, "summary", "replaced", nil); err != nil {
		t.Fatal(err)
	}
	results, _ = store.Retrieve(ctx, "summary", 5, "")
	if len(results) != 1 || results[0].Value != "replaced" {
		t.Fatalf("overwrite failed: %+v", results)
	}

	n, err := store.Clear(ctx, "")
	if err != nil || n != 1 {
		t.Fatalf("clear = %d, %v", n, err)
	}
}

func TestSQLiteScopedClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Store(ctx, "a", "x", map[string]interface{}{"scope": "s1"})
	store.Store(ctx, "b", "x", map[string]interface{}{"scope": "s2"})

	n, err := store.Clear(ctx, "s1")
	if err != nil || n != 1 {
		t.Fatalf("clear = %d, %v", n, err)
	}
	results, _ := store.Retrieve(ctx, "x", 5, "")
	if len(results) != 1 || results[0].Key != "b" {
		t.Fatalf("remaining = %+v", results)
	}
}

var _ Backend = (*InMemory)(nil)
var _ Backend = (*SQLite)(nil)
