package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	entry_id      TEXT PRIMARY KEY,
	key           TEXT NOT NULL UNIQUE,
	value_json    TEXT NOT NULL,
	metadata_json TEXT,
	scope         TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_entries(scope);
`

// #endregion schema

// #region store

// SQLite is the persistent Backend used for memories declared with
// store: persistent. Retrieval uses the same scoring ladder as the
// in-memory backend, evaluated over all rows in the scope.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// #endregion store

// #region operations

// Store upserts a value by key.
func (s *SQLite) Store(ctx context.Context, key string, value interface{}, metadata map[string]interface{}) (Entry, error) {
	if key == "" {
		return Entry{}, fmt.Errorf("memory key must not be empty")
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal value: %w", err)
	}
	var metadataJSON interface{}
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (entry_id, key, value_json, metadata_json, scope, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value_json = excluded.value_json,
		   metadata_json = excluded.metadata_json,
		   scope = excluded.scope,
		   created_at = excluded.created_at`,
		uuid.New().String(), key, string(valueJSON), metadataJSON,
		nullIfEmpty(metaScope(metadata)), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("store entry: %w", err)
	}
	return Entry{Key: key, Value: value, Metadata: metadata, CreatedAt: now}, nil
}

// Retrieve scans the scope and ranks entries with the shared scorer.
func (s *SQLite) Retrieve(ctx context.Context, query string, topK int, scope string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value_json, metadata_json, created_at FROM memory_entries
		 WHERE scope = ? OR ? = ''`, scope, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var matched []Entry
	for rows.Next() {
		var key, valueJSON, createdStr string
		var metadataJSON sql.NullString
		if err := rows.Scan(&key, &valueJSON, &metadataJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		entry := Entry{Key: key}
		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value for %s: %w", key, err)
		}
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", key, err)
			}
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

		if score := scoreEntry(entry, query); score > 0 {
			entry.Score = score
			matched = append(matched, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(matched, topK), nil
}

// Clear deletes entries, optionally restricted to one scope.
func (s *SQLite) Clear(ctx context.Context, scope string) (int, error) {
	var result sql.Result
	var err error
	if scope == "" {
		result, err = s.db.ExecContext(ctx, `DELETE FROM memory_entries`)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE scope = ?`, scope)
	}
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// #endregion operations

// #region helpers

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
