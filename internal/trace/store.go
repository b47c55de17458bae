package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id      TEXT PRIMARY KEY,
	program       TEXT NOT NULL,
	persona       TEXT,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	completed_at  TEXT,
	event_count   INTEGER NOT NULL,
	trace_json    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_program ON traces(program, started_at);
`

// #endregion schema

// #region store

// Store persists finalised traces in SQLite so executions can be
// inspected after the fact.
type Store struct {
	db *sql.DB
}

// NewStore opens the trace database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion store

// #region save

// Save writes a finalised trace. Traces are append-only; saving the same
// trace id twice is an error.
func (s *Store) Save(t *Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO traces (trace_id, program, persona, status, started_at, completed_at, event_count, trace_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TraceID, t.Program, nullIfEmpty(t.Persona), t.Status,
		t.StartedAt, nullIfEmpty(t.CompletedAt), t.TotalEvents(), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// #endregion save

// #region load

// Get retrieves one trace by id.
func (s *Store) Get(traceID string) (*Trace, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT trace_json FROM traces WHERE trace_id = ?`, traceID,
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("get trace %s: %w", traceID, err)
	}
	var t Trace
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return &t, nil
}

// Summary is one row of the trace listing.
type Summary struct {
	TraceID     string
	Program     string
	Persona     string
	Status      string
	StartedAt   string
	CompletedAt string
	EventCount  int
}

// List returns the most recent trace summaries.
func (s *Store) List(limit int) ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT trace_id, program, persona, status, started_at, completed_at, event_count
		 FROM traces ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var persona, completed sql.NullString
		if err := rows.Scan(&sum.TraceID, &sum.Program, &persona, &sum.Status,
			&sum.StartedAt, &completed, &sum.EventCount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if persona.Valid {
			sum.Persona = persona.String
		}
		if completed.Valid {
			sum.CompletedAt = completed.String
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// #endregion load

// #region helpers

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
