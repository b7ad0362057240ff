package task

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const scratchSchema = `
CREATE TABLE IF NOT EXISTS scratch (
	task_id    TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	mode       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// ScratchEntry is one saved originating query, keyed by task ID.
type ScratchEntry struct {
	TaskID    string
	Query     string
	Mode      Mode
	CreatedAt time.Time
}

// Scratch is a transient per-session key-value store holding only the
// originating query text for each task. It exists so a same-session
// navigation or reload can re-hydrate pending tasks before their streams
// re-establish; it is never a source of truth for task status.
type Scratch struct {
	db *sql.DB
}

// OpenScratch opens (or creates) the scratch database at dbPath and ensures
// the scratch table exists. The caller is responsible for calling Close.
func OpenScratch(dbPath string) (*Scratch, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open scratch %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(scratchSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create scratch schema: %w", err)
	}
	return &Scratch{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Scratch) Close() error { return s.db.Close() }

// Save records the originating query for taskID, replacing any prior entry.
func (s *Scratch) Save(taskID, query string, mode Mode) error {
	_, err := s.db.Exec(
		`INSERT INTO scratch (task_id, query, mode, created_at) VALUES (?,?,?,?)
		 ON CONFLICT(task_id) DO UPDATE SET query=excluded.query, mode=excluded.mode`,
		taskID, query, string(mode), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save scratch: %w", err)
	}
	return nil
}

// Load returns the saved entry for taskID, or false if none exists.
func (s *Scratch) Load(taskID string) (*ScratchEntry, bool, error) {
	var e ScratchEntry
	var mode string
	err := s.db.QueryRow(
		`SELECT task_id, query, mode, created_at FROM scratch WHERE task_id = ?`, taskID,
	).Scan(&e.TaskID, &e.Query, &mode, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load scratch: %w", err)
	}
	e.Mode = Mode(mode)
	return &e, true, nil
}

// All returns every saved entry, oldest first.
func (s *Scratch) All() ([]ScratchEntry, error) {
	rows, err := s.db.Query(`SELECT task_id, query, mode, created_at FROM scratch ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scratch: %w", err)
	}
	defer rows.Close()

	var entries []ScratchEntry
	for rows.Next() {
		var e ScratchEntry
		var mode string
		if err := rows.Scan(&e.TaskID, &e.Query, &mode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scratch: %w", err)
		}
		e.Mode = Mode(mode)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the entry for taskID. Deleting a missing entry is not an error.
func (s *Scratch) Delete(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM scratch WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete scratch: %w", err)
	}
	return nil
}
