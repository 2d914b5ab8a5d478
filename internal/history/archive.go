// Package history keeps a local archive of finished turns in sqlite. It is
// strictly an amenity: every caller treats failures here as loggable, not
// fatal.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatline/internal/logging"
)

// Archive is an append-mostly log of completed turns.
type Archive struct {
	db *sql.DB
}

// Open creates the database (and its parent directory) if needed and
// bootstraps the schema.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.History("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.History("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.History("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	a := &Archive{db: db}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		thread_id TEXT,
		model TEXT,
		prompt TEXT,
		response TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Turn is one archived exchange.
type Turn struct {
	TurnID    string
	ThreadID  string
	Model     string
	Prompt    string
	Response  string
	CreatedAt time.Time
}

// RecordTurn appends one finished turn.
func (a *Archive) RecordTurn(ctx context.Context, turnID, threadID, model, prompt, response string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, thread_id, model, prompt, response) VALUES (?, ?, ?, ?, ?)`,
		turnID, threadID, model, prompt, response)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	logging.History("recorded turn %s", turnID)
	return nil
}

// RecentTurns returns up to limit turns, newest first.
func (a *Archive) RecentTurns(ctx context.Context, limit int) ([]Turn, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT turn_id, COALESCE(thread_id, ''), COALESCE(model, ''), COALESCE(prompt, ''), COALESCE(response, ''), created_at
		 FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.TurnID, &t.ThreadID, &t.Model, &t.Prompt, &t.Response, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ThreadTurns returns a single thread's archived turns, oldest first.
func (a *Archive) ThreadTurns(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT turn_id, COALESCE(thread_id, ''), COALESCE(model, ''), COALESCE(prompt, ''), COALESCE(response, ''), created_at
		 FROM turns WHERE thread_id = ? ORDER BY id ASC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.TurnID, &t.ThreadID, &t.Model, &t.Prompt, &t.Response, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (a *Archive) Close() error {
	return a.db.Close()
}
