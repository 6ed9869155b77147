package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS adapter_sessions (
	adapter TEXT NOT NULL,
	session_id TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (adapter, session_id)
);`

// SQLiteStore persists mappings in a SQLite database so sessions survive restarts.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultSQLitePath returns ~/.local/share/clibridge/sessions.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: resolve user home: %w", err)
	}
	return filepath.Join(home, ".local", "share", "clibridge", "sessions.db"), nil
}

// OpenSQLite opens (or creates) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("session: create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: sqlite open: %w", err)
	}
	// one connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: sqlite set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: sqlite create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, adapter, sessionID string) (string, bool, error) {
	var remote string
	err := s.db.QueryRowContext(ctx,
		`SELECT remote_id FROM adapter_sessions WHERE adapter = ? AND session_id = ?`,
		adapter, sessionID).Scan(&remote)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: sqlite get: %w", err)
	}
	return remote, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, adapter, sessionID, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO adapter_sessions (adapter, session_id, remote_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(adapter, session_id) DO UPDATE SET
	remote_id = excluded.remote_id,
	updated_at = excluded.updated_at`,
		adapter, sessionID, remoteID, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, adapter, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM adapter_sessions WHERE adapter = ? AND session_id = ?`,
		adapter, sessionID); err != nil {
		return fmt.Errorf("session: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, adapter string) ([]Entry, error) {
	query := `SELECT adapter, session_id, remote_id, updated_at FROM adapter_sessions`
	var args []any
	if adapter != "" {
		query += ` WHERE adapter = ?`
		args = append(args, adapter)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: sqlite list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updated string
		if err := rows.Scan(&e.Adapter, &e.SessionID, &e.RemoteID, &updated); err != nil {
			return nil, fmt.Errorf("session: sqlite scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			e.UpdatedAt = ts
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: sqlite rows: %w", err)
	}
	sortEntries(out)
	return out, nil
}
