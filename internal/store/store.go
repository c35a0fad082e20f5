// Package store provides SQLite persistence for conversations: the
// completion model's continuation state per session, and a question/answer
// transcript that survives server restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Turn is one answered question in a session transcript.
type Turn struct {
	// SessionID identifies the conversation.
	SessionID string `json:"session_id"`
	// Question is the query as the user typed it.
	Question string `json:"question"`
	// Answer is the text returned to the user.
	Answer string `json:"answer"`
	// Source names the pipeline stage that produced the answer.
	Source string `json:"source"`
	// CreatedAt is when the turn was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptStore persists and retrieves session transcripts.
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// AppendTurn persists a single turn.
	AppendTurn(ctx context.Context, t Turn) error
	// RecentTurns returns the most recent n turns for the session, ordered
	// oldest-first. If fewer than n exist, all are returned.
	RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error)
}

// SQLiteStore keeps session state and transcripts in a local SQLite
// database. It satisfies session.Store and TranscriptStore.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.lawbot/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".lawbot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer avoids SQLITE_BUSY, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT    PRIMARY KEY,
    state       BLOB    NOT NULL,
    updated_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS turns (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT    NOT NULL,
    question    TEXT    NOT NULL,
    answer      TEXT    NOT NULL,
    source      TEXT    NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Load returns the continuation state saved for the session, or nil when
// none exists.
func (s *SQLiteStore) Load(ctx context.Context, id string) (json.RawMessage, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	return json.RawMessage(state), nil
}

// Save upserts the continuation state for the session.
func (s *SQLiteStore) Save(ctx context.Context, id string, state json.RawMessage) error {
	const q = `
INSERT INTO sessions (id, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, id, []byte(state), time.Now().Unix()); err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

// AppendTurn persists a single transcript turn. A zero CreatedAt is stamped
// with the current time.
func (s *SQLiteStore) AppendTurn(ctx context.Context, t Turn) error {
	ts := t.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `INSERT INTO turns (session, question, answer, source, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, t.SessionID, t.Question, t.Answer, t.Source, ts.Unix()); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent n turns for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order it.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	const q = `
SELECT question, answer, source, created_at FROM (
    SELECT id, question, answer, source, created_at
    FROM   turns
    WHERE  session = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t := Turn{SessionID: sessionID}
		var ts int64
		if err := rows.Scan(&t.Question, &t.Answer, &t.Source, &ts); err != nil {
			return nil, fmt.Errorf("store: recent turns scan: %w", err)
		}
		t.CreatedAt = time.Unix(ts, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent turns rows: %w", err)
	}
	return turns, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
