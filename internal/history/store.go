// Package history persists session records and translated turns to SQLite so
// past conversations survive restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/transrouter/transrouter/internal/config"
)

// Session is one recorded translation session.
type Session struct {
	SessionID     string
	StartedAt     time.Time
	StoppedAt     time.Time
	RecordingPath string
	Error         string
}

// Turn is one translated model turn within a session.
type Turn struct {
	ID        int64
	SessionID string
	Turn      int
	Text      string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed session history.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store at cfg.Path, creating the schema on
// first use.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    stopped_at TIMESTAMP,
    recording_path TEXT,
    error TEXT
);
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    turn INTEGER NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginSession records a newly started session.
func (s *Store) BeginSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC().Format(time.RFC3339Nano))
	return err
}

// EndSession marks a session as stopped with its recording path and terminal
// error, if any.
func (s *Store) EndSession(ctx context.Context, sessionID, recordingPath, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, recording_path = ?, error = ? WHERE session_id = ?`,
		s.clock().UTC().Format(time.RFC3339Nano), recordingPath, errText, sessionID)
	return err
}

// AppendTurn stores one translated turn.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn int, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(session_id, turn, text, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, turn, text, s.clock().UTC().Format(time.RFC3339Nano))
	return err
}

// ListTurns retrieves up to limit turns for a session in completion order.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn, text, created_at
		 FROM turns WHERE session_id = ? ORDER BY turn ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Turn, &t.Text, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// GetSession looks up one session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, started_at, COALESCE(stopped_at, ''), COALESCE(recording_path, ''), COALESCE(error, '')
		 FROM sessions WHERE session_id = ?`, sessionID)

	var sess Session
	var started, stopped string
	if err := row.Scan(&sess.SessionID, &started, &stopped, &sess.RecordingPath, &sess.Error); err != nil {
		return Session{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
		sess.StartedAt = ts
	}
	if stopped != "" {
		if ts, err := time.Parse(time.RFC3339Nano, stopped); err == nil {
			sess.StoppedAt = ts
		}
	}
	return sess, nil
}
