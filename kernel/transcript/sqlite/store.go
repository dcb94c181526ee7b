// Package sqlite persists debate transcripts to a local SQLite database.
package sqlite

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

	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
)

const (
	driverName = "sqlite"
	dsnOptions = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"
)

// ErrNotFound is returned by Load for an unknown session.
var ErrNotFound = errors.New("transcript: session not found")

// Store implements transcript.Sink on SQLite.
type Store struct {
	db *sql.DB
}

// Summary is one row of List.
type Summary struct {
	SessionID    string
	Topic        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("transcript: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	db, err := sql.Open(driverName, path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("transcript: open db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS debate_sessions (
	session_id TEXT NOT NULL PRIMARY KEY,
	topic TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS debate_messages (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	message_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_debate_sessions_updated
ON debate_sessions(updated_at DESC);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// SaveSession upserts the session row and its messages. Snapshots only
// grow, so existing rows are overwritten by sequence number.
func (s *Store) SaveSession(ctx context.Context, rec transcript.Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("transcript: session_id is required")
	}
	at := rec.SavedAt
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transcript: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertSession = `
INSERT INTO debate_sessions (session_id, topic, created_at, updated_at, message_count)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	topic = excluded.topic,
	updated_at = excluded.updated_at,
	message_count = excluded.message_count`
	if _, err := tx.ExecContext(ctx, upsertSession, rec.SessionID, rec.Topic, ts, ts, len(rec.Messages)); err != nil {
		return fmt.Errorf("transcript: upsert session: %w", err)
	}

	const upsertMessage = `
INSERT INTO debate_messages (session_id, seq, message_id, role, content)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO UPDATE SET
	message_id = excluded.message_id,
	role = excluded.role,
	content = excluded.content`
	stmt, err := tx.PrepareContext(ctx, upsertMessage)
	if err != nil {
		return fmt.Errorf("transcript: prepare: %w", err)
	}
	defer stmt.Close()
	for i, m := range rec.Messages {
		if _, err := stmt.ExecContext(ctx, rec.SessionID, i, m.ID, string(m.Role), m.Content); err != nil {
			return fmt.Errorf("transcript: upsert message %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transcript: commit: %w", err)
	}
	return nil
}

// Load returns the stored transcript for sessionID.
func (s *Store) Load(ctx context.Context, sessionID string) (transcript.Record, error) {
	const qSession = `SELECT topic, updated_at FROM debate_sessions WHERE session_id = ?`
	rec := transcript.Record{SessionID: sessionID}
	var updatedAt int64
	if err := s.db.QueryRowContext(ctx, qSession, sessionID).Scan(&rec.Topic, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transcript.Record{}, ErrNotFound
		}
		return transcript.Record{}, err
	}
	rec.SavedAt = time.UnixMilli(updatedAt)

	const qMessages = `SELECT message_id, role, content FROM debate_messages WHERE session_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, qMessages, sessionID)
	if err != nil {
		return transcript.Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m    debate.Message
			role string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content); err != nil {
			return transcript.Record{}, err
		}
		m.Role = debate.Role(role)
		rec.Messages = append(rec.Messages, m)
	}
	return rec, rows.Err()
}

// MaxListLimit caps List.
const MaxListLimit = 200

// List returns the most recently updated sessions, at most MaxListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, MaxListLimit)
	const q = `
SELECT session_id, topic, message_count, created_at, updated_at
FROM debate_sessions
ORDER BY updated_at DESC, created_at DESC
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sum                  Summary
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&sum.SessionID, &sum.Topic, &sum.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(createdAt)
		sum.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}
