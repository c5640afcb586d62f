// Package store persists conversations to SQLite so a restarted agent can
// pick up its last session. Only the orchestrator writes; front-ends read
// history through the state watch, never from here.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"bumble/internal/memory"
)

// Store is the SQLite-backed conversation persistence.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	tool       TEXT,
	content    TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateSession registers a session id. Idempotent.
func (s *Store) CreateSession(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO sessions (id, title) VALUES (?, ?)",
		id, title,
	)
	return err
}

// SaveMessage appends one message to a session.
func (s *Store) SaveMessage(sessionID string, msg memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO messages (session_id, role, tool, content) VALUES (?, ?, ?, ?)",
		sessionID, string(msg.Role), msg.Tool, msg.Content,
	)
	if err != nil {
		s.logger.Error("save message failed", zap.String("session", sessionID), zap.Error(err))
	}
	return err
}

// LoadMessages returns a session's messages in order.
func (s *Store) LoadMessages(sessionID string) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		"SELECT role, tool, content FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Message
	for rows.Next() {
		var role, content string
		var tool sql.NullString
		if err := rows.Scan(&role, &tool, &content); err != nil {
			continue
		}
		out = append(out, memory.Message{Role: memory.Role(role), Tool: tool.String, Content: content})
	}
	return out, rows.Err()
}

// LatestSession returns the most recently created session id, or "" when
// the store is empty.
func (s *Store) LatestSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	err := s.db.QueryRow(
		"SELECT id FROM sessions ORDER BY created_at DESC, id DESC LIMIT 1",
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// SessionInfo summarises a stored session.
type SessionInfo struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Messages  int
}

// ListSessions returns stored sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT s.id, COALESCE(s.title, ''), s.created_at, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Title, &info.CreatedAt, &info.Messages); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
