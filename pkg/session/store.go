package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/drover-ai/drover/pkg/tool"
)

// Message is a single persisted conversation entry.
type Message struct {
	ID         string                 `json:"id"`
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []tool.Call            `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Info is metadata about one stored session.
type Info struct {
	SessionKey   string    `json:"sessionKey"`
	MessageCount int       `json:"messageCount"`
	Archived     bool      `json:"archived"`
	LastModified time.Time `json:"lastModified"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key   TEXT PRIMARY KEY,
	archived      INTEGER NOT NULL DEFAULT 0,
	last_modified TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_key  TEXT NOT NULL REFERENCES sessions(session_key) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_call_id TEXT,
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, created_at);
CREATE TABLE IF NOT EXISTS subagent_chats (
	assistant_id TEXT PRIMARY KEY,
	chat_id      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
`

// Store persists sessions in a single SQLite database.
type Store struct {
	db *sql.DB

	// Serializes writers; SQLite allows one at a time.
	mu sync.Mutex
}

// New opens (creating if needed) the store at path. An empty path defaults to
// ~/.drover/sessions.db.
func New(path string) (*Store, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".drover", "sessions.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply session schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Session store opened")
	return &Store{db: db}, nil
}

// validateSessionKey rejects keys that could smuggle paths or control bytes.
func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

// CreateSession ensures a session row exists. Creating an existing session is
// a no-op.
func (s *Store) CreateSession(sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_key, last_modified) VALUES (?, ?)
		 ON CONFLICT(session_key) DO NOTHING`,
		sessionKey, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// AppendMessage appends one message to a session, creating the session row on
// first use.
func (s *Store) AppendMessage(sessionKey string, msg Message) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return fmt.Errorf("message content cannot be empty")
	}

	if msg.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate message id: %w", err)
		}
		msg.ID = id
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (session_key, last_modified) VALUES (?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET last_modified = excluded.last_modified`,
		sessionKey, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (id, session_key, role, content, tool_calls, tool_call_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionKey, msg.Role, msg.Content, toolCalls, msg.ToolCallID, metadata, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	log.Debug().
		Str("sessionKey", sessionKey).
		Str("role", msg.Role).
		Msg("Message appended")
	return nil
}

// LoadMessages returns the session's messages in insertion order. A missing
// session loads as empty, not as an error.
func (s *Store) LoadMessages(sessionKey string) ([]Message, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, role, content, tool_calls, tool_call_id, metadata, created_at
		 FROM messages WHERE session_key = ? ORDER BY created_at, id`,
		sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var toolCalls, toolCallID, metadata sql.NullString

		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolCalls, &toolCallID, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.ToolCallID = toolCallID.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				log.Warn().Str("sessionKey", sessionKey).Str("message", msg.ID).Err(err).
					Msg("Failed to parse stored tool calls, skipping field")
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				log.Warn().Str("sessionKey", sessionKey).Str("message", msg.ID).Err(err).
					Msg("Failed to parse stored metadata, skipping field")
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	log.Info().Str("sessionKey", sessionKey).Msg("Session deleted")
	return nil
}

// ArchiveSession marks a session archived, making it eligible for aged
// cleanup.
func (s *Store) ArchiveSession(sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET archived = 1 WHERE session_key = ?`, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session does not exist")
	}
	return nil
}

// ListSessions lists all stored session keys.
func (s *Store) ListSessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_key FROM sessions ORDER BY session_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		sessions = append(sessions, key)
	}
	return sessions, rows.Err()
}

// GetSessionInfo returns metadata about one session.
func (s *Store) GetSessionInfo(sessionKey string) (*Info, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	info := &Info{SessionKey: sessionKey}
	err := s.db.QueryRow(
		`SELECT archived, last_modified,
		        (SELECT COUNT(*) FROM messages WHERE session_key = sessions.session_key)
		 FROM sessions WHERE session_key = ?`,
		sessionKey,
	).Scan(&info.Archived, &info.LastModified, &info.MessageCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat session: %w", err)
	}
	return info, nil
}

// PruneSession keeps only the most recent maxEntries messages.
func (s *Store) PruneSession(sessionKey string, maxEntries int) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	if maxEntries <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM messages WHERE session_key = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_key = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		sessionKey, sessionKey, maxEntries,
	)
	if err != nil {
		return fmt.Errorf("failed to prune session: %w", err)
	}
	return nil
}

// LoadChatID returns the remembered sub-agent chat id for an assistant, empty
// when none was saved. Implements the sub-agent guard's ChatMemory.
func (s *Store) LoadChatID(assistantID string) (string, error) {
	var chatID string
	err := s.db.QueryRow(
		`SELECT chat_id FROM subagent_chats WHERE assistant_id = ?`, assistantID,
	).Scan(&chatID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load chat id: %w", err)
	}
	return chatID, nil
}

// SaveChatID remembers a sub-agent chat id first-writer-wins.
func (s *Store) SaveChatID(assistantID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO subagent_chats (assistant_id, chat_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(assistant_id) DO NOTHING`,
		assistantID, chatID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chat id: %w", err)
	}
	return nil
}

// ForgetChatID drops the remembered chat id, forcing the next sub-agent call
// to open a fresh remote session.
func (s *Store) ForgetChatID(assistantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM subagent_chats WHERE assistant_id = ?`, assistantID); err != nil {
		return fmt.Errorf("failed to forget chat id: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	log.Info().Msg("Session store closed")
	return s.db.Close()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case []tool.Call:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]interface{}:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
