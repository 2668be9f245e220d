package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/internal/errors"
)

// SQLiteStorage persists keys and session history in a SQLite database.
// An empty path opens an in-memory database, which is what tests use.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// NewSQLiteStorage creates a SQLite-backed storage at path.
// Pass an empty path for an in-memory database.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Initialize opens the database and creates the schema.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	dsn := s.path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids table-lock contention under concurrent writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	return nil
}

// SaveString stores a string value.
func (s *SQLiteStorage) SaveString(ctx context.Context, key, value string) error {
	return s.SaveData(ctx, key, []byte(value))
}

// LoadString loads a string value.
func (s *SQLiteStorage) LoadString(ctx context.Context, key string) (string, error) {
	data, err := s.LoadData(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveObject stores a value JSON-encoded.
func (s *SQLiteStorage) SaveObject(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.ValidationError("cannot encode object: "+err.Error(), "value")
	}
	return s.SaveData(ctx, key, data)
}

// LoadObject decodes a stored JSON value into out.
func (s *SQLiteStorage) LoadObject(ctx context.Context, key string, out any) error {
	data, err := s.LoadData(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ValidationError("cannot decode object: "+err.Error(), "value")
	}
	return nil
}

// SaveData upserts raw bytes under key.
func (s *SQLiteStorage) SaveData(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.ValidationError("key cannot be empty", "key")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, data)
	if err != nil {
		return fmt.Errorf("save key %q: %w", key, err)
	}
	return nil
}

// LoadData loads raw bytes.
func (s *SQLiteStorage) LoadData(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("load key %q: %w", key, err)
	}
	return data, nil
}

// Delete removes a key. Unknown keys are a no-op.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a key is present.
func (s *SQLiteStorage) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM kv WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check key %q: %w", key, err)
	}
	return true, nil
}

// ListKeys returns sorted keys with the given prefix (empty prefix = all).
func (s *SQLiteStorage) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, rows.Err()
}

// Clear removes all keys and sessions.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clear kv: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// StoreMessage appends a message to a session's history.
func (s *SQLiteStorage) StoreMessage(ctx context.Context, sessionID string, msg Message) error {
	if sessionID == "" {
		return errors.ValidationError("session id cannot be empty", "session_id")
	}

	var meta []byte
	if msg.Metadata != nil {
		var err error
		meta, err = json.Marshal(msg.Metadata)
		if err != nil {
			return errors.ValidationError("cannot encode metadata: "+err.Error(), "metadata")
		}
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, meta, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("store message for session %q: %w", sessionID, err)
	}
	return nil
}

// RetrieveHistory returns up to limit most-recent messages in order.
// A non-positive limit returns the full history.
func (s *SQLiteStorage) RetrieveHistory(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := `SELECT role, content, metadata, created_at
	          FROM messages WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}
	if limit > 0 {
		// Take the newest limit rows, then restore chronological order.
		query = `SELECT role, content, metadata, created_at FROM (
		           SELECT id, role, content, metadata, created_at
		           FROM messages WHERE session_id = ?
		           ORDER BY id DESC LIMIT ?
		         ) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve history for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg  Message
			meta []byte
			ms   int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &meta, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ms)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteSession removes a session's history.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Verify interface implementation.
var _ Storage = (*SQLiteStorage)(nil)
