package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/loomworks/loom/internal/errors"
)

// MemoryStorage is an in-process Storage backend.
// Values are copied on write and read so callers never alias internal state.
type MemoryStorage struct {
	mu       sync.RWMutex
	values   map[string][]byte
	sessions map[string][]Message
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:   make(map[string][]byte),
		sessions: make(map[string][]Message),
	}
}

// Initialize is a no-op for the in-memory backend.
func (s *MemoryStorage) Initialize(ctx context.Context) error {
	return nil
}

// SaveString stores a string value.
func (s *MemoryStorage) SaveString(ctx context.Context, key, value string) error {
	return s.SaveData(ctx, key, []byte(value))
}

// LoadString loads a string value.
func (s *MemoryStorage) LoadString(ctx context.Context, key string) (string, error) {
	data, err := s.LoadData(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveObject stores a value JSON-encoded.
func (s *MemoryStorage) SaveObject(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.ValidationError("cannot encode object: "+err.Error(), "value")
	}
	return s.SaveData(ctx, key, data)
}

// LoadObject decodes a stored JSON value into out.
func (s *MemoryStorage) LoadObject(ctx context.Context, key string, out any) error {
	data, err := s.LoadData(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ValidationError("cannot decode object: "+err.Error(), "value")
	}
	return nil
}

// SaveData stores raw bytes.
func (s *MemoryStorage) SaveData(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.ValidationError("key cannot be empty", "key")
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = cp
	return nil
}

// LoadData loads raw bytes.
func (s *MemoryStorage) LoadData(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.values[key]
	if !ok {
		return nil, errors.NotFoundError("key", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes a key. Unknown keys are a no-op.
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Exists reports whether a key is present.
func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok, nil
}

// ListKeys returns sorted keys with the given prefix (empty prefix = all).
func (s *MemoryStorage) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes all keys and sessions.
func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string][]byte)
	s.sessions = make(map[string][]Message)
	return nil
}

// StoreMessage appends a message to a session's history.
func (s *MemoryStorage) StoreMessage(ctx context.Context, sessionID string, msg Message) error {
	if sessionID == "" {
		return errors.ValidationError("session id cannot be empty", "session_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

// RetrieveHistory returns up to limit most-recent messages in order.
// A non-positive limit returns the full history.
func (s *MemoryStorage) RetrieveHistory(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

// DeleteSession removes a session's history.
func (s *MemoryStorage) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStorage) Close() error {
	return nil
}

// Verify interface implementation.
var _ Storage = (*MemoryStorage)(nil)
