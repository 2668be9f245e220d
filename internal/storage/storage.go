// Package storage defines the key-value persistence contract the document
// store and session history consume, with in-memory and SQLite backends.
package storage

import (
	"context"
	"time"
)

// Message is one entry of session-scoped conversation history.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Storage is the consumed persistence contract: a string/object/binary
// key-value store plus session-scoped message history.
type Storage interface {
	// Initialize prepares the backend (schema creation, etc.).
	Initialize(ctx context.Context) error

	// String values
	SaveString(ctx context.Context, key, value string) error
	LoadString(ctx context.Context, key string) (string, error)

	// JSON-encoded objects
	SaveObject(ctx context.Context, key string, value any) error
	LoadObject(ctx context.Context, key string, out any) error

	// Raw binary values
	SaveData(ctx context.Context, key string, data []byte) error
	LoadData(ctx context.Context, key string) ([]byte, error)

	// Key management
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error

	// Session-scoped message history
	StoreMessage(ctx context.Context, sessionID string, msg Message) error
	RetrieveHistory(ctx context.Context, sessionID string, limit int) ([]Message, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases resources.
	Close() error
}
