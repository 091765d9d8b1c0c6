// Package storage defines the durable client-side key/value storage the
// redirect handoff and the connection data vault are built on.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("key not found")

// KeyValueStore is a small durable map of byte values. It survives process
// restarts for every backend except memory.
type KeyValueStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any prior value.
	Set(ctx context.Context, key string, value []byte) error

	// Take returns the value stored under key and removes it in one step.
	// Of several concurrent Takes for the same value at most one succeeds;
	// the others get ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// Type selects a storage backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeSQLite Type = "sqlite"
)

// Config describes the configured backend. Path is a directory for the file
// backend and a database path or DSN for sqlite.
type Config struct {
	Type Type   `koanf:"type"`
	Path string `koanf:"path"`
}
