// Package storage persists command history between server runs.
package storage

import (
	"context"
	"fmt"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
)

// Backend names accepted by Open.
const (
	KindNone   = "none"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Storage defines the interface for history persistence
type Storage interface {
	// SaveHistory replaces the stored history with entries, most recent first
	SaveHistory(ctx context.Context, entries []history.Entry) error

	// LoadHistory returns the stored history, most recent first
	LoadHistory(ctx context.Context) ([]history.Entry, error)

	// Close closes the storage
	Close() error
}

// Open creates the backend named kind at path. KindNone (or "") returns a
// nil Storage and no error.
func Open(ctx context.Context, kind, path string) (Storage, error) {
	switch kind {
	case "", KindNone:
		return nil, nil
	case KindFile:
		return NewFileStorage(path)
	case KindSQLite:
		return NewSQLiteStorage(ctx, path)
	default:
		return nil, fmt.Errorf("unknown history store %q", kind)
	}
}
