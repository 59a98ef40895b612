package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
)

// FileStorage implements Storage using a single JSON file
type FileStorage struct {
	path string
	mu   sync.RWMutex
}

type historyFile struct {
	SavedAt time.Time       `json:"saved_at"`
	Entries []history.Entry `json:"entries"`
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(path string) (*FileStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FileStorage{path: path}, nil
}

// SaveHistory writes entries to a temp file and renames it into place
func (s *FileStorage) SaveHistory(ctx context.Context, entries []history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries == nil {
		entries = []history.Entry{}
	}
	data, err := json.Marshal(historyFile{SavedAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	return nil
}

// LoadHistory reads the history file; a missing file is an empty history
func (s *FileStorage) LoadHistory(ctx context.Context) ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}

	return f.Entries, nil
}

// Close closes the storage (no-op for file storage)
func (s *FileStorage) Close() error {
	return nil
}
