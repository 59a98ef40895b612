// Package host defines the boundary between the protocol engine and the
// code-intelligence host it exposes. Tools and resources only ever talk to a
// Project; Workspace is the filesystem-backed implementation.
package host

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIndexNotReady  = errors.New("index is not ready")
	ErrFileNotFound   = errors.New("file not found")
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrConflict       = errors.New("operation conflict")
	ErrNothingToUndo  = errors.New("nothing to undo")
)

// File describes a resolved project file.
type File struct {
	// Path is slash-separated and relative to the project root.
	Path    string    `json:"path"`
	AbsPath string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// WriteTx is the handle passed to a write action. Every file written through
// it becomes part of the action's undo record.
type WriteTx interface {
	ReadFile(rel string) ([]byte, error)
	WriteFile(rel string, data []byte) error
}

// Project is the capability set a tool or resource handler may use.
type Project interface {
	Name() string
	Root() string

	// Ready reports whether the index can serve requests.
	Ready() bool

	ResolveFile(rel string) (File, error)
	ReadFile(rel string) ([]byte, error)

	// ListFiles returns indexed files matching a doublestar pattern, sorted.
	// An empty pattern matches every file.
	ListFiles(pattern string) ([]string, error)

	// ReadAction runs fn excluded from concurrent write actions.
	ReadAction(ctx context.Context, fn func() error) error

	// WriteAction runs fn exclusively and records it as one undoable unit
	// named name. If fn fails, files it wrote are restored. It returns the
	// files that were written.
	WriteAction(ctx context.Context, name string, fn func(tx WriteTx) error) ([]string, error)

	// Undo reverts the most recent write action, returning its name and the
	// files it restored.
	Undo(ctx context.Context) (string, []string, error)

	// Refresh rebuilds the index from disk.
	Refresh(ctx context.Context) error
}
