package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const maxUndo = 50

// DefaultIgnore lists directory names never indexed.
var DefaultIgnore = []string{".git", ".hg", ".svn", ".idea", "node_modules", ".gradle"}

// Workspace is a Project backed by a directory on disk. The index is the
// sorted list of regular files below the root, minus ignored directories.
type Workspace struct {
	root   string
	name   string
	ignore []string

	// mu excludes read actions from write actions and guards undo.
	mu   sync.RWMutex
	undo []undoRecord

	indexMu   sync.RWMutex
	files     []string
	indexedAt time.Time
	ready     atomic.Bool

	refreshMu sync.Mutex
}

type snapshot struct {
	data    []byte
	existed bool
}

type undoRecord struct {
	name  string
	prior map[string]snapshot
	order []string
}

// NewWorkspace creates a workspace rooted at dir. It is not ready until the
// first Refresh completes. ignore replaces DefaultIgnore when non-empty;
// entries are doublestar patterns matched against directory base names.
func NewWorkspace(dir string, ignore ...string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	if len(ignore) == 0 {
		ignore = DefaultIgnore
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return &Workspace{
		root:   abs,
		name:   filepath.Base(abs),
		ignore: ignore,
	}, nil
}

func (w *Workspace) Name() string { return w.name }
func (w *Workspace) Root() string { return w.root }
func (w *Workspace) Ready() bool  { return w.ready.Load() }

// IndexedAt returns when the index was last rebuilt.
func (w *Workspace) IndexedAt() time.Time {
	w.indexMu.RLock()
	defer w.indexMu.RUnlock()
	return w.indexedAt
}

// Refresh walks the root and swaps in a new index. Only the first refresh
// changes readiness; later ones replace the index atomically.
func (w *Workspace) Refresh(ctx context.Context) error {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	var files []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != w.root && w.ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", w.root, err)
	}
	sort.Strings(files)

	w.indexMu.Lock()
	w.files = files
	w.indexedAt = time.Now()
	w.indexMu.Unlock()

	w.ready.Store(true)
	return nil
}

func (w *Workspace) ignored(name string) bool {
	for _, p := range w.ignore {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// ListFiles returns indexed files matching pattern.
func (w *Workspace) ListFiles(pattern string) ([]string, error) {
	if !w.Ready() {
		return nil, ErrIndexNotReady
	}
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
	}

	w.indexMu.RLock()
	defer w.indexMu.RUnlock()

	out := make([]string, 0, len(w.files))
	for _, f := range w.files {
		if pattern == "" {
			out = append(out, f)
			continue
		}
		if ok, _ := doublestar.Match(pattern, f); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// resolve maps a project-relative (or absolute, inside the root) path to its
// absolute form and its cleaned relative form.
func (w *Workspace) resolve(rel string) (string, string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrFileNotFound)
	}
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(w.root, rel)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", ErrFileNotFound, rel)
		}
		rel = r
	}
	clean := path.Clean(filepath.ToSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", "", fmt.Errorf("%w: %s is outside the project", ErrFileNotFound, rel)
	}
	return filepath.Join(w.root, filepath.FromSlash(clean)), clean, nil
}

// ResolveFile stats a project file.
func (w *Workspace) ResolveFile(rel string) (File, error) {
	abs, clean, err := w.resolve(rel)
	if err != nil {
		return File{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, clean)
		}
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, clean)
	}
	return File{Path: clean, AbsPath: abs, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// ReadFile reads a project file. Callers that need isolation from writes
// call it inside ReadAction.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	f, err := w.ResolveFile(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return data, nil
}

func (w *Workspace) ReadAction(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.Ready() {
		return ErrIndexNotReady
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return fn()
}

func (w *Workspace) WriteAction(ctx context.Context, name string, fn func(tx WriteTx) error) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !w.Ready() {
		return nil, ErrIndexNotReady
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tx := &writeTx{w: w, prior: make(map[string]snapshot)}
	if err := fn(tx); err != nil {
		if rbErr := w.restore(tx.prior, tx.order); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return nil, err
	}
	if len(tx.order) == 0 {
		return nil, nil
	}

	w.undo = append(w.undo, undoRecord{name: name, prior: tx.prior, order: tx.order})
	if len(w.undo) > maxUndo {
		w.undo = w.undo[len(w.undo)-maxUndo:]
	}
	w.addToIndex(tx.order)

	affected := append([]string(nil), tx.order...)
	sort.Strings(affected)
	return affected, nil
}

func (w *Workspace) Undo(ctx context.Context) (string, []string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if !w.Ready() {
		return "", nil, ErrIndexNotReady
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.undo) == 0 {
		return "", nil, ErrNothingToUndo
	}
	rec := w.undo[len(w.undo)-1]
	w.undo = w.undo[:len(w.undo)-1]

	if err := w.restore(rec.prior, rec.order); err != nil {
		return "", nil, fmt.Errorf("failed to undo %s: %w", rec.name, err)
	}

	files := append([]string(nil), rec.order...)
	sort.Strings(files)
	return rec.name, files, nil
}

// UndoDepth returns the number of write actions that can be undone.
func (w *Workspace) UndoDepth() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.undo)
}

// restore writes back prior contents and deletes files that did not exist.
// Must be called with mu held for writing.
func (w *Workspace) restore(prior map[string]snapshot, order []string) error {
	var errs []error
	var removed []string
	for i := len(order) - 1; i >= 0; i-- {
		rel := order[i]
		abs := filepath.Join(w.root, filepath.FromSlash(rel))
		snap := prior[rel]
		if snap.existed {
			if err := os.WriteFile(abs, snap.data, 0644); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, rel)
	}
	w.removeFromIndex(removed)
	return errors.Join(errs...)
}

func (w *Workspace) addToIndex(paths []string) {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	for _, p := range paths {
		i := sort.SearchStrings(w.files, p)
		if i < len(w.files) && w.files[i] == p {
			continue
		}
		w.files = append(w.files, "")
		copy(w.files[i+1:], w.files[i:])
		w.files[i] = p
	}
}

func (w *Workspace) removeFromIndex(paths []string) {
	if len(paths) == 0 {
		return
	}
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	for _, p := range paths {
		i := sort.SearchStrings(w.files, p)
		if i < len(w.files) && w.files[i] == p {
			w.files = append(w.files[:i], w.files[i+1:]...)
		}
	}
}

type writeTx struct {
	w     *Workspace
	prior map[string]snapshot
	order []string
}

func (tx *writeTx) ReadFile(rel string) ([]byte, error) {
	return tx.w.ReadFile(rel)
}

func (tx *writeTx) WriteFile(rel string, data []byte) error {
	abs, clean, err := tx.w.resolve(rel)
	if err != nil {
		return err
	}

	if _, seen := tx.prior[clean]; !seen {
		old, err := os.ReadFile(abs)
		switch {
		case err == nil:
			tx.prior[clean] = snapshot{data: old, existed: true}
		case errors.Is(err, fs.ErrNotExist):
			tx.prior[clean] = snapshot{}
		default:
			return fmt.Errorf("failed to snapshot %s: %w", clean, err)
		}
		tx.order = append(tx.order, clean)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", clean, err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", clean, err)
	}
	return nil
}
