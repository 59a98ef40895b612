package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ChangeFunc is called after settings are replaced.
type ChangeFunc func(old, updated Settings)

// Manager publishes the current Settings snapshot. Readers never block;
// writers are serialized and listeners run on the writer's goroutine.
type Manager struct {
	current atomic.Pointer[Settings]

	mu        sync.Mutex
	listeners []ChangeFunc
	path      string
}

// NewManager creates a manager holding the normalized form of s. path is
// where Save writes; empty means Save uses the default location.
func NewManager(s Settings, path string) *Manager {
	m := &Manager{path: path}
	n := s.Normalize()
	m.current.Store(&n)
	return m
}

// Current returns the active settings snapshot.
func (m *Manager) Current() Settings {
	return *m.current.Load()
}

// OnChange registers fn to run after every Update.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Update applies mutate to a copy of the current settings, validates and
// normalizes it, publishes it, and notifies listeners.
func (m *Manager) Update(mutate func(*Settings)) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := *m.current.Load()
	next := old
	next.DisabledTools = append([]string(nil), old.DisabledTools...)
	mutate(&next)

	if err := next.Validate(); err != nil {
		return old, err
	}
	next = next.Normalize()
	m.current.Store(&next)

	for _, fn := range m.listeners {
		fn(old, next)
	}
	return next, nil
}

// SetToolEnabled enables or disables a tool by name.
func (m *Manager) SetToolEnabled(name string, enabled bool) (Settings, error) {
	return m.Update(func(s *Settings) {
		kept := s.DisabledTools[:0]
		for _, n := range s.DisabledTools {
			if n != name {
				kept = append(kept, n)
			}
		}
		if !enabled {
			kept = append(kept, name)
		}
		s.DisabledTools = kept
	})
}

// Path returns the file Save writes to.
func (m *Manager) Path() string {
	if m.path != "" {
		return m.path
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Save writes the current settings as YAML.
func (m *Manager) Save() error {
	s := m.Current()
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	path := m.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
