// Package history keeps a bounded, most-recent-first log of tool
// invocations and fans mutations out to listeners.
package history

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
)

// ErrorInterrupted is the error recorded for entries restored while still
// pending.
const ErrorInterrupted = "interrupted before completion"

// Store is safe for concurrent use.
//
// Entries are held oldest-first internally so inserting and evicting are
// amortized O(1); ids map to a monotonically increasing sequence number,
// which gives O(1) lookup of an entry's position.
type Store struct {
	// notifyMu serializes mutation plus delivery so listeners observe events
	// in mutation order.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	entries  []Entry
	index    map[string]uint64
	nextSeq  uint64
	capacity int

	lmu       sync.RWMutex
	listeners []listenerSlot
	nextLID   int

	logger *logging.Logger
	now    func() time.Time
}

type listenerSlot struct {
	id int
	l  Listener
}

// New creates a store holding at most capacity entries (minimum 1).
func New(capacity int, logger *logging.Logger) *Store {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{
		index:    make(map[string]uint64),
		capacity: capacity,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Begin records a PENDING invocation of toolName and returns its id.
func (s *Store) Begin(toolName string, params json.RawMessage) string {
	e := Entry{
		ID:         newID(),
		ToolName:   toolName,
		Parameters: compactParams(params),
		Status:     StatusPending,
		Timestamp:  s.now(),
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	e.seq = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, e)
	s.index[e.ID] = e.seq
	evicted := s.trimLocked()
	s.mu.Unlock()

	s.deliver(Event{Type: EventAdded, Entry: e})
	for _, old := range evicted {
		s.deliver(Event{Type: EventEvicted, Entry: old})
	}
	return e.ID
}

// Complete moves a PENDING entry to its terminal state, keeping its
// position. It reports false without notifying when the entry is unknown,
// already evicted, or already completed.
func (s *Store) Complete(id string, c Completion) bool {
	if c.Status != StatusSuccess && c.Status != StatusError {
		c.Status = StatusError
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	pos, ok := s.positionLocked(id)
	if !ok || s.entries[pos].Status != StatusPending {
		s.mu.Unlock()
		return false
	}
	e := s.entries[pos]
	ms := c.Duration.Milliseconds()
	e.Status = c.Status
	e.DurationMs = &ms
	e.Result = c.Result
	e.Error = c.Error
	if len(c.AffectedFiles) > 0 {
		e.AffectedFiles = append([]string(nil), c.AffectedFiles...)
	}
	s.entries[pos] = e
	s.mu.Unlock()

	s.deliver(Event{Type: EventUpdated, Entry: e})
	return true
}

func (s *Store) positionLocked(id string) (int, bool) {
	seq, ok := s.index[id]
	if !ok || len(s.entries) == 0 {
		return 0, false
	}
	pos := int(seq - s.entries[0].seq)
	if pos < 0 || pos >= len(s.entries) {
		return 0, false
	}
	return pos, true
}

// trimLocked evicts the oldest entries beyond capacity and returns them.
func (s *Store) trimLocked() []Entry {
	over := len(s.entries) - s.capacity
	if over <= 0 {
		return nil
	}
	evicted := make([]Entry, over)
	copy(evicted, s.entries[:over])
	for i, e := range evicted {
		delete(s.index, e.ID)
		s.entries[i] = Entry{}
	}
	// the dead prefix is dropped the next time append reallocates
	s.entries = s.entries[over:]
	return evicted
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positionLocked(id)
	if !ok {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// Entries returns every entry, most recent first.
func (s *Store) Entries() []Entry {
	return s.Query(Filter{})
}

// Query returns the entries matching f, most recent first.
func (s *Store) Query(f Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.matches(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// SetCapacity changes the bound, evicting the oldest surplus immediately.
func (s *Store) SetCapacity(n int) {
	if n < 1 {
		n = 1
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.capacity = n
	evicted := s.trimLocked()
	s.mu.Unlock()

	for _, old := range evicted {
		s.deliver(Event{Type: EventEvicted, Entry: old})
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.entries = nil
	s.index = make(map[string]uint64)
	s.mu.Unlock()

	s.deliver(Event{Type: EventCleared})
}

// Load replaces the contents with entries given most recent first, as
// produced by Entries. Entries beyond capacity are dropped and entries still
// PENDING are marked ERROR since they can no longer complete.
func (s *Store) Load(entries []Entry) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	n := len(entries)
	if n > s.capacity {
		n = s.capacity
	}
	loaded := make([]Entry, 0, s.capacity)
	index := make(map[string]uint64, n)
	for i := n - 1; i >= 0; i-- {
		e := entries[i]
		if e.ID == "" {
			e.ID = newID()
		}
		if _, dup := index[e.ID]; dup {
			continue
		}
		if e.Status == StatusPending || e.Status == "" {
			e.Status = StatusError
			e.Error = ErrorInterrupted
		}
		e.Parameters = compactParams(e.Parameters)
		e.seq = s.nextSeq
		s.nextSeq++
		index[e.ID] = e.seq
		loaded = append(loaded, e)
	}
	s.entries = loaded
	s.index = index
	s.mu.Unlock()

	s.deliver(Event{Type: EventLoaded})
}

// AddListener registers l and returns a function that removes it.
func (s *Store) AddListener(l Listener) (remove func()) {
	s.lmu.Lock()
	id := s.nextLID
	s.nextLID++
	s.listeners = append(s.listeners, listenerSlot{id: id, l: l})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, slot := range s.listeners {
				if slot.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// deliver runs every listener in registration order. Must be called with
// notifyMu held and mu released.
func (s *Store) deliver(ev Event) {
	s.lmu.RLock()
	slots := make([]listenerSlot, len(s.listeners))
	copy(slots, s.listeners)
	s.lmu.RUnlock()

	for _, slot := range slots {
		s.safeNotify(slot.l, ev)
	}
}

func (s *Store) safeNotify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("history listener panicked",
				"event", string(ev.Type),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	l.OnHistoryEvent(ev)
}
