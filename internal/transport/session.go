package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned when writing to a session whose connection
// has gone away. Responses for such sessions are dropped.
var ErrSessionClosed = errors.New("session closed")

// Session transports
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportHistory   = "history"
)

// Session is one live client connection.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Transport  string    `json:"transport"`
	RemoteAddr string    `json:"remoteAddr"`

	mu      sync.Mutex
	closed  bool
	send    func(data []byte) error
	onClose func()

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(transport, remoteAddr string, send func([]byte) error, onClose func()) *Session {
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now(),
		Transport:  transport,
		RemoteAddr: remoteAddr,
		send:       send,
		onClose:    onClose,
		done:       make(chan struct{}),
	}
}

// Send writes one message to the session's outbound stream. Writes are
// serialized per session.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.send(data); err != nil {
		return fmt.Errorf("write to session %s: %w", s.ID, err)
	}
	return nil
}

// SendJSON encodes v and sends it.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return s.Send(data)
}

// Close marks the session closed and releases its connection. It waits for
// an in-flight Send to finish and is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Sessions is the registry of live sessions.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Add registers s.
func (r *Sessions) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Remove unregisters the session with id, returning it if it was present.
func (r *Sessions) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Get returns the session with id.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns the live sessions, oldest first.
func (r *Sessions) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and unregisters every session.
func (r *Sessions) CloseAll() int {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		list = append(list, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.Close()
	}
	return len(list)
}
