package history

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of an Entry.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// ParseStatus maps a case-insensitive status name; ok is false for unknown names.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusSuccess:
		return StatusSuccess, true
	case StatusError:
		return StatusError, true
	}
	return "", false
}

// Entry records one tool invocation. Entries are values; the store replaces
// an entry wholesale when it completes.
type Entry struct {
	ID            string          `json:"id"`
	ToolName      string          `json:"toolName"`
	Parameters    json.RawMessage `json:"parameters"`
	Status        Status          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	DurationMs    *int64          `json:"durationMs,omitempty"`
	Result        string          `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	AffectedFiles []string        `json:"affectedFiles,omitempty"`

	seq uint64
}

// Completion is the terminal outcome passed to Store.Complete.
type Completion struct {
	Status        Status
	Result        string
	Error         string
	Duration      time.Duration
	AffectedFiles []string
}

// Filter is a conjunction of optional predicates; zero fields match anything.
type Filter struct {
	ToolName   string
	Status     Status
	SearchText string
}

func (f Filter) matches(e Entry) bool {
	if f.ToolName != "" && e.ToolName != f.ToolName {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.SearchText == "" {
		return true
	}
	needle := strings.ToLower(f.SearchText)
	for _, hay := range []string{e.ToolName, string(e.Parameters), e.Result, e.Error} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// EventType names a store mutation.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventEvicted EventType = "evicted"
	EventCleared EventType = "cleared"
	EventLoaded  EventType = "loaded"
)

// Event is delivered to listeners after a mutation. Entry is zero for
// cleared and loaded events.
type Event struct {
	Type  EventType `json:"type"`
	Entry Entry     `json:"entry"`
}

// Listener receives store events. Implementations must not mutate the store
// from OnHistoryEvent; reads are allowed.
type Listener interface {
	OnHistoryEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnHistoryEvent(e Event) { f(e) }

// compactParams returns a private copy of params with insignificant
// whitespace removed, so the stored text is identical before and after a
// round trip through any encoder. Missing or null params become "{}".
func compactParams(params json.RawMessage) json.RawMessage {
	if len(params) == 0 || string(params) == "null" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, params); err != nil {
		return append(json.RawMessage(nil), params...)
	}
	return json.RawMessage(buf.Bytes())
}
