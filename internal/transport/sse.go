package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/protocol"
)

const (
	maxPostBodySize   = 4 << 20
	keepAliveInterval = 15 * time.Second
)

// formatSSEEvent formats data as an SSE event
func formatSSEEvent(event, data string) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")

	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	return b.String()
}

// handleSSE opens an event stream, mints a session and tells the client
// where to POST its requests.
func (m *Manager) handleSSE(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		write := func(chunk string) error {
			if _, err := io.WriteString(w, chunk); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		session := newSession(TransportSSE, r.RemoteAddr, func(data []byte) error {
			return write(formatSSEEvent("message", string(data)))
		}, nil)

		ctx := r.Context()
		m.openSession(ctx, session)
		defer m.closeSession(context.WithoutCancel(ctx), session)

		// The session is already routable, so a fast client may POST before
		// this event is flushed; the write shares the session lock with Send.
		endpoint := base + "?sessionId=" + url.QueryEscape(session.ID)
		if err := writeLocked(session, write, formatSSEEvent("endpoint", endpoint)); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.Done():
				return
			case <-ticker.C:
				if err := writeLocked(session, write, ": keep-alive\n\n"); err != nil {
					return
				}
			}
		}
	}
}

// writeLocked writes a raw chunk to the stream under the session's write
// lock so it never interleaves with a response pushed by Send.
func writeLocked(s *Session, write func(string) error, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return write(chunk)
}

// handleMessage accepts one JSON-RPC body. With a sessionId the reply is
// pushed onto that session's stream and the POST is answered 202; without
// one the reply is returned in the HTTP body.
func (m *Manager) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPostBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, mcp.NewErrorResponse(nil, mcp.NewError(mcp.CodeParseError, "Read error: "+err.Error())))
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		reply := m.dispatcher.Dispatch(r.Context(), body)
		if reply.Empty() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusOK, reply)
		return
	}

	// Only SSE sessions take POSTed messages; WebSocket and history-feed
	// sessions have their own channels.
	session, ok := m.sessions.Get(sessionID)
	if !ok || session.Transport != TransportSSE {
		http.Error(w, fmt.Sprintf("session %s not found", sessionID), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// The dispatch outlives the POST; a client disconnect does not cancel
	// the tool call, it only drops the response.
	ctx := protocol.ContextWithSession(context.WithoutCancel(r.Context()), session.ID)
	go m.dispatchTo(ctx, session, body)
}

func (m *Manager) dispatchTo(ctx context.Context, session *Session, body []byte) {
	reply := m.dispatcher.Dispatch(ctx, body)
	if reply.Empty() {
		return
	}
	if err := session.SendJSON(reply); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			m.logger.Debug("dropping response for closed session", "session", session.ID)
			return
		}
		m.logger.Warn("failed to deliver response", "session", session.ID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
