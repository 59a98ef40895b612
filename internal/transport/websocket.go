package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/protocol"
)

// historyFeedBuffer is how many events a slow history subscriber may lag
// behind before events are dropped for it.
const historyFeedBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin accepts non-browser clients and pages served from loopback.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// handleWebSocket serves JSON-RPC over a WebSocket. Every text frame is one
// body; replies go back on the same socket in completion order.
func (m *Manager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(TransportWebSocket, r.RemoteAddr, func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}, func() { conn.Close() })

	ctx := context.WithoutCancel(r.Context())
	m.openSession(ctx, session)
	defer m.closeSession(ctx, session)

	dispatchCtx := protocol.ContextWithSession(ctx, session.ID)
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket error", "session", session.ID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		go m.dispatchTo(dispatchCtx, session, message)
	}
}

// historyMessage is one frame of the history feed.
type historyMessage struct {
	Type    string          `json:"type"`
	Entry   *history.Entry  `json:"entry,omitempty"`
	Entries []history.Entry `json:"entries,omitempty"`
}

// handleHistoryFeed streams history events. The first frame is a snapshot
// of the current entries, most recent first.
func (m *Manager) handleHistoryFeed(w http.ResponseWriter, r *http.Request) {
	if m.history == nil {
		http.Error(w, "history unavailable", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(TransportHistory, r.RemoteAddr, func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}, func() { conn.Close() })

	ctx := context.WithoutCancel(r.Context())
	m.openSession(ctx, session)
	defer m.closeSession(ctx, session)

	// Listeners run synchronously inside history mutations, so events are
	// handed to a writer goroutine instead of written from the callback.
	events := make(chan history.Event, historyFeedBuffer)
	remove := m.history.AddListener(history.ListenerFunc(func(ev history.Event) {
		select {
		case events <- ev:
		default:
			m.logger.Warn("history feed lagging, event dropped", "session", session.ID, "event", string(ev.Type))
		}
	}))
	defer remove()

	if err := session.SendJSON(historyMessage{Type: "snapshot", Entries: m.history.Entries()}); err != nil {
		return
	}

	go func() {
		for {
			select {
			case <-session.Done():
				return
			case ev := <-events:
				msg := historyMessage{Type: string(ev.Type)}
				if ev.Entry.ID != "" {
					entry := ev.Entry
					msg.Entry = &entry
				}
				if err := session.SendJSON(msg); err != nil {
					return
				}
			}
		}
	}()

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
