// Package transport serves the dispatcher over HTTP: an SSE stream per
// session with message POSTs routed by session id, a WebSocket transport,
// and a live history feed. Manager owns the listener lifecycle.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/protocol"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"
)

var (
	ErrNotRunning     = errors.New("server is not running")
	ErrAlreadyRunning = errors.New("server is already running")
)

// State is the listener lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const shutdownTimeout = 5 * time.Second

// ServerConfig is where the server listens.
type ServerConfig struct {
	Host string `json:"host"`
	// Port 0 binds an ephemeral port.
	Port         int    `json:"port"`
	EndpointPath string `json:"endpointPath"`
}

// ServerConfigFrom resolves the listening address from settings.
func ServerConfigFrom(s config.Settings) ServerConfig {
	return ServerConfig{
		Host:         s.Host,
		Port:         s.EffectivePort(),
		EndpointPath: s.EndpointPath,
	}
}

func (c ServerConfig) normalized() ServerConfig {
	if c.Host == "" {
		c.Host = config.DefaultHost
	}
	if c.EndpointPath == "" {
		c.EndpointPath = config.DefaultEndpointPath
	}
	if !strings.HasPrefix(c.EndpointPath, "/") {
		c.EndpointPath = "/" + c.EndpointPath
	}
	if len(c.EndpointPath) > 1 {
		c.EndpointPath = strings.TrimRight(c.EndpointPath, "/")
	}
	return c
}

// Status is a snapshot of the listener.
type Status struct {
	State     State        `json:"state"`
	URL       string       `json:"url,omitempty"`
	Config    ServerConfig `json:"config"`
	StartedAt time.Time    `json:"startedAt,omitempty"`
	Sessions  int          `json:"sessions"`
}

// Options are the collaborators of a Manager.
type Options struct {
	Dispatcher *protocol.Dispatcher
	History    *history.Store
	Logger     *logging.Logger
	Telemetry  *telemetry.Instruments
}

// Manager starts, stops and restarts the HTTP listener. Registries, history
// and the dispatcher outlive restarts; sessions do not.
type Manager struct {
	dispatcher *protocol.Dispatcher
	history    *history.Store
	logger     *logging.Logger
	telemetry  *telemetry.Instruments
	sessions   *Sessions

	// mu serializes lifecycle transitions.
	mu     sync.Mutex
	srv    *http.Server
	served chan struct{}

	status atomic.Pointer[Status]
}

// NewManager creates a stopped manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		dispatcher: opts.Dispatcher,
		history:    opts.History,
		logger:     opts.Logger,
		telemetry:  opts.Telemetry,
		sessions:   NewSessions(),
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.NewNoop()
	}
	if m.history == nil && m.dispatcher != nil {
		m.history = m.dispatcher.History()
	}
	m.status.Store(&Status{State: StateStopped})
	return m
}

// Sessions returns the live session registry.
func (m *Manager) Sessions() *Sessions {
	return m.sessions
}

// Status returns the current lifecycle snapshot without locking.
func (m *Manager) Status() Status {
	st := *m.status.Load()
	st.Sessions = m.sessions.Len()
	return st
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.status.Load().State
}

// IsRunning reports whether the listener is serving.
func (m *Manager) IsRunning() bool {
	return m.status.Load().State == StateRunning
}

// ServerURL returns the base endpoint URL, or "" when not running.
func (m *Manager) ServerURL() string {
	st := m.status.Load()
	if st.State != StateRunning {
		return ""
	}
	return st.URL
}

// SSEURL returns the URL clients open the event stream at.
func (m *Manager) SSEURL() string {
	u := m.ServerURL()
	if u == "" {
		return ""
	}
	return strings.TrimSuffix(u, "/") + "/sse"
}

// Start binds cfg and begins serving. A port held elsewhere yields
// *PortInUseError and leaves the manager stopped.
func (m *Manager) Start(ctx context.Context, cfg ServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, cfg)
}

// Stop closes every session and the listener. Stopping a stopped manager
// is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

// Restart stops the listener and starts it on cfg. If cfg cannot be bound
// the manager stays stopped and the error is returned; it never falls back
// to the previous address.
func (m *Manager) Restart(ctx context.Context, cfg ServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(ctx); err != nil {
		m.logger.Warn("stop before restart failed", "error", err)
	}
	return m.startLocked(ctx, cfg)
}

func (m *Manager) startLocked(ctx context.Context, cfg ServerConfig) error {
	if m.srv != nil {
		return ErrAlreadyRunning
	}
	cfg = cfg.normalized()
	m.status.Store(&Status{State: StateStarting, Config: cfg})

	fail := func(err error) error {
		m.status.Store(&Status{State: StateStopped, Config: cfg})
		if IsPortInUse(err) {
			m.logger.Warn("port in use", "host", cfg.Host, "port", cfg.Port)
		} else {
			m.logger.Error("failed to start server", "error", err)
		}
		return err
	}

	// The exact port is probed first so a conflict is reported as its own
	// outcome rather than as whatever the real listen returns.
	if cfg.Port != 0 {
		if err := ProbePort(cfg.Host, cfg.Port); err != nil {
			return fail(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return fail(classifyListenError(cfg.Host, cfg.Port, err))
	}

	srv := &http.Server{
		Handler:           addSecurityHeaders(m.routes(cfg.EndpointPath)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("server stopped unexpectedly", "error", err)
		}
	}()
	m.srv, m.served = srv, served

	port := ln.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), cfg.EndpointPath)
	m.status.Store(&Status{State: StateRunning, URL: url, Config: cfg, StartedAt: time.Now()})
	m.logger.Info("server started", "url", url)
	return nil
}

func (m *Manager) stopLocked(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	prev := m.status.Load()
	m.status.Store(&Status{State: StateStopping, URL: prev.URL, Config: prev.Config, StartedAt: prev.StartedAt})

	closed := m.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	err := m.srv.Shutdown(shutdownCtx)
	if err != nil {
		err = errors.Join(err, m.srv.Close())
	}
	<-m.served

	m.srv, m.served = nil, nil
	m.status.Store(&Status{State: StateStopped, Config: prev.Config})
	m.logger.Info("server stopped", "sessions_closed", closed)
	return err
}

func (m *Manager) routes(base string) http.Handler {
	sub := strings.TrimSuffix(base, "/")
	exact := base
	if base == "/" {
		exact = "/{$}"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+sub+"/sse", m.handleSSE(base))
	mux.HandleFunc("POST "+exact, m.handleMessage)
	mux.HandleFunc("GET "+sub+"/ws", m.handleWebSocket)
	mux.HandleFunc("GET "+sub+"/history/ws", m.handleHistoryFeed)
	mux.HandleFunc("GET "+sub+"/health", m.handleHealth)
	return mux
}

// addSecurityHeaders wraps a handler to add security headers
func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": m.sessions.Len(),
	})
}

func (m *Manager) openSession(ctx context.Context, s *Session) {
	m.sessions.Add(s)
	m.telemetry.SessionOpened(ctx, s.Transport)
	m.logger.Info("session opened", "session", s.ID, "transport", s.Transport, "remote", s.RemoteAddr)
}

func (m *Manager) closeSession(ctx context.Context, s *Session) {
	m.sessions.Remove(s.ID)
	s.Close()
	m.telemetry.SessionClosed(ctx, s.Transport)
	m.logger.Info("session closed", "session", s.ID, "transport", s.Transport)
}
