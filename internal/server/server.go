// Package server composes the registries, history, dispatcher and transport
// into one running instance. Nothing in the engine is reached through
// package-level state; every collaborator is owned here.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/protocol"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/resource"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/storage"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool/tools"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/transport"
)

// Name is reported as serverInfo.name.
const Name = "index-mcp"

// Options configure New. Only Settings is required.
type Options struct {
	Settings *config.Manager

	// Project defaults to a Workspace rooted at the configured project root.
	Project host.Project
	// Storage defaults to the configured history store. Set it to share one
	// storage between servers or to inject a fake.
	Storage storage.Storage

	Logger    *logging.Logger
	Telemetry *telemetry.Instruments
	Version   string
}

// Server owns every long-lived component.
type Server struct {
	settings   *config.Manager
	logger     *logging.Logger
	tools      *tool.Registry
	resources  *resource.Registry
	history    *history.Store
	storage    storage.Storage
	project    host.Project
	dispatcher *protocol.Dispatcher
	transport  *transport.Manager

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a server from opts, restoring persisted history. It does not
// start listening.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Settings == nil {
		return nil, errors.New("server: settings manager is required")
	}
	current := opts.Settings.Current()

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	inst := opts.Telemetry
	if inst == nil {
		inst = telemetry.NewNoop()
	}

	project := opts.Project
	if project == nil {
		ws, err := host.NewWorkspace(current.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open project: %w", err)
		}
		project = ws
	}

	store := opts.Storage
	if store == nil {
		var err error
		store, err = storage.Open(ctx, current.HistoryStore, current.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history storage: %w", err)
		}
	}

	s := &Server{
		settings:  opts.Settings,
		logger:    logger,
		tools:     tool.NewRegistry(),
		resources: resource.NewRegistry(),
		history:   history.New(current.HistoryCapacity, logger.WithComponent("history")),
		storage:   store,
		project:   project,
	}
	tools.RegisterBuiltins(s.tools)
	resource.RegisterBuiltins(s.resources)

	if store != nil {
		entries, err := store.LoadHistory(ctx)
		if err != nil {
			logger.Warn("failed to load history", "error", err)
		} else if len(entries) > 0 {
			s.history.Load(entries)
			logger.Info("history restored", "entries", s.history.Len())
		}
	}

	s.dispatcher = protocol.New(protocol.Options{
		Tools:      s.tools,
		Resources:  s.resources,
		History:    s.history,
		Project:    project,
		Settings:   opts.Settings.Current,
		Logger:     logger.WithComponent("dispatch"),
		Telemetry:  inst,
		ServerName: Name,
		Version:    opts.Version,
	})
	s.transport = transport.NewManager(transport.Options{
		Dispatcher: s.dispatcher,
		History:    s.history,
		Logger:     logger.WithComponent("transport"),
		Telemetry:  inst,
	})

	opts.Settings.OnChange(s.applySettings)
	return s, nil
}

// Start indexes the project in the background and starts listening. The
// index is not ready until that first refresh completes.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.project.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("initial indexing failed", "root", s.project.Root(), "error", err)
			return
		}
		s.logger.Info("project indexed", "root", s.project.Root())
	}()
	return s.transport.Start(ctx, transport.ServerConfigFrom(s.settings.Current()))
}

// Shutdown stops the transport, persists history and closes storage. Only
// the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		var errs []error
		if err := s.transport.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop transport: %w", err))
		}
		if err := s.SaveHistory(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.storage != nil {
			if err := s.storage.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close storage: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// SaveHistory writes the current history to storage, if one is configured.
func (s *Server) SaveHistory(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.SaveHistory(ctx, s.history.Entries()); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// applySettings reacts to runtime settings changes. Disabled tools need no
// action here since the dispatcher reads them per request.
func (s *Server) applySettings(old, updated config.Settings) {
	if old.HistoryCapacity != updated.HistoryCapacity {
		s.history.SetCapacity(updated.HistoryCapacity)
		s.logger.Info("history capacity changed", "capacity", updated.HistoryCapacity)
	}
	if old.LogLevel != updated.LogLevel {
		s.logger.SetLevel(logging.ParseLevel(updated.LogLevel))
	}
	if old.LogFormat != updated.LogFormat {
		s.logger.SetFormat(logging.ParseFormat(updated.LogFormat))
	}

	if config.ListenChanged(old, updated) && s.transport.State() != transport.StateStopped {
		cfg := transport.ServerConfigFrom(updated)
		if err := s.transport.Restart(context.Background(), cfg); err != nil {
			s.logger.Warn("restart after settings change failed", "port", cfg.Port, "error", err)
		}
	}
}

func (s *Server) Settings() *config.Manager { return s.settings }
func (s *Server) Tools() *tool.Registry { return s.tools }
func (s *Server) Resources() *resource.Registry { return s.resources }
func (s *Server) History() *history.Store { return s.history }
func (s *Server) Project() host.Project { return s.project }
func (s *Server) Dispatcher() *protocol.Dispatcher { return s.dispatcher }
func (s *Server) Transport() *transport.Manager { return s.transport }
