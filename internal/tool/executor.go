package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
)

// ErrToolNotFound is returned for unknown and disabled tools alike.
var ErrToolNotFound = errors.New("tool not found")

// PanicError is returned by Run when a tool panics.
type PanicError struct {
	Tool  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

// Executor resolves tools through the registry, honoring the enabled
// predicate, and runs them with panic containment.
type Executor struct {
	registry *Registry
	enabled  func(name string) bool
}

// NewExecutor creates a new tool executor. A nil enabled accepts every tool.
func NewExecutor(registry *Registry, enabled func(name string) bool) *Executor {
	return &Executor{
		registry: registry,
		enabled:  enabled,
	}
}

// Lookup returns the named tool if it is registered and enabled.
func (e *Executor) Lookup(name string) (Tool, bool) {
	t, ok := e.registry.Get(name)
	if !ok {
		return nil, false
	}
	if e.enabled != nil && !e.enabled(name) {
		return nil, false
	}
	return t, true
}

// Execute looks the tool up and runs it.
func (e *Executor) Execute(ctx context.Context, name string, project host.Project, args json.RawMessage) (Result, error) {
	t, ok := e.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return Run(ctx, t, project, args)
}

// Run executes t, converting a panic into a *PanicError. No registry lock is
// held while the tool runs.
func Run(ctx context.Context, t Tool, project host.Project, args json.RawMessage) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = &PanicError{Tool: t.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Execute(ctx, project, args)
}
