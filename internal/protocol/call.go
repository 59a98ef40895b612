package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

// maxHistoryText bounds the result or error text kept per history entry.
const maxHistoryText = 16 << 10

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	var params mcp.CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcp.NewError(mcp.CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}
	if params.Name == "" {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "Invalid params: missing required parameter: name")
	}

	settings := d.settings()
	executor := tool.NewExecutor(d.tools, settings.IsToolEnabled)
	t, ok := executor.Lookup(params.Name)
	if !ok {
		return nil, mcp.Errorf(mcp.CodeMethodNotFound, "Tool not found: %s", params.Name)
	}

	if settings.SyncExternalChanges && d.project != nil {
		if err := d.project.Refresh(ctx); err != nil {
			d.logger.Warn("failed to sync external changes", "error", err)
		}
	}

	return d.callTool(ctx, t, params.Arguments)
}

// callTool runs t between a history Begin and Complete. Complete is reached
// on every path, including a panic outside the tool itself.
func (d *Dispatcher) callTool(ctx context.Context, t tool.Tool, args json.RawMessage) (result any, rpcErr *mcp.Error) {
	name := t.Name()
	params := args
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}

	id := d.history.Begin(name, params)
	log := d.logger.With("tool", name, "entry", id)
	if sid := SessionFromContext(ctx); sid != "" {
		log = log.With("session", sid)
	}
	start := time.Now()
	ctx, end := d.telemetry.StartToolCall(ctx, name)

	completed := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool call panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result, rpcErr = internalErrorResult(), nil
		}
		if !completed {
			d.history.Complete(id, history.Completion{
				Status:   history.StatusError,
				Error:    errInternal.Error(),
				Duration: time.Since(start),
			})
			end(telemetry.StatusError, errInternal)
		}
	}()

	log.Debug("tool call started")
	res, err := tool.Run(ctx, t, d.project, args)
	out := d.outcome(log, res, err)

	d.history.Complete(id, history.Completion{
		Status:        out.status,
		Result:        truncate(out.result),
		Error:         truncate(out.err),
		Duration:      time.Since(start),
		AffectedFiles: res.AffectedFiles,
	})
	end(out.metric, err)
	completed = true

	log.Info("tool call finished",
		"status", string(out.status),
		"duration_ms", time.Since(start).Milliseconds())

	if out.rpcErr != nil {
		return nil, out.rpcErr
	}
	return out.call, nil
}

// callOutcome is what one tool execution turns into on the wire, in the
// history and in metrics.
type callOutcome struct {
	call   mcp.CallToolResult
	rpcErr *mcp.Error
	status history.Status
	result string
	err    string
	metric string
}

func (d *Dispatcher) outcome(log *logging.Logger, res tool.Result, err error) callOutcome {
	if err == nil {
		if res.IsError {
			return callOutcome{
				call:   res.ToCallResult(),
				status: history.StatusError,
				err:    res.Text(),
				metric: telemetry.StatusToolError,
			}
		}
		return callOutcome{
			call:   res.ToCallResult(),
			status: history.StatusSuccess,
			result: res.Text(),
			metric: telemetry.StatusOK,
		}
	}

	if tool.IsInvalidParams(err) {
		return callOutcome{
			rpcErr: mcp.NewError(mcp.CodeInvalidParams, "Invalid params: "+err.Error()),
			status: history.StatusError,
			err:    err.Error(),
			metric: telemetry.StatusError,
		}
	}

	var panicErr *tool.PanicError
	if errors.As(err, &panicErr) {
		log.Error("tool panicked", "panic", fmt.Sprint(panicErr.Value), "stack", string(panicErr.Stack))
		return callOutcome{
			call:   internalErrorResult(),
			status: history.StatusError,
			err:    err.Error(),
			metric: telemetry.StatusError,
		}
	}

	code := codeForError(err)
	if code == mcp.CodeInternalError {
		log.Error("tool failed", "error", err)
	}
	return callOutcome{
		call: mcp.CallToolResult{
			Content: []mcp.ContentBlock{mcp.TextContent(toolErrorText(code, err.Error()))},
			IsError: true,
		},
		status: history.StatusError,
		err:    err.Error(),
		metric: telemetry.StatusToolError,
	}
}

func internalErrorResult() mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(toolErrorText(mcp.CodeInternalError, errInternal.Error()))},
		IsError: true,
	}
}

func truncate(s string) string {
	if len(s) <= maxHistoryText {
		return s
	}
	n := maxHistoryText
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
