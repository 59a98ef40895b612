package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

type UndoTool struct{}

func NewUndoTool() *UndoTool {
	return &UndoTool{}
}

func (t *UndoTool) Name() string {
	return "ide_undo"
}

func (t *UndoTool) Description() string {
	return "Undo the most recent write action performed through this server."
}

func (t *UndoTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *UndoTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	if err := tool.DecodeArgs(argsJSON, nil); err != nil {
		return tool.Result{}, err
	}
	if err := requireReady(project); err != nil {
		return tool.Result{}, err
	}

	name, files, err := project.Undo(ctx)
	if err != nil {
		if errors.Is(err, host.ErrNothingToUndo) {
			return tool.Result{}, tool.Fail(mcp.CodeRefactoringConflict, "nothing to undo")
		}
		return tool.Result{}, err
	}

	return tool.NewJSONResult(map[string]any{
		"undone": name,
		"files":  files,
	}).WithAffectedFiles(files), nil
}
