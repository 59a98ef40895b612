package tools

import (
	"context"
	"encoding/json"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

type IndexStatusTool struct{}

func NewIndexStatusTool() *IndexStatusTool {
	return &IndexStatusTool{}
}

func (t *IndexStatusTool) Name() string {
	return "ide_index_status"
}

func (t *IndexStatusTool) Description() string {
	return "Report whether the project index is ready, with the project root, indexed file count and supported symbol kinds. Safe to call while indexing."
}

func (t *IndexStatusTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *IndexStatusTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	if err := tool.DecodeArgs(argsJSON, nil); err != nil {
		return tool.Result{}, err
	}
	return tool.NewJSONResult(host.Status(project)), nil
}
