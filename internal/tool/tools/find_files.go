package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

const (
	defaultResultLimit = 100
	maxResultLimit     = 1000
)

type FindFilesTool struct{}

type FindFilesArgs struct {
	Pattern string `json:"pattern"`
	Limit   int    `json:"limit,omitempty"`
}

type findFilesResult struct {
	Files     []string `json:"files"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated"`
}

func NewFindFilesTool() *FindFilesTool {
	return &FindFilesTool{}
}

func (t *FindFilesTool) Name() string {
	return "ide_find_files"
}

func (t *FindFilesTool) Description() string {
	return "Find project files by glob pattern. Supports doublestar patterns like \"**/*.go\" or \"src/**/*.{ts,tsx}\". Paths are relative to the project root and sorted."
}

func (t *FindFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The glob pattern to match project-relative paths against",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of paths to return. Default is 100.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *FindFilesTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	var args FindFilesArgs
	if err := tool.DecodeArgs(argsJSON, &args, "pattern"); err != nil {
		return tool.Result{}, err
	}
	if err := requireReady(project); err != nil {
		return tool.Result{}, err
	}

	files, err := project.ListFiles(args.Pattern)
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return tool.Result{}, tool.Fail(mcp.CodeInvalidParams, "invalid glob pattern %q", args.Pattern)
		}
		return tool.Result{}, err
	}

	limit := clampLimit(args.Limit)
	res := findFilesResult{Files: files, Total: len(files)}
	if len(files) > limit {
		res.Files = files[:limit]
		res.Truncated = true
	}
	if res.Files == nil {
		res.Files = []string{}
	}
	return tool.NewJSONResult(res), nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultResultLimit
	case n > maxResultLimit:
		return maxResultLimit
	}
	return n
}

func requireReady(project host.Project) error {
	if !project.Ready() {
		return host.ErrIndexNotReady
	}
	return nil
}
