package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

type ReplaceTextTool struct{}

type ReplaceTextArgs struct {
	Path       string `json:"path"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func NewReplaceTextTool() *ReplaceTextTool {
	return &ReplaceTextTool{}
}

func (t *ReplaceTextTool) Name() string {
	return "ide_replace_text"
}

func (t *ReplaceTextTool) Description() string {
	return "Replace exact text in a project file as one undoable action. old_text must be unique in the file unless replace_all is set."
}

func (t *ReplaceTextTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file relative to the project root",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The text to replace it with",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace all occurrences (default false)",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *ReplaceTextTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	var args ReplaceTextArgs
	if err := tool.DecodeArgs(argsJSON, &args, "path", "old_text", "new_text"); err != nil {
		return tool.Result{}, err
	}
	if args.OldText == "" {
		return tool.Result{}, tool.Fail(mcp.CodeInvalidParams, "old_text must not be empty")
	}
	if args.OldText == args.NewText {
		return tool.Result{}, tool.Fail(mcp.CodeInvalidParams, "old_text and new_text must be different")
	}
	if err := requireReady(project); err != nil {
		return tool.Result{}, err
	}

	var count int
	affected, err := project.WriteAction(ctx, "Replace text in "+args.Path, func(tx host.WriteTx) error {
		content, err := tx.ReadFile(args.Path)
		if err != nil {
			return err
		}

		contentStr := string(content)
		count = strings.Count(contentStr, args.OldText)
		if count == 0 {
			return tool.Fail(mcp.CodeRefactoringConflict, "old_text not found in %s", args.Path)
		}
		if count > 1 && !args.ReplaceAll {
			return fmt.Errorf("%w: old_text found %d times in %s; set replace_all or provide a more specific string", host.ErrConflict, count, args.Path)
		}

		var newContent string
		if args.ReplaceAll {
			newContent = strings.ReplaceAll(contentStr, args.OldText, args.NewText)
		} else {
			newContent = strings.Replace(contentStr, args.OldText, args.NewText, 1)
		}
		return tx.WriteFile(args.Path, []byte(newContent))
	})
	if err != nil {
		return tool.Result{}, err
	}

	msg := fmt.Sprintf("Replaced 1 occurrence in %s", args.Path)
	if count > 1 {
		msg = fmt.Sprintf("Replaced %d occurrences in %s", count, args.Path)
	}
	return tool.NewResult(msg).WithAffectedFiles(affected), nil
}
