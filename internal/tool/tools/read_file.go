package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

const defaultReadLines = 2000

type ReadFileTool struct{}

type ReadFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

func (t *ReadFileTool) Name() string {
	return "ide_read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read a project file by its project-relative path. Returns the content with line numbers, optionally limited to a line range."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file relative to the project root",
			},
			"start_line": map[string]any{
				"type":        "integer",
				"description": "First line to return (1-indexed). Default is 1.",
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "Last line to return, inclusive. Default is start_line + 1999.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	var args ReadFileArgs
	if err := tool.DecodeArgs(argsJSON, &args, "path"); err != nil {
		return tool.Result{}, err
	}
	if err := requireReady(project); err != nil {
		return tool.Result{}, err
	}

	start := args.StartLine
	if start < 1 {
		start = 1
	}
	end := args.EndLine
	if end < start {
		end = start + defaultReadLines - 1
	}

	var data []byte
	err := project.ReadAction(ctx, func() error {
		var err error
		data, err = project.ReadFile(args.Path)
		return err
	})
	if err != nil {
		return tool.Result{}, err
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if lineNum < start {
			continue
		}
		if lineNum > end {
			break
		}

		line := scanner.Text()
		// Truncate long lines
		if len(line) > 2000 {
			line = line[:2000] + "... (truncated)"
		}
		lines = append(lines, fmt.Sprintf("%6d\t%s", lineNum, line))
	}

	if err := scanner.Err(); err != nil {
		return tool.Result{}, fmt.Errorf("error reading %s: %w", args.Path, err)
	}

	if len(lines) == 0 {
		return tool.NewResult("(empty file or no lines in range)"), nil
	}

	return tool.NewResult(strings.Join(lines, "\n")), nil
}
