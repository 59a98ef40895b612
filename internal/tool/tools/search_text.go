package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

// files larger than this are not searched
const maxSearchFileSize = 2 << 20

type SearchTextTool struct{}

type SearchTextArgs struct {
	Pattern         string `json:"pattern"`
	Glob            string `json:"glob,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

type textMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type searchTextResult struct {
	Matches      []textMatch `json:"matches"`
	FilesScanned int         `json:"filesScanned"`
	Truncated    bool        `json:"truncated"`
}

func NewSearchTextTool() *SearchTextTool {
	return &SearchTextTool{}
}

func (t *SearchTextTool) Name() string {
	return "ide_search_text"
}

func (t *SearchTextTool) Description() string {
	return "Search project files for a regular expression. Optionally restrict the search to files matching a glob. Returns file, line number and line text for each hit."
}

func (t *SearchTextTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The regular expression to search for",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Glob pattern to filter files (e.g., \"**/*.go\")",
			},
			"case_insensitive": map[string]any{
				"type":        "boolean",
				"description": "Match without regard to case",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of matches to return. Default is 100.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchTextTool) Execute(ctx context.Context, project host.Project, argsJSON json.RawMessage) (tool.Result, error) {
	var args SearchTextArgs
	if err := tool.DecodeArgs(argsJSON, &args, "pattern"); err != nil {
		return tool.Result{}, err
	}
	if err := requireReady(project); err != nil {
		return tool.Result{}, err
	}

	expr := args.Pattern
	if args.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return tool.Result{}, tool.Fail(mcp.CodeInvalidParams, "invalid regex pattern: %v", err)
	}

	files, err := project.ListFiles(args.Glob)
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return tool.Result{}, tool.Fail(mcp.CodeInvalidParams, "invalid glob pattern %q", args.Glob)
		}
		return tool.Result{}, err
	}

	limit := clampLimit(args.Limit)
	res := searchTextResult{Matches: []textMatch{}}

	err = project.ReadAction(ctx, func() error {
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f, err := project.ResolveFile(file); err != nil || f.Size > maxSearchFileSize {
				continue
			}
			data, err := project.ReadFile(file)
			if err != nil {
				continue
			}
			res.FilesScanned++
			if bytes.IndexByte(data, 0) >= 0 {
				continue
			}
			if searchFile(file, data, re, limit, &res) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return tool.Result{}, err
	}

	return tool.NewJSONResult(res), nil
}

// searchFile appends matches from data and reports whether limit was hit.
func searchFile(file string, data []byte, re *regexp.Regexp, limit int, res *searchTextResult) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(res.Matches) >= limit {
			res.Truncated = true
			return true
		}
		if len(line) > 500 {
			line = line[:500] + "... (truncated)"
		}
		res.Matches = append(res.Matches, textMatch{File: file, Line: lineNum, Text: line})
	}
	return false
}
