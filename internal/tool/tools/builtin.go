// Package tools holds the code-intelligence tools served over MCP.
package tools

import "github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"

// Builtins returns every built-in tool.
func Builtins() []tool.Tool {
	return []tool.Tool{
		NewIndexStatusTool(),
		NewFindFilesTool(),
		NewSearchTextTool(),
		NewReadFileTool(),
		NewReplaceTextTool(),
		NewUndoTool(),
	}
}

// RegisterBuiltins registers every built-in tool with r.
func RegisterBuiltins(r *tool.Registry) {
	for _, t := range Builtins() {
		r.Register(t)
	}
}
