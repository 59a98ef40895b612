package protocol

import (
	"encoding/json"
	"errors"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

var errInternal = errors.New("internal error")

// codeForError maps an error from a tool or resource handler onto the
// JSON-RPC error taxonomy.
func codeForError(err error) int {
	var failure *tool.Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	var rpcErr *mcp.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}

	switch {
	case errors.Is(err, host.ErrIndexNotReady):
		return mcp.CodeIndexNotReady
	case errors.Is(err, host.ErrFileNotFound):
		return mcp.CodeFileNotFound
	case errors.Is(err, host.ErrSymbolNotFound):
		return mcp.CodeSymbolNotFound
	case errors.Is(err, host.ErrConflict), errors.Is(err, host.ErrNothingToUndo):
		return mcp.CodeRefactoringConflict
	case errors.Is(err, tool.ErrToolNotFound):
		return mcp.CodeMethodNotFound
	case tool.IsInvalidParams(err):
		return mcp.CodeInvalidParams
	}
	return mcp.CodeInternalError
}

// toolError is the text payload of an isError tool result produced from a
// Go error. Clients get a stable machine-readable code next to the message.
type toolError struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toolErrorText(code int, message string) string {
	data, err := json.Marshal(toolError{Error: mcp.CodeName(code), Code: code, Message: message})
	if err != nil {
		return message
	}
	return string(data)
}
