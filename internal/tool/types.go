package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
)

// Result represents the result of a tool execution
type Result struct {
	Content       []mcp.ContentBlock
	IsError       bool
	AffectedFiles []string
}

// Tool is the interface that all tools must implement
type Tool interface {
	// Name returns the tool name
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// InputSchema returns the JSON schema for the tool arguments
	InputSchema() map[string]any

	// Execute runs the tool against project with the given arguments
	Execute(ctx context.Context, project host.Project, args json.RawMessage) (Result, error)
}

// NewResult creates a successful text result
func NewResult(text string) Result {
	return Result{Content: []mcp.ContentBlock{mcp.TextContent(text)}}
}

// NewErrorResult creates a text result flagged as an error
func NewErrorResult(text string) Result {
	return Result{Content: []mcp.ContentBlock{mcp.TextContent(text)}, IsError: true}
}

// NewJSONResult creates a result whose single text block is v as indented JSON.
func NewJSONResult(v any) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return NewErrorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return NewResult(string(data))
}

// NewImageResult creates a result carrying one base64 image block
func NewImageResult(data, mimeType string) Result {
	return Result{Content: []mcp.ContentBlock{mcp.ImageContent(data, mimeType)}}
}

// WithAffectedFiles returns r annotated with the files a write touched.
func (r Result) WithAffectedFiles(files []string) Result {
	r.AffectedFiles = files
	return r
}

// Text joins the text blocks of r.
func (r Result) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToCallResult converts r to its wire form.
func (r Result) ToCallResult() mcp.CallToolResult {
	content := r.Content
	if content == nil {
		content = []mcp.ContentBlock{}
	}
	return mcp.CallToolResult{Content: content, IsError: r.IsError}
}

// Failure is a business failure a tool reports in band. The dispatcher turns
// it into an isError result carrying Code.
type Failure struct {
	Code    int
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Fail creates a Failure with a formatted message.
func Fail(code int, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// MissingParamError reports a required argument that was absent.
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Name)
}

// InvalidArgsError reports arguments that do not have the declared shape.
type InvalidArgsError struct {
	Err error
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments: %v", e.Err)
}

func (e *InvalidArgsError) Unwrap() error { return e.Err }

// IsInvalidParams reports whether err is an argument-shape violation.
func IsInvalidParams(err error) bool {
	var missing *MissingParamError
	var invalid *InvalidArgsError
	return errors.As(err, &missing) || errors.As(err, &invalid)
}

// DecodeArgs decodes raw into v after checking that every required key is
// present and not null. Absent or null arguments decode as an empty object.
func DecodeArgs(raw json.RawMessage, v any, required ...string) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		raw = json.RawMessage("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &InvalidArgsError{Err: errors.New("arguments must be an object")}
	}
	for _, name := range required {
		val, ok := fields[name]
		if !ok || string(val) == "null" {
			return &MissingParamError{Name: name}
		}
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &InvalidArgsError{Err: err}
	}
	return nil
}
