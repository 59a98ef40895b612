package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, "dispatcher", FormatJSON)

	logger.Info("tool called", "tool", "ide_find_files", "duration_ms", 42)

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if entry.Component != "dispatcher" {
		t.Errorf("Expected component dispatcher, got %s", entry.Component)
	}
	if entry.Fields["tool"] != "ide_find_files" {
		t.Errorf("Expected tool=ide_find_files, got %v", entry.Fields["tool"])
	}
	if entry.Fields["duration_ms"] != float64(42) {
		t.Errorf("Expected duration_ms=42, got %v", entry.Fields["duration_ms"])
	}
}

func TestTextFormatSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, "transport", FormatText)

	logger.Warn("session dropped", "session", "abc", "code", 500)

	output := buf.String()
	if !strings.Contains(output, "[WARN]") {
		t.Errorf("Expected [WARN] in output, got: %s", output)
	}
	if !strings.Contains(output, "[transport]") {
		t.Errorf("Expected [transport] in output, got: %s", output)
	}
	if !strings.Contains(output, "session dropped code=500 session=abc") {
		t.Errorf("Expected sorted fields in output, got: %s", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN, "test", FormatJSON)

	logger.Debug("should not appear")
	logger.Info("should not appear")
	logger.Warn("should appear")
	logger.Error("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
}

func TestErrorIncludesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, "test", FormatJSON)

	logger.Error("error message")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if !strings.Contains(entry.Caller, "logger_test.go") {
		t.Errorf("Expected caller to contain logger_test.go, got: %s", entry.Caller)
	}
}

func TestWithComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, INFO, "parent", FormatJSON)

	child := logger.WithComponent("child")
	child.Info("child message")
	logger.SetLevel(ERROR)
	child.Info("suppressed by parent level")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %s", len(lines), buf.String())
	}
	var entry Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if entry.Component != "child" {
		t.Errorf("Expected component 'child', got %s", entry.Component)
	}
}

func TestWithAddsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, "transport", FormatJSON).With("session", "s-1")

	logger.Info("request", "method", "ping", "err", errors.New("boom"))

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if entry.Fields["session"] != "s-1" {
		t.Errorf("Expected session=s-1, got %v", entry.Fields["session"])
	}
	if entry.Fields["method"] != "ping" {
		t.Errorf("Expected method=ping, got %v", entry.Fields["method"])
	}
	if entry.Fields["err"] != "boom" {
		t.Errorf("Expected errors rendered as strings, got %v", entry.Fields["err"])
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	if ParseLevel("debug") != DEBUG || ParseLevel("Warning") != WARN || ParseLevel("bogus") != INFO {
		t.Error("ParseLevel mapping incorrect")
	}
	if ParseFormat("JSON") != FormatJSON || ParseFormat("") != FormatText {
		t.Error("ParseFormat mapping incorrect")
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	logger := Discard()
	if logger.Enabled(ERROR) {
		t.Error("Discard logger should not be enabled at any level")
	}
	logger.Error("nothing")
}
