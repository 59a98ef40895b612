package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{
	"id", "toolName", "status", "timestamp", "durationMs",
	"parameters", "result", "error", "affectedFiles",
}

// ExportJSON serializes the current entries, most recent first. The output
// is compact so parameter text is reproduced exactly.
func (s *Store) ExportJSON() ([]byte, error) {
	entries := s.Entries()
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to export history: %w", err)
	}
	return data, nil
}

// ExportCSV serializes the current entries, most recent first, with a
// header row. Affected files are joined with ";".
func (s *Store) ExportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to export history: %w", err)
	}
	for _, e := range s.Entries() {
		duration := ""
		if e.DurationMs != nil {
			duration = strconv.FormatInt(*e.DurationMs, 10)
		}
		record := []string{
			e.ID,
			e.ToolName,
			string(e.Status),
			e.Timestamp.Format(time.RFC3339Nano),
			duration,
			string(e.Parameters),
			e.Result,
			e.Error,
			strings.Join(e.AffectedFiles, ";"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to export history: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to export history: %w", err)
	}
	return buf.Bytes(), nil
}
