package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	fs := Flags()
	if err := fs.Parse([]string{"--config", filepath.Join(dir, "missing.yaml")}); err != nil {
		t.Fatal(err)
	}

	// An explicit config path that does not exist is an error.
	if _, _, err := Load(fs); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}

	s, _, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Host != DefaultHost {
		t.Errorf("Host = %q", s.Host)
	}
	if s.EndpointPath != DefaultEndpointPath {
		t.Errorf("EndpointPath = %q", s.EndpointPath)
	}
	if s.HistoryCapacity != DefaultHistoryCapacity {
		t.Errorf("HistoryCapacity = %d", s.HistoryCapacity)
	}
	if s.EffectivePort() != DefaultPort {
		t.Errorf("EffectivePort = %d", s.EffectivePort())
	}
}

func TestLoadFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "port: 3000\nendpoint_path: mcp/\nhistory_capacity: 3\ndisabled_tools: [ide_undo, ide_find_files, ide_undo]\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	fs := Flags()
	if err := fs.Parse([]string{"--config", path, "--port", "4000"}); err != nil {
		t.Fatal(err)
	}
	s, used, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != path {
		t.Errorf("config used = %q, want %q", used, path)
	}
	if s.Port != 4000 {
		t.Errorf("flag should override file: port = %d", s.Port)
	}
	if s.EndpointPath != "/mcp" {
		t.Errorf("EndpointPath = %q, want /mcp", s.EndpointPath)
	}
	if s.HistoryCapacity != MinHistoryCapacity {
		t.Errorf("HistoryCapacity = %d, want clamp to %d", s.HistoryCapacity, MinHistoryCapacity)
	}
	if !reflect.DeepEqual(s.DisabledTools, []string{"ide_find_files", "ide_undo"}) {
		t.Errorf("DisabledTools = %v", s.DisabledTools)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("host: 0.0.0.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INDEX_MCP_HOST", "127.0.0.2")

	fs := Flags()
	if err := fs.Parse([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	s, _, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Host != "127.0.0.2" {
		t.Errorf("Host = %q, want env value", s.Host)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []Settings{
		{Port: -1},
		{Port: 70000},
		{HistoryStore: "redis"},
	}
	for _, s := range tests {
		if err := s.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", s)
		}
	}
}

func TestIsToolEnabled(t *testing.T) {
	s := Settings{DisabledTools: []string{"b", "a"}}.Normalize()
	if s.IsToolEnabled("a") || s.IsToolEnabled("b") {
		t.Error("disabled tools reported enabled")
	}
	if !s.IsToolEnabled("c") {
		t.Error("c should be enabled")
	}
}

func TestListenChanged(t *testing.T) {
	a := Defaults().Normalize()
	b := a
	b.HistoryCapacity = 500
	if ListenChanged(a, b) {
		t.Error("capacity change should not affect listening")
	}
	b.Port = DefaultPort
	if ListenChanged(a, b) {
		t.Error("explicit default port equals the sentinel")
	}
	b.Port = 1234
	if !ListenChanged(a, b) {
		t.Error("port change not detected")
	}
}

func TestManagerUpdateNotifies(t *testing.T) {
	m := NewManager(Defaults(), "")

	var gotOld, gotNew Settings
	calls := 0
	m.OnChange(func(old, updated Settings) {
		calls++
		gotOld, gotNew = old, updated
	})

	if _, err := m.SetToolEnabled("ide_undo", false); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("listener calls = %d", calls)
	}
	if !gotOld.IsToolEnabled("ide_undo") || gotNew.IsToolEnabled("ide_undo") {
		t.Error("listener saw wrong snapshots")
	}
	if m.Current().IsToolEnabled("ide_undo") {
		t.Error("current snapshot not updated")
	}

	if _, err := m.SetToolEnabled("ide_undo", true); err != nil {
		t.Fatal(err)
	}
	if !m.Current().IsToolEnabled("ide_undo") {
		t.Error("tool should be re-enabled")
	}
}

func TestManagerUpdateRejectsInvalid(t *testing.T) {
	m := NewManager(Defaults(), "")
	if _, err := m.Update(func(s *Settings) { s.Port = -5 }); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Current().Port != PortDefault {
		t.Error("invalid update must not be published")
	}
}

func TestManagerSnapshotIsolation(t *testing.T) {
	m := NewManager(Settings{DisabledTools: []string{"x"}}, "")
	snap := m.Current()
	if _, err := m.SetToolEnabled("y", false); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(snap.DisabledTools, []string{"x"}) {
		t.Errorf("earlier snapshot mutated: %v", snap.DisabledTools)
	}
}

func TestManagerSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m := NewManager(Defaults(), path)
	if _, err := m.Update(func(s *Settings) {
		s.Port = 3456
		s.DisabledTools = []string{"ide_search_text"}
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fs := Flags()
	if err := fs.Parse([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	s, _, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 3456 || s.IsToolEnabled("ide_search_text") {
		t.Errorf("round trip lost values: %+v", s)
	}
}
