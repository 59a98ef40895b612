package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/server"
)

func newTestServer(t *testing.T) (*server.Server, *config.Manager) {
	t.Helper()
	s := config.Defaults()
	s.ProjectRoot = t.TempDir()
	settings := config.NewManager(s, filepath.Join(t.TempDir(), "config.yaml"))
	srv, err := server.New(context.Background(), server.Options{Settings: settings})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, settings
}

func run(t *testing.T, srv *server.Server, script string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewWithIO(srv, NewReaderInput(strings.NewReader(script)), &out)
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantCmd  string
		wantArgs string
	}{
		{"/help", "help", ""},
		{"/HISTORY 5 tool=ide_undo", "history", "5 tool=ide_undo"},
		{"status", "status", ""},
		{"  /port   8080  ", "port", "8080"},
		{"", "", ""},
	}
	for _, tt := range tests {
		cmd, args := ParseCommand(tt.input)
		if cmd != tt.wantCmd || args != tt.wantArgs {
			t.Errorf("ParseCommand(%q) = (%q, %q), want (%q, %q)", tt.input, cmd, args, tt.wantCmd, tt.wantArgs)
		}
	}
}

func TestUnknownCommandDoesNotStopConsole(t *testing.T) {
	srv, _ := newTestServer(t)
	out := run(t, srv, "/bogus\n/help\n")
	if !strings.Contains(out, "unknown command: /bogus") {
		t.Errorf("output missing unknown-command error:\n%s", out)
	}
	if !strings.Contains(out, "/capacity [n]") {
		t.Errorf("help not printed after error:\n%s", out)
	}
}

func TestExitStopsReading(t *testing.T) {
	srv, _ := newTestServer(t)
	out := run(t, srv, "/exit\n/clear\n")
	if strings.Contains(out, "History cleared") {
		t.Errorf("commands after /exit were executed:\n%s", out)
	}
}

func TestEnableDisablePersistsSettings(t *testing.T) {
	srv, settings := newTestServer(t)

	run(t, srv, "/disable ide_undo\n")
	if settings.Current().IsToolEnabled("ide_undo") {
		t.Fatal("ide_undo still enabled")
	}
	data, err := os.ReadFile(settings.Path())
	if err != nil {
		t.Fatalf("settings not saved: %v", err)
	}
	if !strings.Contains(string(data), "ide_undo") {
		t.Errorf("saved settings missing disabled tool:\n%s", data)
	}

	out := run(t, srv, "/tools\n/enable ide_undo\n/enable nope\n")
	if !strings.Contains(out, "[off] ide_undo") {
		t.Errorf("/tools did not mark ide_undo off:\n%s", out)
	}
	if !strings.Contains(out, `unknown tool "nope"`) {
		t.Errorf("enabling an unknown tool was not rejected:\n%s", out)
	}
	if !settings.Current().IsToolEnabled("ide_undo") {
		t.Error("ide_undo not re-enabled")
	}
}

func TestHistoryCommands(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.History()
	ok := h.Begin("ide_find_files", json.RawMessage(`{"pattern":"**/*.go"}`))
	h.Complete(ok, history.Completion{Status: history.StatusSuccess, Result: "[]"})
	bad := h.Begin("ide_read_file", json.RawMessage(`{"path":"missing.txt"}`))
	h.Complete(bad, history.Completion{Status: history.StatusError, Error: "file not found"})

	out := run(t, srv, "/history status=error\n")
	if !strings.Contains(out, "ide_read_file") || strings.Contains(out, "ide_find_files") {
		t.Errorf("status filter output:\n%s", out)
	}
	if !strings.Contains(out, "file not found") {
		t.Errorf("error text not shown:\n%s", out)
	}

	out = run(t, srv, "/history 1\n")
	if !strings.Contains(out, "ide_read_file") || strings.Contains(out, "ide_find_files") {
		t.Errorf("row limit output:\n%s", out)
	}

	out = run(t, srv, "/history status=bogus\n")
	if !strings.Contains(out, "invalid status") {
		t.Errorf("bad status accepted:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "history.csv")
	run(t, srv, "/export csv "+path+"\n")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n"); lines != 2 {
		t.Errorf("csv export has %d data lines, want 2:\n%s", lines, data)
	}

	run(t, srv, "/clear\n")
	if h.Len() != 0 {
		t.Errorf("history len after /clear = %d", h.Len())
	}
}

func TestCapacityCommand(t *testing.T) {
	srv, settings := newTestServer(t)

	out := run(t, srv, "/capacity 3\n")
	if !strings.Contains(out, "minimum") {
		t.Errorf("clamped capacity not reported:\n%s", out)
	}
	if got := settings.Current().HistoryCapacity; got != config.MinHistoryCapacity {
		t.Errorf("capacity = %d, want %d", got, config.MinHistoryCapacity)
	}

	run(t, srv, "/capacity 40\n")
	if srv.History().Capacity() != 40 {
		t.Errorf("store capacity = %d, want 40", srv.History().Capacity())
	}
}

func TestPortCommandStartsAndReportsBusyPort(t *testing.T) {
	srv, settings := newTestServer(t)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	out := run(t, srv, "/port "+strconv.Itoa(port)+"\n")
	if !strings.Contains(out, "already in use") {
		t.Errorf("busy port not reported:\n%s", out)
	}
	if srv.Transport().IsRunning() {
		t.Fatal("transport running on a busy port")
	}
	if settings.Current().Port != port {
		t.Errorf("settings port = %d, want %d", settings.Current().Port, port)
	}

	busy.Close()
	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	freePort := free.Addr().(*net.TCPAddr).Port
	free.Close()

	out = run(t, srv, "/port "+strconv.Itoa(freePort)+"\n/status\n")
	if !srv.Transport().IsRunning() {
		t.Fatalf("transport not started on a free port:\n%s", out)
	}
	if !strings.Contains(out, "state:     running") {
		t.Errorf("/status output:\n%s", out)
	}
}
