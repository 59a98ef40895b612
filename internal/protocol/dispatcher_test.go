package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/resource"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

type funcTool struct {
	name string
	run  func(ctx context.Context, project host.Project, args json.RawMessage) (tool.Result, error)
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return "test tool " + f.name }
func (f *funcTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (f *funcTool) Execute(ctx context.Context, project host.Project, args json.RawMessage) (tool.Result, error) {
	return f.run(ctx, project, args)
}

func echoTool() *funcTool {
	return &funcTool{name: "echo", run: func(_ context.Context, _ host.Project, args json.RawMessage) (tool.Result, error) {
		var v map[string]any
		if err := tool.DecodeArgs(args, &v, "x"); err != nil {
			return tool.Result{}, err
		}
		return tool.NewJSONResult(v), nil
	}}
}

type fixture struct {
	d        *Dispatcher
	tools    *tool.Registry
	history  *history.Store
	settings *config.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Main.java"), []byte("class Main {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ws, err := host.NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	tools := tool.NewRegistry()
	tools.Register(echoTool())
	resources := resource.NewRegistry()
	resource.RegisterBuiltins(resources)
	store := history.New(config.DefaultHistoryCapacity, nil)
	settings := config.NewManager(config.Defaults(), filepath.Join(dir, "config.yaml"))

	d := New(Options{
		Tools:      tools,
		Resources:  resources,
		History:    store,
		Project:    ws,
		Settings:   settings.Current,
		ServerName: "index-mcp-test",
		Version:    "test",
	})
	return &fixture{d: d, tools: tools, history: store, settings: settings}
}

// call dispatches body and returns the single response it produced.
func (f *fixture) call(t *testing.T, body string) *mcp.Response {
	t.Helper()
	reply := f.d.Dispatch(context.Background(), []byte(body))
	if reply.IsBatch() || len(reply.Responses()) != 1 {
		t.Fatalf("Dispatch(%s) = %d responses, batch=%v", body, len(reply.Responses()), reply.IsBatch())
	}
	return reply.Responses()[0]
}

func toolCall(id int, name string, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, name, args)
}

func decodeCall(t *testing.T, resp *mcp.Response) mcp.CallToolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func TestEchoRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, toolCall(7, "echo", `{"x":1}`))
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
	res := decodeCall(t, resp)
	if res.IsError {
		t.Fatalf("isError = true: %+v", res)
	}
	if len(res.Content) != 1 || !strings.Contains(res.Content[0].Text, `"x": 1`) {
		t.Errorf("content = %+v", res.Content)
	}

	entries := f.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("history = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ToolName != "echo" || e.Status != history.StatusSuccess || string(e.Parameters) != `{"x":1}` || e.DurationMs == nil {
		t.Errorf("history entry = %+v", e)
	}
}

func TestUnknownToolIsNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, toolCall(1, "nope", `{}`))
	if resp.Error == nil || resp.Error.Code != mcp.CodeMethodNotFound {
		t.Fatalf("error = %+v, want -32601", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "nope") {
		t.Errorf("message = %q", resp.Error.Message)
	}
	if f.history.Len() != 0 {
		t.Errorf("not-found call was recorded in history")
	}
}

func TestDisabledToolGating(t *testing.T) {
	f := newFixture(t)
	f.tools.Register(&funcTool{name: "A", run: func(context.Context, host.Project, json.RawMessage) (tool.Result, error) {
		return tool.NewResult("a"), nil
	}})

	if _, err := f.settings.SetToolEnabled("A", false); err != nil {
		t.Fatal(err)
	}

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	var list mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatal(err)
	}
	for _, def := range list.Tools {
		if def.Name == "A" {
			t.Error("disabled tool listed")
		}
	}

	resp = f.call(t, toolCall(2, "A", `{}`))
	if resp.Error == nil || resp.Error.Code != mcp.CodeMethodNotFound {
		t.Errorf("disabled call error = %+v, want -32601", resp.Error)
	}

	if _, err := f.settings.SetToolEnabled("A", true); err != nil {
		t.Fatal(err)
	}
	if res := decodeCall(t, f.call(t, toolCall(3, "A", `{}`))); res.IsError {
		t.Errorf("re-enabled tool failed: %+v", res)
	}
}

func TestMissingParamIsInvalidParams(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, toolCall(1, "echo", `{}`))
	if resp.Error == nil || resp.Error.Code != mcp.CodeInvalidParams {
		t.Fatalf("error = %+v, want -32602", resp.Error)
	}
	e := f.history.Entries()[0]
	if e.Status != history.StatusError || !strings.Contains(e.Error, "x") {
		t.Errorf("history entry = %+v", e)
	}
}

func TestToolFailuresAreInBand(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"failure", tool.Fail(mcp.CodeSymbolNotFound, "no symbol Foo"), mcp.CodeSymbolNotFound},
		{"not ready", host.ErrIndexNotReady, mcp.CodeIndexNotReady},
		{"wrapped file", fmt.Errorf("open x: %w", host.ErrFileNotFound), mcp.CodeFileNotFound},
		{"conflict", host.ErrConflict, mcp.CodeRefactoringConflict},
		{"unexpected", fmt.Errorf("disk on fire"), mcp.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tools.Register(&funcTool{name: "fail", run: func(context.Context, host.Project, json.RawMessage) (tool.Result, error) {
				return tool.Result{}, tt.err
			}})

			res := decodeCall(t, f.call(t, toolCall(1, "fail", `{}`)))
			if !res.IsError {
				t.Fatal("isError = false")
			}
			var payload struct {
				Error   string `json:"error"`
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(res.Content[0].Text), &payload); err != nil {
				t.Fatalf("error text is not structured: %q", res.Content[0].Text)
			}
			if payload.Code != tt.code || payload.Error != mcp.CodeName(tt.code) {
				t.Errorf("payload = %+v, want code %d", payload, tt.code)
			}
			if f.history.Entries()[0].Status != history.StatusError {
				t.Error("history entry not marked ERROR")
			}
		})
	}
}

func TestPanickingToolIsContained(t *testing.T) {
	f := newFixture(t)
	f.tools.Register(&funcTool{name: "boom", run: func(context.Context, host.Project, json.RawMessage) (tool.Result, error) {
		panic("kaboom")
	}})

	res := decodeCall(t, f.call(t, toolCall(1, "boom", `{}`)))
	if !res.IsError {
		t.Fatal("isError = false")
	}
	if strings.Contains(res.Content[0].Text, "goroutine") || strings.Contains(res.Content[0].Text, "kaboom") {
		t.Errorf("panic details leaked to the client: %q", res.Content[0].Text)
	}
	e := f.history.Entries()[0]
	if e.Status != history.StatusError {
		t.Errorf("history status = %s, want ERROR", e.Status)
	}

	// the server keeps serving
	if res := decodeCall(t, f.call(t, toolCall(2, "echo", `{"x":2}`))); res.IsError {
		t.Errorf("follow-up call failed: %+v", res)
	}
}

func TestEnvelopeErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
		id   string
	}{
		{"malformed", `{"jsonrpc":"2.0",`, mcp.CodeParseError, "null"},
		{"empty", `   `, mcp.CodeParseError, "null"},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, mcp.CodeInvalidRequest, "1"},
		{"missing method", `{"jsonrpc":"2.0","id":"a"}`, mcp.CodeInvalidRequest, `"a"`},
		{"bad id", `{"jsonrpc":"2.0","id":{},"method":"ping"}`, mcp.CodeInvalidRequest, "null"},
		{"unknown method", `{"jsonrpc":"2.0","id":2,"method":"prompts/get"}`, mcp.CodeMethodNotFound, "2"},
		{"bad params", `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":5}}`, mcp.CodeInvalidParams, "3"},
		{"no tool name", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{}}`, mcp.CodeInvalidParams, "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.call(t, tt.body)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %d", resp.Error, tt.code)
			}
			if string(resp.ID) != tt.id {
				t.Errorf("id = %s, want %s", resp.ID, tt.id)
			}
			if resp.Result != nil {
				t.Error("error response carries a result")
			}
		})
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","method":"no/such/method"}`,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`,
	} {
		if reply := f.d.Dispatch(context.Background(), []byte(body)); !reply.Empty() {
			t.Errorf("Dispatch(%s) produced a reply", body)
		}
	}

	// an explicit null id is a request
	resp := f.call(t, `{"jsonrpc":"2.0","id":null,"method":"ping"}`)
	if resp.Error != nil || string(resp.Result) != "{}" || string(resp.ID) != "null" {
		t.Errorf("ping with null id = %+v", resp)
	}
}

func TestToolCallNotificationRunsTool(t *testing.T) {
	f := newFixture(t)
	ran := make(chan json.RawMessage, 1)
	f.tools.Register(&funcTool{name: "record", run: func(_ context.Context, _ host.Project, args json.RawMessage) (tool.Result, error) {
		ran <- args
		return tool.NewResult("ok"), nil
	}})

	body := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"record","arguments":{"x":1}}}`
	if reply := f.d.Dispatch(context.Background(), []byte(body)); !reply.Empty() {
		t.Fatalf("notification produced a reply: %+v", reply.Responses())
	}
	select {
	case args := <-ran:
		if string(args) != `{"x":1}` {
			t.Errorf("tool args = %s", args)
		}
	default:
		t.Fatal("tools/call notification did not run the tool")
	}

	entries := f.history.Entries()
	if len(entries) != 1 || entries[0].ToolName != "record" || entries[0].Status != history.StatusSuccess {
		t.Errorf("history = %+v", entries)
	}
}

func TestInitializeNegotiatesVersion(t *testing.T) {
	f := newFixture(t)

	tests := []struct{ requested, want string }{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{"1999-01-01", mcp.LatestProtocolVersion},
		{"", mcp.LatestProtocolVersion},
	}
	for _, tt := range tests {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"clientInfo":{"name":"t","version":"1"}}}`, tt.requested)
		resp := f.call(t, body)
		var raw map[string]any
		if err := json.Unmarshal(resp.Result, &raw); err != nil {
			t.Fatal(err)
		}
		if raw["protocolVersion"] != tt.want {
			t.Errorf("requested %q: protocolVersion = %v, want %s", tt.requested, raw["protocolVersion"], tt.want)
		}
		caps := raw["capabilities"].(map[string]any)
		res := caps["resources"].(map[string]any)
		if _, ok := res["subscribe"]; !ok {
			t.Error("resources.subscribe not emitted")
		}
		info := raw["serverInfo"].(map[string]any)
		if info["name"] != "index-mcp-test" {
			t.Errorf("serverInfo = %v", info)
		}
	}
}

func TestResources(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	var list mcp.ListResourcesResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Resources) == 0 {
		t.Fatal("no resources listed")
	}

	resp = f.call(t, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"file://content/Main.java"}}`)
	if resp.Error != nil {
		t.Fatalf("read error = %+v", resp.Error)
	}
	var read mcp.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &read); err != nil {
		t.Fatal(err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "class Main {}\n" {
		t.Errorf("contents = %+v", read.Contents)
	}

	resp = f.call(t, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"nothing://here"}}`)
	if resp.Error == nil || resp.Error.Code != mcp.CodeFileNotFound {
		t.Errorf("unresolved read = %+v, want -32002", resp.Error)
	}

	resp = f.call(t, `{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{}}`)
	if resp.Error == nil || resp.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("missing uri = %+v, want -32602", resp.Error)
	}

	resp = f.call(t, `{"jsonrpc":"2.0","id":5,"method":"resources/templates/list"}`)
	var templates mcp.ListResourceTemplatesResult
	if err := json.Unmarshal(resp.Result, &templates); err != nil {
		t.Fatal(err)
	}
	if len(templates.ResourceTemplates) == 0 {
		t.Error("no templates listed")
	}
}

func TestResourceHandlerPanicIsInternalError(t *testing.T) {
	f := newFixture(t)
	f.d.resources.Register(resource.Resource{
		Definition: mcp.ResourceDefinition{URI: "bad://res", Name: "bad"},
		Read: func(context.Context, host.Project, string, map[string]string) ([]mcp.ResourceContents, error) {
			panic("nil map")
		},
	})

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"bad://res"}}`)
	if resp.Error == nil || resp.Error.Code != mcp.CodeInternalError {
		t.Errorf("error = %+v, want -32603", resp.Error)
	}
}

func TestBatch(t *testing.T) {
	f := newFixture(t)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"nope"},
		42
	]`
	reply := f.d.Dispatch(context.Background(), []byte(body))
	if !reply.IsBatch() {
		t.Fatal("reply is not a batch")
	}
	resps := reply.Responses()
	if len(resps) != 3 {
		t.Fatalf("responses = %d, want 3", len(resps))
	}
	if resps[0].Error != nil || resps[1].Error.Code != mcp.CodeMethodNotFound || resps[2].Error.Code != mcp.CodeInvalidRequest {
		t.Errorf("batch responses = %+v %+v %+v", resps[0], resps[1], resps[2])
	}

	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != '[' {
		t.Errorf("batch encoded as %s", data)
	}

	empty := f.call(t, `[]`)
	if empty.Error == nil || empty.Error.Code != mcp.CodeInvalidRequest {
		t.Errorf("empty batch = %+v", empty.Error)
	}

	if reply := f.d.Dispatch(context.Background(), []byte(`[{"jsonrpc":"2.0","method":"initialized"}]`)); !reply.Empty() {
		t.Error("notification-only batch produced a reply")
	}
}

func TestSyncExternalChangesRefreshesBeforeCall(t *testing.T) {
	f := newFixture(t)
	ws := f.d.project.(*host.Workspace)
	f.tools.Register(&funcTool{name: "count", run: func(_ context.Context, project host.Project, _ json.RawMessage) (tool.Result, error) {
		files, err := project.ListFiles("")
		if err != nil {
			return tool.Result{}, err
		}
		return tool.NewResult(fmt.Sprint(len(files))), nil
	}})

	if err := os.WriteFile(filepath.Join(ws.Root(), "New.java"), []byte("class New {}"), 0644); err != nil {
		t.Fatal(err)
	}

	res := decodeCall(t, f.call(t, toolCall(1, "count", `{}`)))
	if res.Content[0].Text != "1" {
		t.Errorf("without sync count = %s, want 1", res.Content[0].Text)
	}

	if _, err := f.settings.Update(func(s *config.Settings) { s.SyncExternalChanges = true }); err != nil {
		t.Fatal(err)
	}
	res = decodeCall(t, f.call(t, toolCall(2, "count", `{}`)))
	if res.Content[0].Text != "2" {
		t.Errorf("with sync count = %s, want 2", res.Content[0].Text)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	f := newFixture(t)
	f.history.SetCapacity(1000)

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply := f.d.Dispatch(context.Background(), []byte(toolCall(i, "echo", fmt.Sprintf(`{"x":%d}`, i))))
			resp := reply.Responses()[0]
			if string(resp.ID) != fmt.Sprint(i) || resp.Error != nil {
				errs <- fmt.Sprintf("call %d got %+v", i, resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	if f.history.Len() != 100 {
		t.Errorf("history = %d, want 100", f.history.Len())
	}
	for _, e := range f.history.Entries() {
		if e.Status != history.StatusSuccess {
			t.Fatalf("entry %s left %s", e.ID, e.Status)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	short := "héllo"
	if got := truncate(short); got != short {
		t.Errorf("truncate(%q) = %q", short, got)
	}

	// "é" is two bytes; an odd prefix puts one straddling the limit.
	long := "x" + strings.Repeat("é", maxHistoryText)
	got := truncate(long)
	if !utf8.ValidString(got) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	body := strings.TrimSuffix(got, "...(truncated)")
	if body == got || len(body) > maxHistoryText || len(body) < maxHistoryText-utf8.UTFMax {
		t.Errorf("truncated body has %d bytes, limit %d", len(body), maxHistoryText)
	}
}
