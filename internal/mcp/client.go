package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClientClosed is returned for calls made after the stream went away.
var ErrClientClosed = errors.New("mcp client closed")

// Client is an MCP client speaking to a server over HTTP+SSE. It is used by
// the probe command and by end-to-end tests.
type Client struct {
	httpClient *http.Client
	endpoint   string
	body       io.ReadCloser
	cancel     context.CancelFunc

	requestID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
	done    chan struct{}

	serverInfo Implementation
}

// Dial opens the SSE stream at sseURL and waits for the endpoint event that
// names the session's POST URL.
func Dial(ctx context.Context, sseURL string) (*Client, error) {
	base, err := url.Parse(sseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sse url: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, sseURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to open stream: status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	type result struct {
		ev  sseEvent
		err error
	}
	first := make(chan result, 1)
	go func() {
		ev, err := readSSEEvent(reader)
		first <- result{ev, err}
	}()

	var ev sseEvent
	select {
	case r := <-first:
		if r.err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("failed to read endpoint event: %w", r.err)
		}
		ev = r.ev
	case <-ctx.Done():
		resp.Body.Close()
		cancel()
		return nil, ctx.Err()
	}

	if ev.Event != "endpoint" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("expected endpoint event, got %q", ev.Event)
	}
	endpoint, err := base.Parse(strings.TrimSpace(ev.Data))
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("invalid endpoint %q: %w", ev.Data, err)
	}

	c := &Client{
		httpClient: &http.Client{},
		endpoint:   endpoint.String(),
		body:       resp.Body,
		cancel:     cancel,
		pending:    make(map[string]chan *Response),
		done:       make(chan struct{}),
	}
	go c.readLoop(reader)
	return c, nil
}

// Endpoint returns the session-scoped POST URL announced by the server.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SessionID returns the session identifier carried in the endpoint URL.
func (c *Client) SessionID() string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return ""
	}
	return u.Query().Get("sessionId")
}

// Done is closed when the stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Initialize performs the MCP initialization handshake
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: clientName, Version: clientVersion},
	}

	var result InitializeResult
	if err := c.Call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	c.serverInfo = result.ServerInfo

	if err := c.Notify(ctx, MethodNotificationsInit, nil); err != nil {
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}
	return &result, nil
}

// ServerInfo returns information about the connected server
func (c *Client) ServerInfo() Implementation {
	return c.serverInfo
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, MethodPing, nil, nil)
}

// ListTools retrieves available tools from the server
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var result ListToolsResult
	if err := c.Call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}

	var result CallToolResult
	if err := c.Call(ctx, MethodToolsCall, params, &result); err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}
	return &result, nil
}

// ListResources retrieves the resource definitions from the server
func (c *Client) ListResources(ctx context.Context) ([]ResourceDefinition, error) {
	var result ListResourcesResult
	if err := c.Call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, fmt.Errorf("resources/list failed: %w", err)
	}
	return result.Resources, nil
}

// ReadResource reads a resource by URI
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.Call(ctx, MethodResourcesRead, ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, fmt.Errorf("resources/read failed: %w", err)
	}
	return &result, nil
}

// Call sends a request and waits for its response on the stream. A JSON-RPC
// error response is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := c.requestID.Add(1)
	key := strconv.FormatInt(id, 10)

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{Version, id, method, params}

	if err := c.post(ctx, req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return ErrClientClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	// Notifications don't have an ID
	req := Notification{JSONRPC: Version, Method: method, Params: params}
	return c.post(ctx, req)
}

// PostRaw posts an arbitrary body to the session endpoint.
func (c *Client) PostRaw(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to post request: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) post(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	status, err := c.PostRaw(ctx, data)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return fmt.Errorf("server rejected request: status %d", status)
	}
	return nil
}

// Close shuts down the stream
func (c *Client) Close() error {
	c.cancel()
	err := c.body.Close()
	<-c.done
	return err
}

func (c *Client) readLoop(r *bufio.Reader) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for key, ch := range c.pending {
			close(ch)
			delete(c.pending, key)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		ev, err := readSSEEvent(r)
		if err != nil {
			return
		}
		if ev.Event != "message" && ev.Event != "" {
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[string(resp.ID)]
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// readSSEEvent reads lines until a blank line ends an event. Comment lines
// (keep-alives) are skipped.
func readSSEEvent(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if ev.Event == "" && len(data) == 0 {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
