// Package protocol routes JSON-RPC 2.0 messages to the MCP lifecycle, tool
// and resource handlers.
//
// The dispatcher holds no per-connection state. Any number of messages may
// be dispatched concurrently; the registries and the history store it is
// given are the only shared state it touches.
//
// Lifecycle ordering is advisory: tools/call and resources/read are served
// even when the client never sent initialize.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/host"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/resource"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/tool"
)

// Options are the collaborators a Dispatcher routes to.
type Options struct {
	Tools     *tool.Registry
	Resources *resource.Registry
	History   *history.Store
	Project   host.Project

	// Settings returns the current settings snapshot. It is read once per
	// request so changes apply to subsequently dispatched requests.
	Settings func() config.Settings

	Logger    *logging.Logger
	Telemetry *telemetry.Instruments

	ServerName string
	Version    string
}

// Dispatcher turns request bodies into responses.
type Dispatcher struct {
	tools     *tool.Registry
	resources *resource.Registry
	history   *history.Store
	project   host.Project
	settings  func() config.Settings
	logger    *logging.Logger
	telemetry *telemetry.Instruments
	info      mcp.Implementation
}

// New creates a dispatcher. Nil registries, history and telemetry are
// replaced with empty ones.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		tools:     opts.Tools,
		resources: opts.Resources,
		history:   opts.History,
		project:   opts.Project,
		settings:  opts.Settings,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		info:      mcp.Implementation{Name: opts.ServerName, Version: opts.Version},
	}
	if d.tools == nil {
		d.tools = tool.NewRegistry()
	}
	if d.resources == nil {
		d.resources = resource.NewRegistry()
	}
	if d.history == nil {
		d.history = history.New(config.DefaultHistoryCapacity, nil)
	}
	if d.settings == nil {
		defaults := config.Defaults()
		d.settings = func() config.Settings { return defaults }
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.telemetry == nil {
		d.telemetry = telemetry.NewNoop()
	}
	if d.info.Name == "" {
		d.info.Name = "index-mcp"
	}
	return d
}

// History returns the store tool calls are recorded in.
func (d *Dispatcher) History() *history.Store {
	return d.history
}

// Reply is the outcome of dispatching one body: nothing (only
// notifications), a single response, or a batch of responses.
type Reply struct {
	responses []*mcp.Response
	batch     bool
}

// Empty reports whether nothing should be sent back.
func (r Reply) Empty() bool {
	return len(r.responses) == 0
}

// IsBatch reports whether the body was a batch.
func (r Reply) IsBatch() bool {
	return r.batch
}

// Responses returns the responses in request order.
func (r Reply) Responses() []*mcp.Response {
	return r.responses
}

// MarshalJSON encodes a batch as an array and a single reply as an object.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.batch {
		return json.Marshal(r.responses)
	}
	if len(r.responses) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(r.responses[0])
}

func single(resp *mcp.Response) Reply {
	if resp == nil {
		return Reply{}
	}
	return Reply{responses: []*mcp.Response{resp}}
}

// Dispatch handles one message body, which is a single JSON-RPC message or
// a batch array.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) Reply {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return single(parseError("empty body"))
	}

	if trimmed[0] != '[' {
		return single(d.handleMessage(ctx, trimmed))
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return single(parseError(err.Error()))
	}
	if len(batch) == 0 {
		return single(mcp.NewErrorResponse(nil, mcp.NewError(mcp.CodeInvalidRequest, "Invalid Request: empty batch")))
	}

	reply := Reply{batch: true}
	for _, raw := range batch {
		if resp := d.handleMessage(ctx, raw); resp != nil {
			reply.responses = append(reply.responses, resp)
		}
	}
	if len(reply.responses) == 0 {
		return Reply{}
	}
	return reply
}

// Handle dispatches an already decoded request. Notifications are run but
// always return nil.
func (d *Dispatcher) Handle(ctx context.Context, req *mcp.Request) *mcp.Response {
	if rpcErr := req.Validate(); rpcErr != nil {
		d.telemetry.RecordRequest(ctx, req.Method, rpcErr.Code)
		return mcp.NewErrorResponse(req.ResponseID(), rpcErr)
	}

	log := d.logger.With("method", req.Method)
	if sid := SessionFromContext(ctx); sid != "" {
		log = log.With("session", sid)
	}

	handler, ok := methods[req.Method]
	if req.IsNotification() {
		// Known methods still run; their result has no id to travel under.
		if ok {
			if _, rpcErr := d.invoke(ctx, log, handler, req); rpcErr != nil {
				log.Debug("notification failed", "code", rpcErr.Code, "error", rpcErr.Message)
			}
		} else {
			log.Debug("notification received")
		}
		return nil
	}
	if !ok {
		d.telemetry.RecordRequest(ctx, req.Method, mcp.CodeMethodNotFound)
		return mcp.NewErrorResponse(req.ResponseID(), mcp.Errorf(mcp.CodeMethodNotFound, "Method not found: %s", req.Method))
	}

	result, rpcErr := d.invoke(ctx, log, handler, req)
	if rpcErr != nil {
		d.telemetry.RecordRequest(ctx, req.Method, rpcErr.Code)
		log.Debug("request failed", "code", rpcErr.Code, "error", rpcErr.Message)
		return mcp.NewErrorResponse(req.ResponseID(), rpcErr)
	}
	d.telemetry.RecordRequest(ctx, req.Method, 0)
	return mcp.NewResult(req.ResponseID(), result)
}

func (d *Dispatcher) handleMessage(ctx context.Context, raw []byte) *mcp.Response {
	var req mcp.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		if json.Valid(raw) {
			return mcp.NewErrorResponse(nil, mcp.NewError(mcp.CodeInvalidRequest, "Invalid Request: expected an object"))
		}
		return parseError(err.Error())
	}
	return d.Handle(ctx, &req)
}

// invoke runs a method handler, turning a panic into INTERNAL_ERROR.
func (d *Dispatcher) invoke(ctx context.Context, log *logging.Logger, h methodHandler, req *mcp.Request) (result any, rpcErr *mcp.Error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result = nil
			rpcErr = mcp.NewError(mcp.CodeInternalError, "Internal error")
		}
	}()
	return h(d, ctx, req)
}

func parseError(detail string) *mcp.Response {
	return mcp.NewErrorResponse(nil, mcp.NewError(mcp.CodeParseError, "Parse error: "+detail))
}

type methodHandler func(d *Dispatcher, ctx context.Context, req *mcp.Request) (any, *mcp.Error)

var methods = map[string]methodHandler{
	mcp.MethodInitialize:            (*Dispatcher).handleInitialize,
	mcp.MethodInitialized:           (*Dispatcher).handleEmpty,
	mcp.MethodNotificationsInit:     (*Dispatcher).handleEmpty,
	mcp.MethodPing:                  (*Dispatcher).handleEmpty,
	mcp.MethodToolsList:             (*Dispatcher).handleToolsList,
	mcp.MethodToolsCall:             (*Dispatcher).handleToolsCall,
	mcp.MethodResourcesList:         (*Dispatcher).handleResourcesList,
	mcp.MethodResourcesRead:         (*Dispatcher).handleResourcesRead,
	mcp.MethodResourceTemplatesList: (*Dispatcher).handleResourceTemplatesList,
}

func (d *Dispatcher) handleEmpty(context.Context, *mcp.Request) (any, *mcp.Error) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleInitialize(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcp.NewError(mcp.CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}

	d.logger.Info("client initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion)

	return mcp.InitializeResult{
		ProtocolVersion: negotiateVersion(params.ProtocolVersion),
		Capabilities: mcp.ServerCapabilities{
			Tools:     mcp.ToolsCapability{ListChanged: false},
			Resources: mcp.ResourcesCapability{Subscribe: false, ListChanged: false},
		},
		ServerInfo: d.info,
	}, nil
}

// negotiateVersion echoes a supported client version, else the latest.
func negotiateVersion(requested string) string {
	for _, v := range mcp.SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return mcp.LatestProtocolVersion
}

func (d *Dispatcher) handleToolsList(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	settings := d.settings()
	defs := d.tools.Definitions(settings.IsToolEnabled)
	if defs == nil {
		defs = []mcp.ToolDefinition{}
	}
	return mcp.ListToolsResult{Tools: defs}, nil
}

func (d *Dispatcher) handleResourcesList(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	defs := d.resources.Definitions()
	if defs == nil {
		defs = []mcp.ResourceDefinition{}
	}
	return mcp.ListResourcesResult{Resources: defs}, nil
}

func (d *Dispatcher) handleResourceTemplatesList(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	templates := d.resources.Templates()
	if templates == nil {
		templates = []mcp.ResourceTemplate{}
	}
	return mcp.ListResourceTemplatesResult{ResourceTemplates: templates}, nil
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	var params mcp.ReadResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcp.NewError(mcp.CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}
	if params.URI == "" {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "Invalid params: missing required parameter: uri")
	}

	match, ok := d.resources.Resolve(params.URI)
	if !ok {
		return nil, mcp.Errorf(mcp.CodeFileNotFound, "Resource not found: %s", params.URI)
	}

	contents, err := d.readResource(ctx, match, params.URI)
	if err != nil {
		code := codeForError(err)
		if code == mcp.CodeInternalError {
			d.logger.Error("resource read failed", "uri", params.URI, "error", err)
		}
		return nil, mcp.NewError(code, err.Error())
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return mcp.ReadResourceResult{Contents: contents}, nil
}

// readResource runs the handler, converting a panic into an error.
func (d *Dispatcher) readResource(ctx context.Context, match resource.Match, uri string) (contents []mcp.ResourceContents, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("resource handler panicked", "uri", uri, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			contents = nil
			err = errInternal
		}
	}()
	return match.Resource.Read(ctx, d.project, uri, match.Params)
}
