package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fluffypony/universe/pkg/audit"
	"github.com/fluffypony/universe/pkg/config"
	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/gate"
	"github.com/fluffypony/universe/pkg/logging"
	"github.com/fluffypony/universe/pkg/observability"
	"github.com/fluffypony/universe/pkg/protocol"
	"github.com/fluffypony/universe/pkg/registry"
	"github.com/fluffypony/universe/pkg/transport"
)

// Engine turns one framed JSON-RPC message into one response. Every
// dispatched message yields exactly one audit record while audit logging
// is enabled. Engine holds no per-request state and is safe for concurrent
// use.
type Engine struct {
	registry     *registry.Registry
	store        *config.Store
	audit        *audit.Log
	logger       logging.Logger
	inst         *observability.Instrumentation
	instructions string
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger
func WithEngineLogger(logger logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInstrumentation enables metrics and tracing
func WithInstrumentation(inst *observability.Instrumentation) EngineOption {
	return func(e *Engine) {
		e.inst = inst
	}
}

// WithInstructions sets the instructions returned from initialize
func WithInstructions(text string) EngineOption {
	return func(e *Engine) {
		e.instructions = text
	}
}

// NewEngine creates an engine over a catalog, a config store and an audit
// log.
func NewEngine(reg *registry.Registry, store *config.Store, log *audit.Log, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		audit:    log,
		logger:   logging.Global(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithFields(logging.String("component", "engine"))
	return e
}

var _ transport.Handler = (*Engine)(nil)

// exchange is one request moving through the lifecycle
type exchange struct {
	req     *protocol.Request
	method  string
	target  string
	args    map[string]interface{}
	stage   Stage
	result  interface{}
	err     error
	details string
}

func (x *exchange) fail(stage Stage, err error) {
	x.stage = stage
	x.err = err
}

func (x *exchange) advance(stage Stage) {
	x.stage = stage
}

// id returns the request ID to echo, or nil when there is none usable
func (x *exchange) id() interface{} {
	if x.req == nil {
		return nil
	}
	switch x.req.ID.(type) {
	case string, json.Number, float64:
		return x.req.ID
	}
	return nil
}

func (x *exchange) operation() string {
	if x.method == "" {
		return "invalid"
	}
	return audit.Operation(x.method, x.target)
}

// Handle processes one message. It returns nil for notifications.
func (e *Engine) Handle(ctx context.Context, caller transport.Caller, msg []byte) []byte {
	cfg := e.store.Snapshot()
	x := &exchange{stage: StageReceived}

	req, err := protocol.DecodeRequest(msg)
	switch {
	case errors.Is(err, protocol.ErrTrailingData):
		x.fail(StageParsed, mcperrors.InvalidRequest("message must be a single JSON-RPC request object"))
	case err != nil && !json.Valid(msg):
		x.fail(StageParsed, mcperrors.ParseError(err))
	case err != nil:
		x.fail(StageParsed, mcperrors.InvalidRequest("message must be a single JSON-RPC request object"))
	default:
		x.req = req
		x.method = req.Method
		if verr := req.Valid(); verr != nil {
			x.fail(StageParsed, mcperrors.InvalidRequest(verr.Error()))
		}
	}

	ctx, scope := e.begin(ctx, caller, x)
	if x.err == nil {
		x.advance(StageParsed)
		e.dispatch(ctx, cfg, x, scope)
	}
	return e.finish(ctx, cfg, caller, x, scope)
}

// Reject answers a message the transport refused to dispatch. The refusal
// is audited like any other failed request.
func (e *Engine) Reject(ctx context.Context, caller transport.Caller, msg []byte, reason error) []byte {
	cfg := e.store.Snapshot()
	x := &exchange{stage: StageReceived}
	if req, err := protocol.DecodeRequest(msg); err == nil {
		x.req = req
		x.method = req.Method
	}
	x.fail(StageReceived, reason)

	ctx, scope := e.begin(ctx, caller, x)
	return e.finish(ctx, cfg, caller, x, scope)
}

func (e *Engine) begin(ctx context.Context, caller transport.Caller, x *exchange) (context.Context, *observability.RequestScope) {
	ctx = logging.ContextWithRequestID(ctx, logging.NewRequestID())
	if caller.ClientID != "" {
		ctx = logging.ContextWithClientID(ctx, caller.ClientID)
	}
	return e.inst.Begin(ctx, methodLabel(x.method), caller.ClientID)
}

// methodLabel bounds metric label values to the known methods
func methodLabel(method string) string {
	switch method {
	case protocol.MethodInitialize, protocol.MethodInitialized, protocol.MethodPing,
		protocol.MethodListResources, protocol.MethodReadResource,
		protocol.MethodListTools, protocol.MethodCallTool,
		protocol.MethodListPrompts, protocol.MethodGetPrompt:
		return method
	case "":
		return "invalid"
	}
	return "unknown"
}

func (e *Engine) dispatch(ctx context.Context, cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope) {
	switch x.method {
	case protocol.MethodInitialize:
		e.initialize(x)
	case protocol.MethodInitialized:
		x.result = struct{}{}
	case protocol.MethodPing:
		x.result = protocol.PingResult{Message: "pong"}
	case protocol.MethodListResources:
		if e.check(cfg, x, scope) {
			x.result = protocol.ListResourcesResult{Resources: e.registry.Resources()}
		}
	case protocol.MethodListTools:
		if e.check(cfg, x, scope) {
			x.result = protocol.ListToolsResult{Tools: e.registry.Tools()}
		}
	case protocol.MethodListPrompts:
		if e.check(cfg, x, scope) {
			x.result = protocol.ListPromptsResult{Prompts: e.registry.Prompts()}
		}
	case protocol.MethodGetPrompt:
		e.getPrompt(ctx, cfg, x, scope)
	case protocol.MethodReadResource:
		e.readResource(ctx, cfg, x, scope)
	case protocol.MethodCallTool:
		e.callTool(ctx, cfg, x, scope)
	default:
		x.fail(StageParsed, mcperrors.MethodNotFound(x.method))
	}
}

// check applies the enablement test for requests not tied to an entry
func (e *Engine) check(cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope) bool {
	if d := gate.Check(cfg); !d.Allowed {
		scope.Denied(d.Reason)
		x.fail(StageAuthorized, d.Err())
		return false
	}
	x.advance(StageAuthorized)
	return true
}

func (e *Engine) initialize(x *exchange) {
	var params protocol.InitializeParams
	if err := x.req.UnmarshalParams(&params); err != nil {
		x.fail(StageParsed, mcperrors.InvalidParams(err))
		return
	}
	if params.ClientInfo.Name != "" {
		x.details = fmt.Sprintf("client %s %s, protocol %s",
			params.ClientInfo.Name, params.ClientInfo.Version, params.ProtocolVersion)
	}

	x.result = protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Logging: map[string]interface{}{},
		},
		ServerInfo: protocol.Implementation{
			Name:    protocol.ServerName,
			Version: protocol.ServerVersion,
		},
		Instructions: e.instructions,
	}
}

func (e *Engine) readResource(ctx context.Context, cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope) {
	var params protocol.ReadResourceParams
	if err := x.req.UnmarshalParams(&params); err != nil {
		x.fail(StageParsed, mcperrors.InvalidParams(err))
		return
	}
	x.target = params.URI
	if name, err := protocol.ParseResourceURI(params.URI); err == nil {
		x.target = name
	}

	res, err := e.registry.LookupURI(params.URI)
	if err != nil {
		x.fail(StageResolved, err)
		return
	}
	x.advance(StageResolved)

	doc, ok := e.run(ctx, cfg, x, scope, res)
	if !ok {
		return
	}
	text, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		x.fail(StageSerialized, mcperrors.Internal(err))
		return
	}
	x.result = protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{{
			URI:      res.URI(),
			MimeType: protocol.MimeTypeJSON,
			Text:     string(text),
		}},
	}
}

func (e *Engine) callTool(ctx context.Context, cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope) {
	var params protocol.CallToolParams
	if err := x.req.UnmarshalParams(&params); err != nil {
		x.fail(StageParsed, mcperrors.InvalidParams(err))
		return
	}
	if params.Name == "" {
		x.fail(StageParsed, mcperrors.InvalidRequest("missing tool name"))
		return
	}
	x.target = params.Name
	x.args = params.Arguments

	tool, err := e.registry.Lookup(registry.KindTool, params.Name)
	if err != nil {
		x.fail(StageResolved, err)
		return
	}
	x.advance(StageResolved)

	out, ok := e.run(ctx, cfg, x, scope, tool)
	if !ok {
		return
	}
	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		x.fail(StageSerialized, mcperrors.Internal(err))
		return
	}
	x.result = protocol.TextResult(string(text))
}

func (e *Engine) getPrompt(ctx context.Context, cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope) {
	var params protocol.GetPromptParams
	if err := x.req.UnmarshalParams(&params); err != nil {
		x.fail(StageParsed, mcperrors.InvalidParams(err))
		return
	}
	x.target = params.Name

	prompt, err := e.registry.Prompt(params.Name)
	if err != nil {
		x.fail(StageResolved, err)
		return
	}
	x.advance(StageValidated)
	if !e.check(cfg, x, scope) {
		return
	}

	res, err := e.guard(x.operation(), func() (interface{}, error) {
		return prompt.Render(context.WithoutCancel(ctx), params.Arguments)
	})
	if err != nil {
		x.fail(StageInvoked, e.handlerError(x.operation(), err))
		return
	}
	x.advance(StageInvoked)
	x.result = res
}

// run takes a resolved entry through validation, authorization and
// invocation.
func (e *Engine) run(ctx context.Context, cfg config.SecurityConfig, x *exchange, scope *observability.RequestScope, entry registry.Entry) (interface{}, bool) {
	if err := entry.Validate(x.args); err != nil {
		x.fail(StageValidated, err)
		return nil, false
	}
	x.advance(StageValidated)

	if d := gate.Authorize(entry, cfg); !d.Allowed {
		scope.Denied(d.Reason)
		x.fail(StageAuthorized, d.Err())
		return nil, false
	}
	x.advance(StageAuthorized)

	// handlers run to completion even if the agent goes away
	hctx := context.WithoutCancel(ctx)
	start := time.Now()
	out, err := e.guard(x.operation(), func() (interface{}, error) {
		return entry.Invoke(hctx, registry.Args(x.args))
	})
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	scope.Invoked(string(entry.Kind()), entry.Name(), string(outcome), time.Since(start))

	if err != nil {
		x.fail(StageInvoked, e.handlerError(x.operation(), err))
		return nil, false
	}
	x.advance(StageInvoked)
	return out, true
}

// guard runs fn, turning a panic into a handler error
func (e *Engine) guard(operation string, fn func() (interface{}, error)) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic",
				logging.String("operation", operation),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			out, err = nil, mcperrors.HandlerPanic(operation, r)
		}
	}()
	return fn()
}

func (e *Engine) handlerError(operation string, err error) error {
	if mcperrors.IsCategory(err, mcperrors.CategoryHandler) {
		return err
	}
	return mcperrors.HandlerFailed(operation, err)
}

// finish writes the audit record and renders the response
func (e *Engine) finish(ctx context.Context, cfg config.SecurityConfig, caller transport.Caller, x *exchange, scope *observability.RequestScope) []byte {
	id := x.id()

	var resp *protocol.Response
	if x.err == nil {
		r, err := protocol.NewResponse(id, x.result)
		if err != nil {
			x.fail(StageSerialized, mcperrors.Internal(err))
		} else {
			resp = r
			x.advance(StageCompleted)
		}
	}
	if x.err != nil {
		resp = mcperrors.ToJSONRPCResponse(x.err, id)
	}

	outcome := audit.OutcomeSuccess
	if x.err != nil {
		outcome = audit.OutcomeFailure
	}

	if cfg.AuditLogging {
		e.audit.Record(audit.Record{
			Operation:  x.operation(),
			Outcome:    outcome,
			Reason:     mcperrors.Reason(x.err),
			ClientID:   caller.ClientID,
			RemoteAddr: caller.RemoteAddr,
			Arguments:  audit.Summarize(x.args),
			Details:    x.details,
			Stage:      string(x.stage),
		})
	}

	e.logResult(ctx, x)
	scope.End(x.target, string(x.stage), string(outcome), x.err)

	if x.req != nil && x.req.IsNotification() {
		return nil
	}
	out, err := json.Marshal(resp)
	if err != nil {
		e.logger.Error("failed to encode response", logging.ErrorField(err))
		out, _ = json.Marshal(protocol.NewErrorResponse(id, &protocol.Error{
			Code:    protocol.InternalError,
			Message: "internal error",
		}))
	}
	return out
}

func (e *Engine) logResult(ctx context.Context, x *exchange) {
	logger := e.logger.WithContext(ctx)
	fields := []logging.Field{
		logging.String("operation", x.operation()),
		logging.String("stage", string(x.stage)),
	}
	if x.err == nil {
		logger.Debug("request completed", fields...)
		return
	}

	fields = append(fields, logging.String("reason", mcperrors.Reason(x.err)))
	if mcperrors.IsCategory(x.err, mcperrors.CategoryHandler) {
		logger.Error("request failed", append(fields, logging.ErrorField(x.err))...)
		return
	}
	logger.Warn("request rejected", fields...)
}
