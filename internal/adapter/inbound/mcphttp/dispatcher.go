package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
	"github.com/i2y/merchanttools/pkg/shared/mcpjsonrpc"
)

// ProtocolVersion is the MCP protocol revision announced by initialize.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies this server in initialize and server-info events.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolLister is the discovery side of the engine.
type ToolLister interface {
	Merchant(ctx context.Context, merchantID string) (*domain.Merchant, error)
	Execute(ctx context.Context, merchantID string) ([]domain.Tool, error)
}

// ToolCaller is the invocation side of the engine.
type ToolCaller interface {
	Execute(ctx context.Context, merchantID, toolName string, args map[string]any) usecase.CallOutcome
}

// Dispatcher routes JSON-RPC requests for one merchant to the engine.
type Dispatcher struct {
	tools  ToolLister
	caller ToolCaller
	info   ServerInfo
	logger *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(tools ToolLister, caller ToolCaller, info ServerInfo, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tools:  tools,
		caller: caller,
		info:   info,
		logger: logger.With("component", "jsonrpc_dispatcher"),
	}
}

// merchantInfo is the merchant identity reported to clients.
type merchantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InitializeResult is the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Merchant        merchantInfo   `json:"merchant"`
}

// ToolsListResult is the result of the tools/list method.
type ToolsListResult struct {
	Tools []domain.Tool `json:"tools"`
}

func capabilities() map[string]any {
	return map[string]any{"tools": map[string]any{"listChanged": false}}
}

// Handle serves one request. It always returns a response carrying the
// request id; failures inside a known method become -32603.
func (d *Dispatcher) Handle(ctx context.Context, merchantID string, req mcpjsonrpc.Request) (resp mcpjsonrpc.Response) {
	log := d.logger.With(slog.String("merchant_id", merchantID), slog.String("method", req.Method))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panicked", slog.Any("panic", r))
			resp = mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInternalError, fmt.Sprint(r))
		}
	}()

	if req.Version != "" && req.Version != mcpjsonrpc.Version {
		return mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", req.Version))
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case mcpjsonrpc.MethodInitialize:
		result, err = d.initialize(ctx, merchantID)
	case mcpjsonrpc.MethodToolsList:
		result, err = d.listTools(ctx, merchantID)
	case mcpjsonrpc.MethodToolsCall:
		var params mcpjsonrpc.CallToolParams
		if len(req.Params) > 0 {
			if uerr := json.Unmarshal(req.Params, &params); uerr != nil {
				return mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", uerr))
			}
		}
		if params.Name == "" {
			return mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInvalidParams, "tools/call requires a tool name")
		}
		result = d.callTool(ctx, merchantID, params)
	case mcpjsonrpc.MethodPing:
		result = struct{}{}
	default:
		log.Warn("Unknown method")
		return mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	if err != nil {
		log.Warn("Method failed", slog.Any("error", err))
		return mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInternalError, err.Error())
	}
	return mcpjsonrpc.Result(req.ID, result)
}

func (d *Dispatcher) initialize(ctx context.Context, merchantID string) (InitializeResult, error) {
	m, err := d.tools.Merchant(ctx, merchantID)
	if err != nil {
		return InitializeResult{}, err
	}
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities(),
		ServerInfo:      d.info,
		Merchant:        merchantInfo{ID: m.ID, Name: m.Name},
	}, nil
}

func (d *Dispatcher) listTools(ctx context.Context, merchantID string) (ToolsListResult, error) {
	tools, err := d.tools.Execute(ctx, merchantID)
	if err != nil {
		return ToolsListResult{}, err
	}
	if tools == nil {
		tools = []domain.Tool{}
	}
	return ToolsListResult{Tools: tools}, nil
}

// callTool never fails at the protocol level: unknown tools and upstream
// errors come back as tool results with isError set.
func (d *Dispatcher) callTool(ctx context.Context, merchantID string, params mcpjsonrpc.CallToolParams) any {
	outcome := d.caller.Execute(ctx, merchantID, params.Name, params.Arguments)
	return usecase.ToMCPResult(outcome)
}
