package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/i2y/merchanttools/pkg/shared/mcpjsonrpc"
)

// maxRequestBody bounds JSON-RPC and direct-call request bodies.
const maxRequestBody = 1 << 20

// Invalidator drops cached per-merchant state, such as AI clients, after a
// merchant's configuration changed.
type Invalidator interface {
	Invalidate(merchantID string)
}

// Importer loads templates for a merchant from an API description.
type Importer interface {
	Execute(ctx context.Context, merchantID, src, credentialID string, headers map[string]string) (int, error)
}

// Handlers struct holds dependencies for the HTTP handlers.
type Handlers struct {
	dispatcher  *Dispatcher
	streamer    *Streamer
	caller      ToolCaller
	mcp         http.Handler
	invalidator Invalidator
	importer    Importer
	logger      *slog.Logger
}

// Deps groups the collaborators of Handlers. MCP, Invalidator and Importer
// are optional; their routes are only registered when set.
type Deps struct {
	Dispatcher  *Dispatcher
	Streamer    *Streamer
	Caller      ToolCaller
	MCP         http.Handler
	Invalidator Invalidator
	Importer    Importer
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{
		dispatcher:  deps.Dispatcher,
		streamer:    deps.Streamer,
		caller:      deps.Caller,
		mcp:         deps.MCP,
		invalidator: deps.Invalidator,
		importer:    deps.Importer,
		logger:      logger.With("component", "mcphttp_handler"),
	}
}

// RegisterRoutes sets up the merchant-facing routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /merchants/{id}/rpc", h.handleRPC)
	mux.HandleFunc("GET /merchants/{id}/events", h.handleEvents)
	mux.HandleFunc("POST /merchants/{id}/tools/{name}", h.handleDirectCall)
	if h.mcp != nil {
		mux.Handle("/merchants/{id}/mcp", h.mcp)
	}
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// RegisterAdminRoutes sets up the HTTP routes for admin endpoints.
func (h *Handlers) RegisterAdminRoutes(mux *http.ServeMux) {
	if h.invalidator != nil {
		mux.HandleFunc("POST /admin/merchants/{id}/invalidate", h.handleInvalidate)
	}
	if h.importer != nil {
		mux.HandleFunc("POST /admin/merchants/{id}/import", h.handleImport)
	}
}

// handleRPC implements POST /merchants/{id}/rpc
func (h *Handlers) handleRPC(w http.ResponseWriter, r *http.Request) {
	merchantID := r.PathValue("id")
	defer r.Body.Close()

	var req mcpjsonrpc.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode JSON-RPC request", slog.Any("error", err))
		writeJSON(w, http.StatusOK, mcpjsonrpc.Fail(nil, mcpjsonrpc.CodeParseError, fmt.Sprintf("Parse error: %v", err)))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, mcpjsonrpc.Fail(req.ID, mcpjsonrpc.CodeInvalidRequest, "missing method"))
		return
	}
	writeJSON(w, http.StatusOK, h.dispatcher.Handle(r.Context(), merchantID, req))
}

// handleEvents implements GET /merchants/{id}/events
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	h.streamer.Serve(w, r, r.PathValue("id"))
}

// handleDirectCall implements POST /merchants/{id}/tools/{name}. The body is
// the JSON arguments object; an empty body means no arguments.
func (h *Handlers) handleDirectCall(w http.ResponseWriter, r *http.Request) {
	merchantID, toolName := r.PathValue("id"), r.PathValue("name")
	defer r.Body.Close()

	args := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			h.logger.Warn("Failed to decode tool arguments", slog.String("tool_name", toolName), slog.Any("error", err))
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	outcome := h.caller.Execute(r.Context(), merchantID, toolName, args)
	status := http.StatusOK
	if !outcome.Success && (outcome.Status == http.StatusNotFound || outcome.Status == http.StatusForbidden) {
		status = outcome.Status
	}
	writeJSON(w, status, outcome)
}

// handleInvalidate implements POST /admin/merchants/{id}/invalidate
func (h *Handlers) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	merchantID := r.PathValue("id")
	h.invalidator.Invalidate(merchantID)
	h.logger.Info("Invalidated merchant caches", slog.String("merchant_id", merchantID))
	w.WriteHeader(http.StatusNoContent)
}

// ImportRequest defines the expected JSON body for the import endpoint.
type ImportRequest struct {
	Source       string            `json:"source"`
	CredentialID string            `json:"credentialId,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// handleImport implements POST /admin/merchants/{id}/import
func (h *Handlers) handleImport(w http.ResponseWriter, r *http.Request) {
	merchantID := r.PathValue("id")
	defer r.Body.Close()

	var req ImportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode import request body", slog.Any("error", err))
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		http.Error(w, "Missing 'source' field in request body", http.StatusBadRequest)
		return
	}

	count, err := h.importer.Execute(r.Context(), merchantID, req.Source, req.CredentialID, req.Headers)
	if err != nil {
		h.logger.Error("Failed to import templates", slog.String("source", req.Source), slog.Any("error", err))
		http.Error(w, fmt.Sprintf("Failed to import templates: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merchantId": merchantID, "imported": count})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := int64(0)
	if h.streamer != nil {
		active = h.streamer.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "streams": active})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
