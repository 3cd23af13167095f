package mcphttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/i2y/merchanttools/internal/usecase"
)

// Publisher registers a merchant's tools on an MCP server.
type Publisher interface {
	Execute(ctx context.Context, merchantID string, srv usecase.MCPServerAdapter) (int, error)
}

// NewMCPServer builds an mcp-go server carrying the merchant's current tools.
func NewMCPServer(ctx context.Context, publisher Publisher, info ServerInfo, merchantID string) (*mcpGoServer.MCPServer, error) {
	srv := mcpGoServer.NewMCPServer(info.Name, info.Version, mcpGoServer.WithToolCapabilities(false))
	if _, err := publisher.Execute(ctx, merchantID, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// MCPHandler serves /merchants/{id}/mcp through mcp-go's streamable HTTP
// transport. A fresh stateless server is built per request, so tool changes
// are visible immediately.
type MCPHandler struct {
	publisher Publisher
	info      ServerInfo
	logger    *slog.Logger
}

// NewMCPHandler creates a new MCPHandler.
func NewMCPHandler(publisher Publisher, info ServerInfo, logger *slog.Logger) *MCPHandler {
	return &MCPHandler{
		publisher: publisher,
		info:      info,
		logger:    logger.With("component", "mcp_streamable"),
	}
}

func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	merchantID := r.PathValue("id")
	srv, err := NewMCPServer(r.Context(), h.publisher, h.info, merchantID)
	if err != nil {
		h.logger.Warn("Failed to publish tools", slog.String("merchant_id", merchantID), slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrMerchantNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	mcpGoServer.NewStreamableHTTPServer(srv, mcpGoServer.WithStateLess(true)).ServeHTTP(w, r)
}
