package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/i2y/merchanttools/internal/domain"
)

// PublishToolsUseCase registers a merchant's derived tools on an MCP server
// so the same tool set is reachable through the standard MCP transports.
type PublishToolsUseCase struct {
	tools  *ListToolsUseCase
	call   *CallToolUseCase
	logger *slog.Logger
}

// NewPublishToolsUseCase creates a new PublishToolsUseCase.
func NewPublishToolsUseCase(tools *ListToolsUseCase, call *CallToolUseCase, logger *slog.Logger) *PublishToolsUseCase {
	return &PublishToolsUseCase{
		tools:  tools,
		call:   call,
		logger: logger.With("usecase", "PublishTools"),
	}
}

// Execute adds every tool of merchantID to srv and returns how many were
// registered.
func (uc *PublishToolsUseCase) Execute(ctx context.Context, merchantID string, srv MCPServerAdapter) (int, error) {
	log := uc.logger.With(slog.String("merchant_id", merchantID))

	tools, err := uc.tools.Execute(ctx, merchantID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, tool := range tools {
		mcpTool, err := ToMCPTool(tool)
		if err != nil {
			log.Warn("Skipping tool with unencodable schema", slog.String("tool_name", tool.Name), slog.Any("error", err))
			continue
		}
		srv.AddTool(mcpTool, uc.handler(merchantID, tool.Name))
		count++
	}
	log.Debug("Published tools", slog.Int("count", count))
	return count, nil
}

func (uc *PublishToolsUseCase) handler(merchantID, toolName string) mcpGoServer.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		outcome := uc.call.Execute(ctx, merchantID, toolName, request.GetArguments())
		return ToMCPResult(outcome), nil
	}
}

// ToMCPTool converts a tool definition into the mcp-go representation.
func ToMCPTool(tool domain.Tool) (mcp.Tool, error) {
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("failed to encode input schema for %s: %w", tool.Name, err)
	}
	return mcp.NewToolWithRawSchema(tool.Name, tool.Description, schema), nil
}

// ToMCPResult renders a call outcome as MCP tool content. Successful calls
// carry the normalized result as JSON text and the envelope as structured
// content; failures set IsError.
func ToMCPResult(outcome CallOutcome) *mcp.CallToolResult {
	if !outcome.Success {
		return mcp.NewToolResultError(outcome.Error)
	}
	payload := any(outcome.Data)
	if outcome.Normalized != nil {
		view := *outcome.Normalized
		view.Raw = nil
		payload = view
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode tool result: %v", err))
	}
	result := mcp.NewToolResultText(string(text))
	// The raw executor envelope travels next to the text content.
	result.StructuredContent = outcome.ExecutionResult
	return result
}
