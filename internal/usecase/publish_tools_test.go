package usecase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

func TestPublishToolsUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	template := domain.Template{ID: "t1", MerchantID: "m1", ToolType: "search", Method: http.MethodGet, URL: "https://shop.example.com/search"}
	req := domain.HTTPRequest{Method: http.MethodGet, URL: template.URL}

	store := new(MockStore)
	store.On("GetMerchant", mock.Anything, "m1").Return(&domain.Merchant{ID: "m1", Name: "Glow Store"}, nil)
	store.On("GetTemplatesForMerchant", mock.Anything, "m1").Return([]domain.Template{template}, nil)
	builder := new(MockBuilder)
	builder.On("Build", template, (*domain.Credential)(nil), map[string]any{"query": "lipstick"}).Return(req, nil)
	executor := new(MockExecutor)
	executor.On("Execute", mock.Anything, req).Return(domain.ExecutionResult{Success: true, Status: 200, Data: map[string]any{"ok": true}})
	normalizer := new(MockNormalizer)
	normalizer.On("Normalize", mock.Anything, mock.Anything).Return(domain.NormalizedResult{
		Products: []domain.Item{{ID: "p1", Name: "Red Lipstick"}}, TotalCount: 1, Summary: "Found 1 product from Glow Store", Source: "heuristic",
	})

	list := usecase.NewListToolsUseCase(store, store, nameDeriver{}, testLogger)
	call := usecase.NewCallToolUseCase(list, store, builder, executor, normalizer, testLogger)
	uc := usecase.NewPublishToolsUseCase(list, call, testLogger)

	srv := &recordingServer{}
	count, err := uc.Execute(ctx, "m1", srv)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, srv.tools, 1)
	assert.Equal(t, "search", srv.tools[0].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"query":{"type":"string","description":"Search query or request text from the user"}},"required":["query"]}`, string(srv.tools[0].RawInputSchema))

	var request mcp.CallToolRequest
	request.Params.Name = "search"
	request.Params.Arguments = map[string]any{"query": "lipstick"}
	result, err := srv.handlers["search"](ctx, request)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Red Lipstick")

	_, err = uc.Execute(ctx, "ghost", srv)
	assert.Error(t, err)
}

func TestToMCPResult(t *testing.T) {
	t.Run("failure", func(t *testing.T) {
		result := usecase.ToMCPResult(usecase.CallOutcome{
			ExecutionResult: domain.ExecutionResult{Success: false, Status: 404, Error: "Tool 'x' not found for merchant"},
		})
		assert.True(t, result.IsError)
		require.Len(t, result.Content, 1)
		assert.Equal(t, "Tool 'x' not found for merchant", result.Content[0].(mcp.TextContent).Text)
	})

	t.Run("normalized success drops raw payload", func(t *testing.T) {
		outcome := usecase.CallOutcome{
			ExecutionResult: domain.ExecutionResult{Success: true, Status: 200, Data: map[string]any{"big": "payload"}},
			Normalized: &domain.NormalizedResult{
				Products: []domain.Item{}, Summary: "No products found", Source: "none", Raw: map[string]any{"big": "payload"},
			},
		}
		result := usecase.ToMCPResult(outcome)
		assert.False(t, result.IsError)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &decoded))
		assert.NotContains(t, decoded, "raw")
		assert.Equal(t, "No products found", decoded["summary"])
		assert.Equal(t, outcome.ExecutionResult, result.StructuredContent)
	})

	t.Run("success without normalization returns data", func(t *testing.T) {
		result := usecase.ToMCPResult(usecase.CallOutcome{
			ExecutionResult: domain.ExecutionResult{Success: true, Status: 200, Data: map[string]any{"ok": true}},
		})
		assert.JSONEq(t, `{"ok":true}`, result.Content[0].(mcp.TextContent).Text)
	})
}
