package usecase_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/mock"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// MockStore implements every store port.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	args := m.Called(ctx, merchantID)
	merchant, _ := args.Get(0).(*domain.Merchant)
	return merchant, args.Error(1)
}

func (m *MockStore) GetTemplatesForMerchant(ctx context.Context, merchantID string) ([]domain.Template, error) {
	args := m.Called(ctx, merchantID)
	templates, _ := args.Get(0).([]domain.Template)
	return templates, args.Error(1)
}

func (m *MockStore) GetCredential(ctx context.Context, credentialID string) (*domain.Credential, error) {
	args := m.Called(ctx, credentialID)
	cred, _ := args.Get(0).(*domain.Credential)
	return cred, args.Error(1)
}

func (m *MockStore) SaveMerchant(ctx context.Context, merchant domain.Merchant) error {
	return m.Called(ctx, merchant).Error(0)
}

func (m *MockStore) SaveCredential(ctx context.Context, c domain.Credential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockStore) SaveTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(domain.Template), args.Error(1)
}

// nameDeriver names each tool after its template's tool type.
type nameDeriver struct{}

func (nameDeriver) Derive(t domain.Template) domain.Tool {
	return domain.Tool{
		Name:        t.ToolType,
		Description: "tool " + t.ToolType,
		InputSchema: domain.GenericQuerySchema(),
		Metadata:    domain.ToolMetadata{TemplateID: t.ID, ToolType: t.ToolType, Method: t.Method, Endpoint: t.URL},
	}
}

type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) Build(t domain.Template, cred *domain.Credential, params map[string]any) (domain.HTTPRequest, []domain.Degraded) {
	args := m.Called(t, cred, params)
	degraded, _ := args.Get(1).([]domain.Degraded)
	return args.Get(0).(domain.HTTPRequest), degraded
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req domain.HTTPRequest) domain.ExecutionResult {
	return m.Called(ctx, req).Get(0).(domain.ExecutionResult)
}

type MockNormalizer struct {
	mock.Mock
}

func (m *MockNormalizer) Normalize(ctx context.Context, in usecase.NormalizeInput) domain.NormalizedResult {
	return m.Called(ctx, in).Get(0).(domain.NormalizedResult)
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Import(ctx context.Context, merchantID, src string, headers map[string]string) ([]domain.Template, error) {
	args := m.Called(ctx, merchantID, src, headers)
	templates, _ := args.Get(0).([]domain.Template)
	return templates, args.Error(1)
}

// recordingServer captures tools registered through MCPServerAdapter.
type recordingServer struct {
	tools    []mcp.Tool
	handlers map[string]mcpGoServer.ToolHandlerFunc
}

func (s *recordingServer) AddTool(tool mcp.Tool, handler mcpGoServer.ToolHandlerFunc) {
	if s.handlers == nil {
		s.handlers = map[string]mcpGoServer.ToolHandlerFunc{}
	}
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
}
