package usecase

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/i2y/merchanttools/internal/domain"
)

// Standard errors returned by use cases and adapters.
var (
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrToolNotFound       = errors.New("tool not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrNoAIBackend        = errors.New("no AI backend configured")
)

// --- Stores (external collaborators, read side) ---

// MerchantStore resolves merchant identity.
type MerchantStore interface {
	// GetMerchant returns ErrMerchantNotFound for unknown ids.
	GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error)
}

// TemplateStore reads the tool templates configured for a merchant.
type TemplateStore interface {
	GetTemplatesForMerchant(ctx context.Context, merchantID string) ([]domain.Template, error)
}

// CredentialStore reads credentials by id.
type CredentialStore interface {
	// GetCredential returns nil, nil when the credential does not exist.
	GetCredential(ctx context.Context, credentialID string) (*domain.Credential, error)
}

// StoreWriter seeds a store from configuration. The runtime never writes.
type StoreWriter interface {
	SaveMerchant(ctx context.Context, m domain.Merchant) error
	SaveCredential(ctx context.Context, c domain.Credential) error
	SaveTemplate(ctx context.Context, t domain.Template) (domain.Template, error)
}

// --- Engine ports ---

// SchemaDeriver turns a template into a tool definition. It never fails;
// malformed templates degrade to the generic query schema.
type SchemaDeriver interface {
	Derive(t domain.Template) domain.Tool
}

// RequestBuilder renders a template and arguments into a request.
type RequestBuilder interface {
	Build(t domain.Template, cred *domain.Credential, args map[string]any) (domain.HTTPRequest, []domain.Degraded)
}

// ToolExecutor performs exactly one outbound call and always returns an
// envelope, never an error.
type ToolExecutor interface {
	Execute(ctx context.Context, req domain.HTTPRequest) domain.ExecutionResult
}

// NormalizeInput is everything the normalizer needs for one call.
type NormalizeInput struct {
	ToolName  string
	Result    *domain.ExecutionResult
	Merchant  domain.Merchant
	ItemsPath string
}

// ResponseNormalizer converts an arbitrary payload into the canonical
// item list. It never fails.
type ResponseNormalizer interface {
	Normalize(ctx context.Context, in NormalizeInput) domain.NormalizedResult
}

// AICompleter is an AI completion backend.
type AICompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// --- MCP Server Abstraction ---

// MCPServerAdapter defines the interface required by the PublishToolsUseCase
// to interact with the underlying MCP server (like mcp-go).
// This avoids direct dependency on a specific server implementation in the use case.
type MCPServerAdapter interface {
	// AddTool registers a tool and its handler with the server.
	AddTool(tool mcp.Tool, handlerFunc mcpGoServer.ToolHandlerFunc)
}
