// Package aibackend provides the AI completion backends used to extract
// products from tool responses.
package aibackend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderAnthropic  = "anthropic"

	// maxOutputTokens is large enough for twelve products and a summary.
	maxOutputTokens = 4096

	systemPrompt = "You convert e-commerce API responses into a fixed JSON product format. Reply with JSON only."
)

var ErrUnknownProvider = errors.New("unknown AI provider")

// Factory builds completers for merchant AI configurations.
type Factory struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFactory creates a Factory. httpClient may be nil.
func NewFactory(httpClient *http.Client, logger *slog.Logger) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Factory{httpClient: httpClient, logger: logger.With("component", "aibackend")}
}

// New returns a completer for cfg. An empty provider selects the
// OpenAI-compatible backend.
func (f *Factory) New(cfg domain.AIConfig) (usecase.AICompleter, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("AI model is required for provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI, ProviderOpenRouter, ProviderOllama:
		return newOpenAI(cfg, f.httpClient, f.logger), nil
	case ProviderAnthropic:
		return newAnthropic(cfg, f.httpClient, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}
