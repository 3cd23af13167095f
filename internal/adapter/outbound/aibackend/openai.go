package aibackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/i2y/merchanttools/internal/domain"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// OpenAI talks to any OpenAI-compatible chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func newOpenAI(cfg domain.AIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAI {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// local servers do not check the key
		apiKey = "not-needed"
	}
	config := openai.DefaultConfig(apiKey)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch strings.ToLower(cfg.Provider) {
		case ProviderOpenRouter:
			baseURL = openRouterBaseURL
		case ProviderOllama:
			baseURL = ollamaBaseURL
		}
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		config.BaseURL = baseURL
	}
	config.HTTPClient = httpClient

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		logger: logger.With("provider", "openai"),
	}
}

// Complete implements usecase.AICompleter.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   maxOutputTokens,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	o.logger.Debug("Completion received",
		slog.String("model", o.model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}
