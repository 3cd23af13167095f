package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/merchanttools/internal/domain"
)

const instrumentationName = "github.com/i2y/merchanttools/internal/usecase"

// CallOutcome is the result of the direct tool-call surface: the executor
// envelope plus the normalized view of a successful payload.
type CallOutcome struct {
	domain.ExecutionResult
	Tool       string                   `json:"tool,omitempty"`
	Normalized *domain.NormalizedResult `json:"normalized,omitempty"`
	Degraded   []domain.Degraded        `json:"degraded,omitempty"`
}

// ToolNotFoundMessage is the failure text for an unknown tool name.
func ToolNotFoundMessage(toolName string) string {
	return fmt.Sprintf("Tool '%s' not found for merchant", toolName)
}

// CallToolUseCase resolves a tool by name, builds its request, performs the
// call and normalizes the payload.
type CallToolUseCase struct {
	tools       *ListToolsUseCase
	credentials CredentialStore
	builder     RequestBuilder
	executor    ToolExecutor
	normalizer  ResponseNormalizer
	logger      *slog.Logger
	tracer      trace.Tracer
	calls       metric.Int64Counter
}

// NewCallToolUseCase creates a new CallToolUseCase.
func NewCallToolUseCase(
	tools *ListToolsUseCase,
	credentials CredentialStore,
	builder RequestBuilder,
	executor ToolExecutor,
	normalizer ResponseNormalizer,
	logger *slog.Logger,
) *CallToolUseCase {
	log := logger.With("usecase", "CallTool")
	calls, err := otel.Meter(instrumentationName).Int64Counter(
		"merchanttools.tool_calls",
		metric.WithDescription("Tool invocations by outcome"),
	)
	if err != nil {
		log.Warn("Failed to create tool call counter", slog.Any("error", err))
	}
	return &CallToolUseCase{
		tools:       tools,
		credentials: credentials,
		builder:     builder,
		executor:    executor,
		normalizer:  normalizer,
		logger:      log,
		tracer:      otel.Tracer(instrumentationName),
		calls:       calls,
	}
}

// Execute invokes toolName for merchantID. Configuration problems are
// returned as failure envelopes, never as errors.
func (uc *CallToolUseCase) Execute(ctx context.Context, merchantID, toolName string, args map[string]any) CallOutcome {
	ctx, span := uc.tracer.Start(ctx, "CallTool", trace.WithAttributes(
		attribute.String("merchant.id", merchantID),
		attribute.String("tool.name", toolName),
	))
	defer span.End()

	log := uc.logger.With(slog.String("merchant_id", merchantID), slog.String("tool_name", toolName))
	log.Info("Executing tool invocation")

	outcome := uc.execute(ctx, log, merchantID, toolName, args)
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.Error)
	}
	span.SetAttributes(attribute.Int("http.status_code", outcome.Status))
	if uc.calls != nil {
		uc.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("merchant.id", merchantID),
			attribute.Bool("success", outcome.Success),
		))
	}
	return outcome
}

func (uc *CallToolUseCase) execute(ctx context.Context, log *slog.Logger, merchantID, toolName string, args map[string]any) CallOutcome {
	merchant, resolved, err := uc.tools.Find(ctx, merchantID, toolName)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			log.Warn("Tool not found")
			return failure(toolName, ToolNotFoundMessage(toolName), http.StatusNotFound)
		}
		log.Error("Failed to resolve tool", slog.Any("error", err))
		return failure(toolName, err.Error(), statusFor(err))
	}

	cred, err := uc.credential(ctx, merchantID, resolved.Template.CredentialID)
	if err != nil {
		log.Warn("Credential unavailable", slog.Any("error", err))
		return failure(toolName, err.Error(), http.StatusForbidden)
	}

	if args == nil {
		args = map[string]any{}
	}
	req, degraded := uc.builder.Build(resolved.Template, cred, args)
	for _, d := range degraded {
		log.Warn("Request build degraded", slog.String("step", d.Step), slog.String("reason", d.Reason))
	}

	log.Info("Invoking upstream service", slog.String("method", req.Method))
	result := uc.executor.Execute(ctx, req)
	outcome := CallOutcome{ExecutionResult: result, Tool: toolName, Degraded: degraded}
	if !result.Success {
		log.Warn("Upstream call failed", slog.Int("status", result.Status), slog.String("error", result.Error))
		return outcome
	}

	normalized := uc.normalizer.Normalize(ctx, NormalizeInput{
		ToolName:  toolName,
		Result:    &result,
		Merchant:  *merchant,
		ItemsPath: resolved.Template.ItemsPath(),
	})
	outcome.Normalized = &normalized
	log.Info("Tool invocation successful",
		slog.Int("status", result.Status),
		slog.Int("products", len(normalized.Products)),
		slog.String("source", normalized.Source))
	return outcome
}

// credential loads the template credential, enforcing merchant ownership.
// An empty id means the template is unauthenticated.
func (uc *CallToolUseCase) credential(ctx context.Context, merchantID, credentialID string) (*domain.Credential, error) {
	if credentialID == "" {
		return nil, nil
	}
	cred, err := uc.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential %s: %w", credentialID, err)
	}
	if cred == nil {
		return nil, fmt.Errorf("credential %s: %w", credentialID, ErrCredentialNotFound)
	}
	if cred.MerchantID != merchantID {
		return nil, fmt.Errorf("credential %s does not belong to merchant %s", credentialID, merchantID)
	}
	return cred, nil
}

func failure(toolName, message string, status int) CallOutcome {
	return CallOutcome{
		ExecutionResult: domain.ExecutionResult{Success: false, Error: message, Status: status},
		Tool:            toolName,
	}
}

func statusFor(err error) int {
	if errors.Is(err, ErrMerchantNotFound) || errors.Is(err, ErrToolNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
