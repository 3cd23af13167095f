package httpinvoker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/merchanttools/internal/domain"
)

const (
	// maxResponseBytes bounds how much of an upstream body is read.
	maxResponseBytes = 10 << 20
	// maxErrorSnippet bounds the body text copied into failure messages.
	maxErrorSnippet = 512
)

// NewHTTPClient builds the outbound client. Certificate verification is on
// unless insecureSkipVerify is set for development against self-signed hosts.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in development mode
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Invoker implements the usecase.ToolExecutor interface using standard net/http.
type Invoker struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a new HTTP Invoker.
func New(client *http.Client, logger *slog.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Invoker{
		client: client,
		logger: logger.With("component", "http_invoker"),
		tracer: otel.Tracer("github.com/i2y/merchanttools/internal/adapter/outbound/httpinvoker"),
	}
}

// Execute performs exactly one HTTP call for req. Every failure, including
// network errors, timeouts and non-2xx statuses, is returned in the envelope.
// Status is 0 when no response was received.
func (i *Invoker) Execute(ctx context.Context, req domain.HTTPRequest) domain.ExecutionResult {
	log := i.logger.With(
		slog.String("method", req.Method),
		slog.String("url", req.URL),
	)

	ctx, span := i.tracer.Start(ctx, "httpinvoker.Execute", trace.WithAttributes(
		attribute.String("http.method", req.Method),
	))
	defer span.End()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result := i.do(ctx, log, req)
	span.SetAttributes(attribute.Int("http.status_code", result.Status))
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func (i *Invoker) do(ctx context.Context, log *slog.Logger, req domain.HTTPRequest) domain.ExecutionResult {
	// --- 1. Construct URL with query parameters --- //
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		log.Error("Failed to parse template URL", slog.Any("error", err))
		return fail(0, fmt.Sprintf("invalid URL %q", req.URL))
	}
	if len(req.Params) > 0 {
		query := target.Query()
		for k, v := range req.Params {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	// --- 2. Construct request body --- //
	var body io.Reader
	if req.Body != nil {
		switch b := req.Body.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				log.Error("Failed to marshal request body", slog.Any("error", err))
				return fail(0, fmt.Sprintf("failed to marshal request body: %v", err))
			}
			body = bytes.NewReader(data)
		}
	}

	// --- 3. Create and execute request --- //
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return fail(0, fmt.Sprintf("failed to create request: %v", err))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Executing HTTP request")
	resp, err := i.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("HTTP request timed out", slog.Any("error", err))
			return fail(0, fmt.Sprintf("request timed out: %v", err))
		}
		log.Error("HTTP request failed", slog.Any("error", err))
		return fail(0, fmt.Sprintf("request execution failed: %v", err))
	}
	defer resp.Body.Close()

	log = log.With(slog.Int("status_code", resp.StatusCode))

	// --- 4. Process response --- //
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error("Failed to read response body", slog.Any("error", err))
		return fail(resp.StatusCode, fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		log.Warn("Received non-success status code", slog.String("response_body", snippet))
		return fail(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet))
	}

	log.Debug("Received HTTP response", slog.Int("size", len(raw)))
	return domain.ExecutionResult{Success: true, Data: decodeBody(resp.Header.Get("Content-Type"), raw), Status: resp.StatusCode}
}

// decodeBody decodes JSON bodies, including mislabeled ones, and returns
// anything else as a string.
func decodeBody(contentType string, raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	looksJSON := trimmed[0] == '{' || trimmed[0] == '['
	if strings.Contains(contentType, "json") || looksJSON {
		var data any
		if err := json.Unmarshal(trimmed, &data); err == nil {
			return data
		}
	}
	return string(raw)
}

func fail(status int, message string) domain.ExecutionResult {
	return domain.ExecutionResult{Success: false, Error: message, Status: status}
}
