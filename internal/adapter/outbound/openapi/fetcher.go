package openapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/merchanttools/internal/adapter/outbound/github"
)

// maxDocumentSize bounds a fetched OpenAPI document.
const maxDocumentSize = 20 << 20

// Fetcher loads OpenAPI documents from URLs, github:// locations or local
// files.
type Fetcher struct {
	httpClient *http.Client
	gh         *github.Client
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithGitHubClient replaces the client used for github:// sources.
func WithGitHubClient(c *github.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.gh = c
		}
	}
}

// NewFetcher creates a new OpenAPI Fetcher.
func NewFetcher(client *http.Client, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		httpClient: client,
		logger:     logger.With("component", "openapi_fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.gh == nil {
		f.gh = github.NewClient(client, logger)
	}
	return f
}

// Fetch loads an OpenAPI document from a URL, a github:// location or a local
// file path. Headers are sent with http(s) requests only.
func (f *Fetcher) Fetch(ctx context.Context, src string, headers map[string]string) (*openapi3.T, error) {
	log := f.logger.With(slog.String("source", src))
	log.Info("Fetching OpenAPI document")

	var rawData []byte
	u, parseErr := url.ParseRequestURI(src)
	if github.IsGitHubURL(src) {
		content, err := f.gh.FetchFile(ctx, src)
		if err != nil {
			log.Error("Failed to fetch document from GitHub", slog.Any("error", err))
			return nil, fmt.Errorf("failed to fetch OpenAPI document from %s: %w", src, err)
		}
		rawData = content
	} else if parseErr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request for %s: %w", src, err)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			log.Error("Failed to fetch document from URL", slog.Any("error", err))
			return nil, fmt.Errorf("failed to fetch OpenAPI document from %s: %w", src, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			log.Warn("Received non-OK status code from URL", slog.Int("status_code", resp.StatusCode))
			return nil, fmt.Errorf("failed to fetch OpenAPI document from %s: status %s", src, resp.Status)
		}
		rawData, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body from %s: %w", src, err)
		}
	} else {
		fileData, err := os.ReadFile(src)
		if err != nil {
			log.Error("Failed to read document from file", slog.Any("error", err))
			return nil, fmt.Errorf("failed to read OpenAPI document from file %s: %w", src, err)
		}
		rawData = fileData
	}

	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(rawData)
	if err != nil {
		log.Error("Failed to parse OpenAPI document", slog.Any("error", err))
		return nil, fmt.Errorf("failed to parse OpenAPI document from %s: %w", src, err)
	}
	if err := doc.Validate(ctx); err != nil {
		log.Warn("OpenAPI document validation failed", slog.Any("validation_error", err))
	}

	log.Info("Fetched and parsed OpenAPI document", slog.Int("paths", doc.Paths.Len()))
	return doc, nil
}
