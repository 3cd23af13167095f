package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"
	scheme        = "github://"
	maxFileSize   = 20 << 20
)

// Location addresses one file in a repository.
type Location struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// ParseURL parses a github:// URL into its components.
// Format: github://owner/repo/path/to/file[@ref]
func ParseURL(githubURL string) (Location, error) {
	if !IsGitHubURL(githubURL) {
		return Location{}, fmt.Errorf("invalid GitHub URL format: %s", githubURL)
	}
	rest := strings.TrimPrefix(githubURL, scheme)

	var loc Location
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		loc.Ref = rest[at+1:]
		rest = rest[:at]
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Location{}, fmt.Errorf("invalid GitHub URL format: expected github://owner/repo/path/to/file")
	}
	loc.Owner, loc.Repo, loc.Path = parts[0], parts[1], parts[2]
	return loc, nil
}

// IsGitHubURL checks if a URL is a GitHub URL
func IsGitHubURL(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// Client reads repository files through the contents API.
type Client struct {
	api        *gh.Client
	httpClient *http.Client
	logger     *slog.Logger
}

type settings struct {
	apiURL string
	token  string
}

// Option configures a Client.
type Option func(*settings)

// WithAPIURL points the client at a GitHub Enterprise or test server.
func WithAPIURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.apiURL = u
		}
	}
}

// WithToken authenticates requests, which private repositories require.
func WithToken(token string) Option {
	return func(s *settings) { s.token = token }
}

// NewClient creates a new GitHub client.
func NewClient(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg := settings{apiURL: DefaultAPIURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logger.With("component", "github_client")

	api := gh.NewClient(httpClient)
	if cfg.token != "" {
		api = api.WithAuthToken(cfg.token)
	}
	if cfg.apiURL != DefaultAPIURL {
		base, err := url.Parse(strings.TrimSuffix(cfg.apiURL, "/") + "/")
		if err != nil {
			log.Warn("Invalid GitHub API URL, using the public endpoint", slog.String("api_url", cfg.apiURL), slog.Any("error", err))
		} else {
			api.BaseURL = base
		}
	}
	return &Client{api: api, httpClient: httpClient, logger: log}
}

// FetchFile retrieves the raw content of the file addressed by githubURL.
func (c *Client) FetchFile(ctx context.Context, githubURL string) ([]byte, error) {
	loc, err := ParseURL(githubURL)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Fetching file from GitHub", slog.String("owner", loc.Owner), slog.String("repo", loc.Repo), slog.String("path", loc.Path), slog.String("ref", loc.Ref))

	var opts *gh.RepositoryContentGetOptions
	if loc.Ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: loc.Ref}
	}
	file, _, _, err := c.api.Repositories.GetContents(ctx, loc.Owner, loc.Repo, loc.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s from GitHub: %w", githubURL, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory, not a file", githubURL)
	}

	// Files above the contents API size limit come back without inline content.
	if file.Content == nil && file.GetDownloadURL() != "" {
		return c.download(ctx, file.GetDownloadURL())
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", githubURL, err)
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from GitHub")
	}
	return []byte(content), nil
}

func (c *Client) download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GitHub download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub download returned %s", resp.Status)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub download: %w", err)
	}
	return content, nil
}
