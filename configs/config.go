package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/i2y/merchanttools/internal/domain"
)

const (
	envPrefix         = "merchanttools"
	defaultConfigFile = "configs/merchanttools.yaml"
)

// OpenAPISource is an OpenAPI document whose operations become templates.
// In YAML it is either a plain URL/path string or an object.
type OpenAPISource struct {
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	CredentialID string            `yaml:"credential_id,omitempty"`
}

// MerchantSeed is one merchant with its credentials and templates.
type MerchantSeed struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Currency    string              `yaml:"currency,omitempty"`
	AI          *domain.AIConfig    `yaml:"ai,omitempty"`
	OpenAPI     []OpenAPISource     `yaml:"-"`
	RawOpenAPI  any                 `yaml:"openapi,omitempty"`
	Credentials []domain.Credential `yaml:"credentials,omitempty"`
	Templates   []domain.Template   `yaml:"templates,omitempty"`
}

// Merchant returns the merchant identity of the seed.
func (s MerchantSeed) Merchant() domain.Merchant {
	return domain.Merchant{ID: s.ID, Name: s.Name, Currency: s.Currency, AI: s.AI}
}

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	Merchants []MerchantSeed `yaml:"merchants"`
}

// Config holds the final application configuration, merged from file and environment variables.
// Fields are loaded from environment variables with the prefix "MERCHANTTOOLS_", potentially overriding file settings.
type Config struct {
	// Config File Path (Loaded first from env)
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"configs/merchanttools.yaml"`

	// File-loaded fields (merged)
	Merchants []MerchantSeed `ignored:"true"`

	// Environment-overridable fields
	ListenAddr         string        `envconfig:"LISTEN_ADDR" default:":8080"`
	HTTPClientTimeout  time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	InsecureSkipVerify bool          `envconfig:"INSECURE_SKIP_VERIFY" default:"false"`
	AITimeout          time.Duration `envconfig:"AI_TIMEOUT" default:"20s"`
	HeartbeatInterval  time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"5s"`
	// ServerWriteTimeout is zero by default because event streams stay open.
	ServerWriteTimeout       time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	ServerIdleTimeout        time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	OtelExporterOtlpEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string        `envconfig:"LOG_LEVEL" default:"info"`
	Store                    string        `envconfig:"STORE" default:"memory"`
	SQLitePath               string        `envconfig:"SQLITE_PATH" default:"data/merchanttools.db"`
	// GitHubToken authenticates github:// OpenAPI sources.
	GitHubToken  string `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store %q (want memory or sqlite)", c.Store)
	}
	seen := make(map[string]bool, len(c.Merchants))
	for _, m := range c.Merchants {
		if m.ID == "" {
			return errors.New("merchant without id in config file")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate merchant id %q in config file", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Load loads configuration first from environment variables (to get file path),
// then from the specified YAML file, and finally merges/overrides with environment variables again.
func Load() (*Config, error) {
	// 1. Load initial config from Env (primarily to get ConfigFilePath)
	var initialCfg Config
	if err := envconfig.Process(envPrefix, &initialCfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	// 2. Load config from YAML file if path is specified
	fileCfg := FileConfig{}
	if initialCfg.ConfigFilePath != "" {
		yamlFile, err := os.ReadFile(initialCfg.ConfigFilePath)
		switch {
		case errors.Is(err, fs.ErrNotExist) && initialCfg.ConfigFilePath == defaultConfigFile:
			slog.Info("Default config file not found, using env vars only.", "path", initialCfg.ConfigFilePath)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file '%s': %w", initialCfg.ConfigFilePath, err)
		default:
			if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", initialCfg.ConfigFilePath, err)
			}
			slog.Info("Loaded configuration from file.", "path", initialCfg.ConfigFilePath)
		}
	} else {
		slog.Info("No config file path specified (MERCHANTTOOLS_CONFIG_FILE), using defaults/env vars only.")
	}

	// 3. Create final config, starting with file values, then process Env vars again for overrides.
	finalCfg := initialCfg
	finalCfg.Merchants = make([]MerchantSeed, 0, len(fileCfg.Merchants))
	for _, seed := range fileCfg.Merchants {
		seed.OpenAPI = parseOpenAPISources(seed.RawOpenAPI)
		seed.RawOpenAPI = nil
		for i := range seed.Credentials {
			if seed.Credentials[i].MerchantID == "" {
				seed.Credentials[i].MerchantID = seed.ID
			}
		}
		for i := range seed.Templates {
			if seed.Templates[i].MerchantID == "" {
				seed.Templates[i].MerchantID = seed.ID
			}
		}
		finalCfg.Merchants = append(finalCfg.Merchants, seed)
	}

	// Process environment variables AGAIN to allow overrides over file settings.
	if err := envconfig.Process(envPrefix, &finalCfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}
	if err := finalCfg.Validate(); err != nil {
		return nil, err
	}
	return &finalCfg, nil
}

// parseOpenAPISources accepts a string, an object, or a list of either.
func parseOpenAPISources(raw any) []OpenAPISource {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []OpenAPISource{{URL: v}}
	case map[string]any:
		src := OpenAPISource{}
		if u, ok := v["url"].(string); ok {
			src.URL = u
		}
		if c, ok := v["credential_id"].(string); ok {
			src.CredentialID = c
		}
		if headers, ok := v["headers"].(map[string]any); ok {
			src.Headers = make(map[string]string, len(headers))
			for k, val := range headers {
				if s, ok := val.(string); ok {
					src.Headers[k] = s
				}
			}
		}
		if src.URL == "" {
			slog.Warn("Ignoring openapi source without url")
			return nil
		}
		return []OpenAPISource{src}
	case []any:
		var out []OpenAPISource
		for _, e := range v {
			out = append(out, parseOpenAPISources(e)...)
		}
		return out
	default:
		slog.Warn("Ignoring invalid openapi source format", "source", raw)
		return nil
	}
}
