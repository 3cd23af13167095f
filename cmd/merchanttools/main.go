package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/i2y/merchanttools/configs"
	"github.com/i2y/merchanttools/internal/adapter/inbound/mcphttp"
	"github.com/i2y/merchanttools/internal/adapter/outbound/aibackend"
	"github.com/i2y/merchanttools/internal/adapter/outbound/github"
	"github.com/i2y/merchanttools/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/merchanttools/internal/adapter/outbound/memrepo"
	"github.com/i2y/merchanttools/internal/adapter/outbound/normalizer"
	"github.com/i2y/merchanttools/internal/adapter/outbound/openapi"
	"github.com/i2y/merchanttools/internal/adapter/outbound/schema"
	"github.com/i2y/merchanttools/internal/adapter/outbound/sqlitestore"
	"github.com/i2y/merchanttools/internal/usecase"
)

const (
	serverName    = "merchanttools"
	serverVersion = "0.1.0"
)

// store is everything the engine reads and the seeding step writes.
type store interface {
	usecase.MerchantStore
	usecase.TemplateStore
	usecase.CredentialStore
	usecase.StoreWriter
}

func main() {
	// === Command Line Flags ===
	var transport, merchantID string
	flag.StringVar(&transport, "transport", "http", "Transport mode: http or stdio")
	flag.StringVar(&merchantID, "merchant", "", "Merchant served in stdio mode")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	var logger *slog.Logger
	if transport == "stdio" {
		// In STDIO mode, log to file to avoid interfering with stdio communication
		logFile, err := os.OpenFile(os.TempDir()+"/merchanttools.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}))
		} else {
			defer logFile.Close()
			logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel}))
		}
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.String("transport", transport))

	if err := run(ctx, stop, cfg, transport, merchantID, logger); err != nil {
		logger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *configs.Config, transport, merchantID string, logger *slog.Logger) error {
	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is DISABLED for outbound tool calls.")
	}
	httpClient := httpinvoker.NewHTTPClient(cfg.HTTPClientTimeout, cfg.InsecureSkipVerify)
	// AI calls are bounded by AI_TIMEOUT through the request context.
	aiHTTPClient := httpinvoker.NewHTTPClient(0, false)

	aiFactory := aibackend.NewFactory(aiHTTPClient, logger)
	clients := normalizer.NewClientCache(aiFactory.New, logger)
	norm := normalizer.New(clients, logger, normalizer.WithAITimeout(cfg.AITimeout))

	listUC := usecase.NewListToolsUseCase(st, st, schema.NewDeriver(logger), logger)
	callUC := usecase.NewCallToolUseCase(listUC, st,
		httpinvoker.NewBuilder(logger),
		httpinvoker.New(httpClient, logger),
		norm,
		logger)
	publishUC := usecase.NewPublishToolsUseCase(listUC, callUC, logger)
	gh := github.NewClient(httpClient, logger, github.WithAPIURL(cfg.GitHubAPIURL), github.WithToken(cfg.GitHubToken))
	importer := openapi.NewImporter(httpClient, logger, openapi.WithGitHubClient(gh))
	importUC := usecase.NewImportTemplatesUseCase(importer, st, logger)

	// === Seeding ===
	seed(ctx, cfg, st, importUC, logger)

	info := mcphttp.ServerInfo{Name: serverName, Version: serverVersion}

	// === Transport Mode Selection ===
	switch transport {
	case "stdio":
		if merchantID == "" {
			return errors.New("-merchant is required in stdio mode")
		}
		srv, err := mcphttp.NewMCPServer(ctx, publishUC, info, merchantID)
		if err != nil {
			return fmt.Errorf("failed to publish tools for %s: %w", merchantID, err)
		}
		logger.Info("Starting in STDIO mode", slog.String("merchant_id", merchantID))
		return mcpGoServer.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)

	case "http":
		dispatcher := mcphttp.NewDispatcher(listUC, callUC, info, logger)
		handlers := mcphttp.NewHandlers(mcphttp.Deps{
			Dispatcher:  dispatcher,
			Streamer:    mcphttp.NewStreamer(dispatcher, logger, mcphttp.WithHeartbeatInterval(cfg.HeartbeatInterval)),
			Caller:      callUC,
			MCP:         mcphttp.NewMCPHandler(publishUC, info, logger),
			Invalidator: norm,
			Importer:    importUC,
		}, logger)

		mux := http.NewServeMux()
		handlers.RegisterRoutes(mux)
		handlers.RegisterAdminRoutes(mux)

		server := &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  cfg.ServerReadTimeout,
			WriteTimeout: cfg.ServerWriteTimeout,
			IdleTimeout:  cfg.ServerIdleTimeout,
			BaseContext:  func(_ net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("HTTP server starting.", slog.String("address", cfg.ListenAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed to start.", slog.Any("error", err))
				stop()
			}
		}()

		// Wait for interrupt signal.
		<-ctx.Done()

		// === Server Shutdown ===
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("Server shut down gracefully.")
		return nil

	default:
		return fmt.Errorf("invalid transport mode %q", transport)
	}
}

func openStore(cfg *configs.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.Store {
	case "sqlite":
		s, err := sqlitestore.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", slog.Any("error", err))
			}
		}, nil
	default:
		return memrepo.NewStore(logger), func() {}, nil
	}
}

// seed writes the merchants of the config file into the store. Failures
// are logged and skipped so that one bad merchant does not block the rest.
func seed(ctx context.Context, cfg *configs.Config, w usecase.StoreWriter, importUC *usecase.ImportTemplatesUseCase, logger *slog.Logger) {
	for _, m := range cfg.Merchants {
		log := logger.With(slog.String("merchant_id", m.ID))
		if err := w.SaveMerchant(ctx, m.Merchant()); err != nil {
			log.Error("Failed to seed merchant", slog.Any("error", err))
			continue
		}
		for _, c := range m.Credentials {
			if err := w.SaveCredential(ctx, c); err != nil {
				log.Error("Failed to seed credential", slog.String("credential_id", c.ID), slog.Any("error", err))
			}
		}
		for _, t := range m.Templates {
			if _, err := w.SaveTemplate(ctx, t); err != nil {
				log.Error("Failed to seed template", slog.String("tool_type", t.ToolType), slog.Any("error", err))
			}
		}
		for _, src := range m.OpenAPI {
			if _, err := importUC.Execute(ctx, m.ID, src.URL, src.CredentialID, src.Headers); err != nil {
				log.Error("OpenAPI import failed, continuing without it", slog.Any("error", err))
			}
		}
		log.Info("Seeded merchant",
			slog.Int("credentials", len(m.Credentials)),
			slog.Int("templates", len(m.Templates)),
			slog.Int("openapi_sources", len(m.OpenAPI)))
	}
}
