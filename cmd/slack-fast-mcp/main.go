package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
	"github.com/slackfast/slack-fast-mcp/pkg/provider"
	"github.com/slackfast/slack-fast-mcp/pkg/server"
	"github.com/slackfast/slack-fast-mcp/pkg/version"
)

func main() {
	var transport string
	flag.StringVar(&transport, "t", "stdio", "Transport type (stdio or sse)")
	flag.StringVar(&transport, "transport", "stdio", "Transport type (stdio or sse)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel, transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Starting Slack MCP Server",
		zap.String("version", version.Version),
		zap.String("transport", transport),
	)

	if err := server.ValidateEnabledTools(cfg.EnabledTools); err != nil {
		logger.Fatal("Invalid SLACK_MCP_ENABLED_TOOLS", zap.Error(err))
	}

	apiProvider, err := provider.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Slack client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	needsRefresh, err := apiProvider.Warm(ctx)
	if err != nil {
		logger.Fatal("Failed to warm users and channels caches", zap.Error(err))
	}
	if needsRefresh {
		// Stale snapshots were installed so the server is usable right away;
		// refresh them in the background.
		go func() {
			if err := apiProvider.ForceRefresh(ctx); err != nil {
				logger.Warn("Background cache refresh failed", zap.Error(err))
			} else {
				logger.Info("Background cache refresh complete")
			}
		}()
	}

	s := server.NewMCPServer(apiProvider, logger)

	switch transport {
	case "stdio":
		logger.Info("Serving over stdio")
		if err := s.ServeStdio(); err != nil && ctx.Err() == nil {
			logger.Fatal("Stdio server error", zap.Error(err))
		}
	case "sse":
		host := os.Getenv("SLACK_MCP_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := os.Getenv("SLACK_MCP_PORT")
		if port == "" {
			port = "13080"
		}
		addr := host + ":" + port

		sseServer := s.ServeSSE(addr)
		go func() {
			<-ctx.Done()
			sseServer.Shutdown(context.Background())
		}()

		logger.Info("SSE server listening", zap.String("addr", addr))
		if err := sseServer.Start(addr); err != nil && ctx.Err() == nil {
			logger.Fatal("SSE server error", zap.Error(err))
		}
	default:
		logger.Fatal("Invalid transport type, must be 'stdio' or 'sse'", zap.String("transport", transport))
	}
}

// newLogger writes human readable output to a terminal and JSON otherwise.
// With the stdio transport logs always go to stderr, stdout belongs to the
// MCP protocol.
func newLogger(level, transport string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if transport != "stdio" && isatty.IsTerminal(os.Stdout.Fd()) {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return cfg.Build()
}
