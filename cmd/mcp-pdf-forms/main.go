package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/mcp"
	"github.com/a3tai/mcp-pdf-forms/internal/service"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// loadDotEnv reads .env from the working directory when present
func loadDotEnv(stderr io.Writer) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "Warning: failed to load .env: %v\n", err)
	}
}

// newLogger builds the process logger. In stdio mode stdout carries the MCP
// protocol, so logs always go to stderr.
func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	logger := cfg.NewLogger(stderr)
	return logger.With("server", cfg.ServerName, "mode", cfg.Mode)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	loadDotEnv(stderr)

	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 2
	}

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	logger := newLogger(cfg, stderr)
	logger.Debug("starting with configuration", "config", cfg.String())

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create detection service", "error", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to shut down detection service", "error", err)
		}
	}()

	server, err := mcp.NewServer(cfg, svc, logger)
	if err != nil {
		logger.Error("failed to create MCP server", "error", err)
		return 1
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}

func main() {
	// Set up context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MCP PDF Forms\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
