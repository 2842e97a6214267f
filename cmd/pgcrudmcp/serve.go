package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
	"github.com/rickchristie/postgres-crud-mcp/internal/meta"
)

const (
	mcpEndpoint     = "/mcp"
	shutdownTimeout = 10 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load configuration from the environment and .env
	serverConfig, err := pgcrud.LoadConfig(afero.NewOsFs())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Setup logger
	logger, closeLog, err := setupLogger(serverConfig.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	if serverConfig.Server.Transport == "http" && isTTY(os.Stderr.Fd()) {
		printBanner(os.Stderr, true)
	}

	// 3. Open the pool; New checks connectivity before returning
	p, err := pgcrud.New(ctx, serverConfig.Config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer p.Close()

	// 4. MCP server with tools and resources
	mcpServer := newMCPServer(p, logger)

	// 5. Serve until the transport ends or a signal arrives
	if serverConfig.Server.Transport == "http" {
		err = serveHTTP(ctx, mcpServer, p, serverConfig.Server, logger)
	} else {
		err = serveStdio(ctx, mcpServer, logger)
	}
	logger.Info().Msg("pgcrudmcp stopped")
	return err
}

func newMCPServer(p *pgcrud.PostgresCrud, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("client connected (MCP initialize)")
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Debug().Err(err).Str("method", string(method)).Msg("MCP request failed")
	})

	mcpServer := server.NewMCPServer(meta.ServerName, meta.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)
	pgcrud.RegisterMCPTools(mcpServer, p)
	pgcrud.RegisterMCPResources(mcpServer, p)
	return mcpServer
}

func serveStdio(ctx context.Context, mcpServer *server.MCPServer, logger zerolog.Logger) error {
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(stdlog.New(logger.With().Str("transport", "stdio").Logger(), "", 0))

	logger.Info().Str("transport", "stdio").Msg("starting pgcrudmcp server")
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, mcpServer *server.MCPServer, p *pgcrud.PostgresCrud, settings pgcrud.ServerSettings, logger zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", settings.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath(mcpEndpoint),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	// Start does not register the MCP handler on a caller-provided server.
	httpSrv.Handler = newMux(settings, streamableServer, p.HealthHandler(), p.MetricsHandler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- streamableServer.Start(addr)
	}()
	logger.Info().
		Str("transport", "http").
		Int("port", settings.Port).
		Str("health_check_path", settings.HealthCheckPath).
		Str("metrics_path", settings.MetricsPath).
		Msg("starting pgcrudmcp server")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := streamableServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// newMux routes the MCP endpoint, the health check and, when a path is set,
// the Prometheus metrics.
func newMux(settings pgcrud.ServerSettings, mcpHandler, health, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(mcpEndpoint, mcpHandler)
	mux.Handle(settings.HealthCheckPath, health)
	if settings.MetricsPath != "" {
		mux.Handle(settings.MetricsPath, metrics)
	}
	return mux
}

// setupLogger builds the process logger. The returned func closes the log
// file when output is a path.
func setupLogger(config pgcrud.LoggingConfig) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	closeFn := func() {}
	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		output = f
		closeFn = func() { f.Close() }
	}

	if config.Format == "text" {
		noColor := true
		if f, ok := output.(*os.File); ok && isTTY(f.Fd()) {
			noColor = false
		}
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: noColor}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), closeFn, nil
}
