// Command docshot is the visual-diff daemon: it screenshots documentation
// pages on a cron schedule and saves a diff image whenever a page changes.
//
// Usage:
//
//	docshot -config docshot.yaml     # daemon: schedule, optional HTTP API and MCP
//	docshot -defaults                # daemon over the built-in OKX DEX docs list
//	docshot -config docshot.yaml -once
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/hazyhaar/docshot/docshot"
)

const version = "1.0.0"

type options struct {
	configPath   string
	useDefaults  bool
	once         bool
	addr         string
	mcpTransport string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", env("DOCSHOT_CONFIG", ""), "path to docshot.yaml config file")
	flag.BoolVar(&o.useDefaults, "defaults", false, "use the built-in target list instead of a config file")
	flag.BoolVar(&o.once, "once", false, "run one cycle and exit; exit status 1 if any target failed")
	flag.StringVar(&o.addr, "addr", env("DOCSHOT_ADDR", ""), "HTTP API listen address (overrides http.addr)")
	flag.StringVar(&o.mcpTransport, "mcp", env("DOCSHOT_MCP", ""), "MCP transport: stdio or http (overrides mcp.transport)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", env("LOG_FORMAT", "json"), "log format: json or text")
	flag.Parse()

	logger := newLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, logger, o)
	if err != nil {
		logger.Error("docshot: fatal", "error", err)
		code = 1
	}
	stop()
	os.Exit(code)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr: stdout carries the JSON-lines sink and MCP stdio.
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
}

func loadConfig(o options) (*docshot.Config, error) {
	var cfg *docshot.Config
	switch {
	case o.configPath != "":
		var err error
		if cfg, err = docshot.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	case o.useDefaults:
		cfg = docshot.DefaultConfig()
	default:
		return nil, errors.New("usage: docshot -config <file> | -defaults [-once]")
	}
	if o.addr != "" {
		cfg.HTTP.Addr = o.addr
	}
	if o.mcpTransport != "" {
		cfg.MCP.Transport = o.mcpTransport
	}
	if cfg.MCP.Transport == "stdio" {
		// stdout belongs to the MCP stream.
		cfg.Sinks = lo.Filter(cfg.Sinks, func(s docshot.SinkConfig, _ int) bool { return s.Type != "stdout" })
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, o options) (int, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return 1, err
	}

	runner, err := docshot.NewRunner(cfg, docshot.WithLogger(logger))
	if err != nil {
		return 1, fmt.Errorf("runner: %w", err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("docshot: close", "error", err)
		}
	}()

	if o.once {
		c, err := runner.Run(ctx)
		if err != nil {
			return 1, err
		}
		if c.Failed() {
			return 1, nil
		}
		return 0, nil
	}

	sched, err := docshot.NewScheduler(runner, logger)
	if err != nil {
		return 1, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mcpSrv *mcp.Server
	if cfg.MCP.Transport != "" {
		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "docshot", Version: version}, nil)
		runner.RegisterMCP(ctx, mcpSrv)
	}

	if cfg.MCP.Transport == "stdio" {
		go func() {
			logger.Info("docshot: MCP stdio serving")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("docshot: MCP stdio", "error", err)
			}
			// The client hung up.
			cancel()
		}()
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		apiCfg := docshot.APIConfig{
			PasswordHash: cfg.HTTP.PasswordHash,
			Scheduler:    sched,
			Logger:       logger,
		}
		if cfg.MCP.Transport == "http" {
			apiCfg.MCP = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		}
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           docshot.NewHandler(ctx, runner, apiCfg),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("docshot: http server starting", "addr", cfg.HTTP.Addr, "auth", cfg.HTTP.PasswordHash != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("docshot: http server", "error", err)
				cancel()
			}
		}()
	}

	sched.Run(ctx)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("docshot: http shutdown", "error", err)
		}
	}
	logger.Info("docshot: stopped")
	return 0, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
