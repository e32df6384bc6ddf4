// Package main runs browserd, a pooled headless browser service exposed over
// HTTP with a live event feed, or over stdio as an MCP tool server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browserd/pkg/api"
	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/config"
	"github.com/entrhq/browserd/pkg/events"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/mcp"
	"github.com/entrhq/browserd/pkg/urlpolicy"
)

const version = "0.1.0"

// initTimeout bounds the startup probe launch.
const initTimeout = 2 * time.Minute

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	MCP         bool
	Port        int
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("browserd v%s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		stop()
		log.Printf("browserd failed: %v", err)
		os.Exit(1)
	}
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", os.Getenv("BROWSERD_CONFIG"), "Path to configuration file (YAML)")
	flag.BoolVar(&cli.MCP, "mcp", false, "Serve MCP over stdio instead of the REST API")
	flag.IntVar(&cli.Port, "port", 0, "REST port (overrides config and REST_PORT)")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "browserd - pooled headless browser service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: browserd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # REST API on the default port\n")
		fmt.Fprintf(os.Stderr, "  browserd\n\n")
		fmt.Fprintf(os.Stderr, "  # MCP server for an assistant\n")
		fmt.Fprintf(os.Stderr, "  browserd -mcp\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.MCP {
		cfg.Mode = config.ModeMCP
	}
	if cli.Port != 0 {
		cfg.Server.Port = cli.Port
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, err := logging.Setup(logging.Config{
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		logger.Warnf("%v", err)
	}
	defer logger.Close()

	policy, err := urlpolicy.New(cfg.Navigation.AllowedHosts, cfg.Navigation.DeniedHosts)
	if err != nil {
		return fmt.Errorf("invalid navigation policy: %w", err)
	}

	var hub *events.Hub
	if cfg.Mode == config.ModeREST {
		hub = events.NewHub(logger)
		defer hub.Close()
	}

	pool := browser.NewManager(newEngine(cfg.Browser), browser.Options{
		MaxSessions:       cfg.Pool.MaxSessions,
		IdleTimeout:       cfg.Pool.IdleTimeout,
		SweepInterval:     cfg.Pool.SweepInterval,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		DefaultTimeout:    cfg.Browser.DefaultTimeout,
		Logger:            logger,
		OnClose:           closeNotifier(hub, logger),
	})

	logger.Infof("starting browserd v%s (%s mode, %s engine, run %s)", version, cfg.Mode, cfg.Browser.Engine, logger.RunID())
	if path := logger.LogPath(); path != "" {
		logger.Infof("logging to %s", path)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	err = pool.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize browser pool: %w", err)
	}
	defer shutdownPool(pool, shutdownTimeout(cfg), logger)

	if cfg.Mode == config.ModeMCP {
		return serveMCP(ctx, pool, policy, logger)
	}
	return serveREST(ctx, cfg, pool, hub, policy, logger)
}

func newEngine(cfg config.BrowserConfig) browser.Engine {
	if cfg.Engine == config.EngineChromedp {
		return browser.NewChromedpEngine(browser.ChromedpOptions{
			Headless:       cfg.Headless,
			ExecutablePath: cfg.ExecutablePath,
			Args:           cfg.Args,
		})
	}
	return browser.NewPlaywrightEngine(browser.PlaywrightOptions{
		Headless:       cfg.Headless,
		ExecutablePath: cfg.ExecutablePath,
		Args:           cfg.Args,
		Install:        cfg.InstallDriver,
	})
}

// closeNotifier turns pool-initiated closes into events. Explicit closes are
// announced by the API handlers.
func closeNotifier(hub *events.Hub, logger *logging.Logger) func(string, browser.CloseReason) {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(id string, reason browser.CloseReason) {
		if hub == nil {
			return
		}
		var eventType string
		switch reason {
		case browser.ReasonEvicted:
			eventType = events.TypeBrowserEvicted
		case browser.ReasonReclaimed:
			eventType = events.TypeBrowserReclaim
		default:
			return
		}
		payload := map[string]string{"browserId": id, "reason": string(reason)}
		if err := hub.Broadcast(events.Event{Type: eventType, Data: payload}); err != nil {
			logger.Warnf("failed to broadcast %s: %v", eventType, err)
		}
	}
}

func serveMCP(ctx context.Context, pool *browser.Manager, policy *urlpolicy.Policy, logger *logging.Logger) error {
	registry := mcp.NewRegistry(mcp.BrowserTools(pool, policy, logger)...)
	server := mcp.NewServer(pool, registry, mcp.Options{
		Name:    "puppeteer-service",
		Version: version,
		Logger:  logger,
	})

	logger.Infof("MCP server is running on stdio")
	err := server.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		logger.Infof("signal received, closing MCP server")
		return nil
	}
	return err
}

func serveREST(ctx context.Context, cfg *config.Config, pool *browser.Manager, hub *events.Hub, policy *urlpolicy.Policy, logger *logging.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = logger.Writer()
	gin.DefaultErrorWriter = logger.Writer()

	srv := api.NewServer(pool, hub, api.Options{
		BasePath:          cfg.Server.BasePath,
		CORSOrigins:       cfg.Server.CORSOrigins,
		HeartbeatInterval: cfg.Events.HeartbeatInterval,
		WriteTimeout:      cfg.Events.WriteTimeout,
		Policy:            policy,
		Logger:            logger,
		Version:           version,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logger.Writer(), "http: ", 0),
	}

	errC := make(chan error, 1)
	go func() {
		logger.Infof("REST API listening on %s%s", cfg.Server.Addr(), cfg.Server.BasePath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
		close(errC)
	}()

	select {
	case err := <-errC:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("signal received, shutting down")
	// Event streams never finish on their own; drop them so Shutdown can drain.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown incomplete: %v", err)
	}
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return cfg.Server.ShutdownTimeout
}

func shutdownPool(pool *browser.Manager, timeout time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		logger.Warnf("browser pool shutdown: %v", err)
		return
	}
	logger.Infof("all browser sessions closed")
}
