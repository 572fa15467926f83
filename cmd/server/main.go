package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"protocol-foundry/backend/internal/api"
	"protocol-foundry/backend/internal/auth"
	"protocol-foundry/backend/internal/config"
	"protocol-foundry/backend/internal/engine"
	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/internal/mcp"
	"protocol-foundry/backend/internal/repository"
	devtls "protocol-foundry/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLoggerAt(logging.ParseLevel(cfg.Server.LogLevel))
	logger.Info("Starting Protocol Foundry",
		"addr", cfg.Server.Addr,
		"max_iterations", cfg.Engine.MaxIterations,
		"auth_enabled", cfg.Auth.Enable,
		"config_file", viper.ConfigFileUsed(),
	)

	// Storage. Open never fails on an unreachable database; it falls back
	// to in-memory storage and says so loudly.
	stores, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		log.Fatalf("Storage initialization failed: %v", err)
	}
	defer stores.Close()

	// The sidecar serves three roles: routing hints, content tasks, and
	// embeddings.
	sidecar := engine.NewHTTPSidecarClient(cfg.Oracle.URL, cfg.Oracle.Timeout)
	var oracle engine.DecisionOracle
	if cfg.Oracle.URL != "" {
		oracle = sidecar
	} else {
		logger.Warn("no oracle URL configured, routing on rules alone")
	}

	metrics, err := engine.NewMetrics()
	if err != nil {
		logger.Warn("metrics unavailable", "error", err)
	}

	router := engine.NewRouter(oracle, cfg.Engine.LoopCheckThreshold, cfg.Engine.DecisionWindow, logger)
	workers := []engine.Worker{
		engine.NewDraftsman(sidecar),
		engine.NewSafetyGuardian(sidecar),
		engine.NewQualityCritic(sidecar),
		engine.NewDebateModerator(sidecar),
		engine.NewInformationGatherer(sidecar),
	}
	eng := engine.New(stores.Checkpoints, router, workers, logger, metrics)
	classifier := engine.NewIntentClassifier(sidecar)

	logger.Info("Engine initialized", "workers", len(workers))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("Auth initialization failed: %v", err)
	}

	srv := api.NewServer(eng, stores, classifier, sidecar, logger, cfg.Engine.MaxIterations)
	var guard echo.MiddlewareFunc
	if cfg.Auth.Enable {
		guard = authz.RequireAuth
	}
	e := srv.NewEcho(guard)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// MCP surface shares the engine with the REST API.
	mcpServer := mcp.NewServer(eng, stores, classifier, cfg.Engine.MaxIterations)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("REST and MCP handlers mounted")

	// No global write timeout: the SSE and MCP endpoints hold responses open
	// for the length of a workflow run. Streaming handlers manage their own
	// write deadlines.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided, serving plain HTTP")
				serverErrors <- server.ListenAndServe()
				return
			}
			if created, err := devtls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("failed to generate self-signed cert", "error", err)
			} else if created {
				logger.Info("generated self-signed certificate", "cert", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}
