// BizMart - AI Agent Server for On-Chain Prediction Markets
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/agent"
	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
	"github.com/CryptoSmartNow/bizmart-agent/internal/identity"
	"github.com/CryptoSmartNow/bizmart-agent/internal/middleware"
	"github.com/CryptoSmartNow/bizmart-agent/internal/store"
	"github.com/CryptoSmartNow/bizmart-agent/internal/web3"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"chain_id", cfg.ChainID(),
		"testnet", cfg.IsTestnet(),
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The chain client is optional: without it the agent still chats and
	// still produces creation proposals, but hot-key actions fail with a
	// configuration error.
	var chain *web3.Client
	if cfg.RPCURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		chain, err = web3.Dial(dialCtx, cfg.RPCURL, cfg.AgentPrivateKey, cfg.ChainID())
		cancel()
		if err != nil {
			slog.Warn("Chain RPC unavailable, on-chain actions disabled", "error", err)
			chain = nil
		} else {
			defer chain.Close()
			slog.Info("Chain RPC connected", "wallet_configured", chain.HasSigner(), "address", chain.Address().Hex())
		}
	} else {
		slog.Warn("RPC_URL not set, on-chain actions disabled")
	}

	dispatcher := web3.NewDispatcher(chain, web3.DispatcherConfig{
		ChainID:          cfg.ChainID(),
		MainnetChainID:   config.ChainBaseMainnet,
		Factory:          cfg.FactoryAddress,
		CollateralToken:  cfg.CollateralToken,
		DefaultLiquidity: cfg.DefaultLiquidity,
		DefaultFee:       cfg.DefaultFee,
	}, logger)

	// Initialize the agent pipeline.
	executor := agent.NewCommandExecutor()
	runner := agent.NewRunner(cfg.OpenClaw, cfg.AgentCredentials(), executor, logger)
	workspace := agent.NewWorkspaceInitializer(cfg.OpenClaw, executor, logger)
	interp := agent.NewInterpreter(dispatcher, logger)
	service := agent.NewService(runner, interp, agent.NewFallbackEngine(), workspace, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	agentHandler := agent.NewHandler(service, repo, chain, conversationLogger, cfg)
	defer agentHandler.Close()

	wsHandler := agent.NewWebSocketHandler(service, repo, agentHandler.RateLimiter(), conversationLogger, cfg.FrontendURL, cfg.IsDevelopment())

	// Warm the OpenClaw workspace before the first chat arrives. Failures
	// are non-fatal; the first request retries.
	go workspace.EnsureReady(ctx)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	agentHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	startSessionCleanup(ctx, repo, cfg.SessionTTL)
	slog.Info("Session cleanup worker started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// startSessionCleanup periodically removes chat transcripts idle past the
// TTL. Proposals are kept; they expire on-chain, not here.
func startSessionCleanup(ctx context.Context, repo store.Repository, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					slog.Warn("Session cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("Expired chat sessions removed", "count", n)
				}
			}
		}
	}()
}
