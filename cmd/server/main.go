package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visionplus/visionplus/internal"
	"github.com/visionplus/visionplus/internal/handler"
	"github.com/visionplus/visionplus/internal/identity"
	"github.com/visionplus/visionplus/internal/metrics"
	"github.com/visionplus/visionplus/internal/middleware"
	"github.com/visionplus/visionplus/internal/provider/gotrue"
)

func run() error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize the identity provider client
	client, err := gotrue.New(gotrue.Config{
		BaseURL: cfg.AuthURL,
		APIKey:  cfg.AuthAPIKey,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("auth client initialization failed: %w", err)
	}

	// Username to account email mapping
	mapper, err := identity.NewMapper(cfg.AccountDomain)
	if err != nil {
		return fmt.Errorf("identity mapper initialization failed: %w", err)
	}

	// Initialize template renderer
	renderer, err := handler.NewRenderer(handler.RendererConfig{
		TemplatesDir: "web/templates",
		Logger:       logger,
		IsDev:        cfg.Env == "development",
	})
	if err != nil {
		return fmt.Errorf("renderer initialization failed: %w", err)
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	sessionMw := middleware.NewSessionMiddleware(client, logger, isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	authLimiter := middleware.NewAuthRateLimiter(cfg.AuthRateLimit, cfg.AuthRateLimitWindow, logger)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(client, mapper, authLimiter, renderer, logger, isSecure)
	homeHandler := handler.NewHomeHandler(renderer, logger, isSecure)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Static files
	staticFS := http.FileServer(http.Dir("web/static"))
	mux.Handle("GET /static/", http.StripPrefix("/static/", staticFS))

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics, behind basic auth when configured
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Home page; signed-in state comes from the token cookies
	withSession := middleware.Stack(sessionMw.WithSession)
	mux.Handle("GET /", withSession(http.HandlerFunc(homeHandler.Home)))

	// Login and signup; signed-in users are sent home
	anonOnly := middleware.Stack(sessionMw.WithSession, sessionMw.RedirectIfAuthenticated)
	mux.Handle("GET /login", anonOnly(http.HandlerFunc(authHandler.ShowLogin)))
	mux.Handle("GET /signup", anonOnly(http.HandlerFunc(authHandler.ShowSignup)))

	loginStack := middleware.Stack(sessionMw.WithSession, sessionMw.RedirectIfAuthenticated, authLimiter.LimitLogin)
	mux.Handle("POST /login", loginStack(http.HandlerFunc(authHandler.Login)))

	signupStack := middleware.Stack(sessionMw.WithSession, sessionMw.RedirectIfAuthenticated, authLimiter.LimitSignup)
	mux.Handle("POST /signup", signupStack(http.HandlerFunc(authHandler.Signup)))

	mux.HandleFunc("POST /logout", authHandler.Logout)

	// Outer stack for every route
	root := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "account_domain", cfg.AccountDomain)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
