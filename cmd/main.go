package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/matcha-composite/internal/adapters/downstream"
	"github.com/okian/matcha-composite/internal/adapters/http/api"
	"github.com/okian/matcha-composite/internal/adapters/http/swagger"
	app "github.com/okian/matcha-composite/internal/app"
	"github.com/okian/matcha-composite/internal/auth"
	"github.com/okian/matcha-composite/internal/config"
	"github.com/okian/matcha-composite/pkg/logger"
	"github.com/okian/matcha-composite/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Stderr.WriteString("failed to read .env: " + err.Error() + "\n")
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Get().Error(ctx, "failed to load config", logger.Error(err))
		os.Exit(1)
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "text" {
		if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
			logger.Get().Warn(ctx, "invalid log_format; keeping text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
		}
	}
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	handler, err := buildHandler(ctx, cfg, loggerInstance)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build service", logger.Error(err))
		os.Exit(1)
	}

	go metrics.StartSystemUpdater(ctx, cfg.MetricsRefresh())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// buildHandler wires gateways, auth, the summary service and every route.
func buildHandler(ctx context.Context, cfg *config.Config, log logger.Logger) (http.Handler, error) {
	gwOpts := []downstream.Option{
		downstream.WithTimeout(cfg.DownstreamTimeout()),
		downstream.WithLogger(log),
	}
	users, err := downstream.NewUserGateway(cfg.UserServiceBaseURL, gwOpts...)
	if err != nil {
		return nil, err
	}
	budget, err := downstream.NewBudgetGateway(cfg.BudgetServiceBaseURL, gwOpts...)
	if err != nil {
		return nil, err
	}
	rankings, err := downstream.NewRankingGateway(cfg.RankingServiceBaseURL, gwOpts...)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewManager(auth.Config{
		Secret:    cfg.JWTSecret,
		Algorithm: cfg.JWTAlgorithm,
		TTL:       cfg.JWTTTL(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.GoogleClientID == "" {
		log.Warn(ctx, "google_client_id not set; Google sign-in will reject every token")
	}
	verifier := auth.NewGoogleVerifier(
		auth.NewKeySet(cfg.GoogleCertsURL, auth.WithKeyHTTPClient(&http.Client{Timeout: cfg.DownstreamTimeout()})),
		cfg.GoogleClientID,
		nil,
	)

	svc := app.New(
		app.WithLogger(log),
		app.WithDefaultLimit(cfg.DefaultSummaryLimit),
		app.WithUsers(users),
		app.WithExpenses(budget),
		app.WithRankings(rankings),
	)

	apiServer := api.NewServer(
		api.WithLogger(log),
		api.WithSummaryService(svc),
		api.WithTokens(tokens),
		api.WithIdentityExchanger(auth.NewExchanger(verifier, tokens)),
		api.WithSummaryLimits(cfg.DefaultSummaryLimit, cfg.MaxSummaryLimit),
		api.WithDevLogin(cfg.DevLoginEnabled),
		api.WithAllowedOrigins(cfg.AllowedOrigins()),
	)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	apiServer.Register(ctx, mux)
	return apiServer.Handler(mux), nil
}
