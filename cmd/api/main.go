package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
	"github.com/go-otp-auth/internal/infrastructure/sns"
	applog "github.com/go-otp-auth/internal/log"
	"github.com/go-otp-auth/internal/metrics"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/go-otp-auth/internal/pkg/password"
	transporthttp "github.com/go-otp-auth/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file found, reading from environment")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dynamodb client: %w", err)
	}
	if err := dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}

	clk := clock.System{}
	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users, clk)

	jwtProvider, err := jwtinfra.NewProvider(cfg, clk, logger)
	if err != nil {
		return fmt.Errorf("jwt provider: %w", err)
	}

	smsSender, err := sns.NewSender(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("sms sender: %w", err)
	}

	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:              userRepo,
		SMSSender:             smsSender,
		Hasher:                password.NewHasher(cfg.BcryptCost),
		TokenIssuer:           jwtProvider,
		Clock:                 clk,
		Logger:                logger,
		OTPExpiry:             cfg.OTPExpiry,
		DependencyTimeout:     cfg.DependencyTimeout,
		PendingReregistration: cfg.PendingReregistration,
	})

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		AuthService:   authSvc,
		TokenVerifier: jwtProvider,
		Store:         userRepo,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newLogger uses colored text output in development and JSON elsewhere. Both
// carry the chi request id when one is on the context.
func newLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler
	if cfg.IsDevelopment() {
		h = tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.SlogLevel(), TimeFormat: time.Kitchen})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	}
	return slog.New(applog.NewContextHandler(h))
}
