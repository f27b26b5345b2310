// Package main запускает HTTP-сервер сервиса doorprize.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/doorprize-api/internal/config"
	"github.com/mmeshcher/doorprize-api/internal/handler"
	"github.com/mmeshcher/doorprize-api/internal/middleware"
	"github.com/mmeshcher/doorprize-api/internal/repository"
	"github.com/mmeshcher/doorprize-api/internal/service"
	"github.com/mmeshcher/doorprize-api/internal/supabase"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sugar.Warnw("load .env file", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "storage", cfg.Storage(), "error", err.Error())
	}

	svc := service.NewService(repo, logger.Named("service"))
	defer svc.Close()

	if cfg.UsesDefaultAPISecret() {
		sugar.Warn("API_SECRET_KEY is not set, using the default secret; set it before going to production")
	}

	apiKey := middleware.NewAPIKeyMiddleware(cfg.APISecretKey, logger.Named("auth"))
	h := handler.NewHandler(svc, logger.Named("http"), apiKey, cfg)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logStartup(sugar, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting doorprize server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openRepository выбирает хранилище: прямое подключение к PostgreSQL или Supabase REST.
func openRepository(cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	if cfg.Storage() == config.StoragePostgres {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	return supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, logger), nil
}

func setOrUnset(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

func logStartup(sugar *zap.SugaredLogger, cfg *config.Config) {
	sugar.Infow("doorprize configuration",
		"environment", cfg.Environment,
		"storage", cfg.Storage(),
		"api_auth", "enabled",
		"api_secret_default", cfg.UsesDefaultAPISecret(),
		"supabase_service_key", setOrUnset(cfg.SupabaseServiceKey),
		"request_timeout", cfg.RequestTimeout.String(),
		"cors_origins", cfg.AllowedOrigins,
	)
	sugar.Infow("registered routes", "routes", []string{
		"GET /",
		"GET /api/vouchers",
		"POST /api/vouchers [x-api-key]",
		"GET /api/source",
		"GET /api/live-url",
		"GET /api/health",
	})
}
