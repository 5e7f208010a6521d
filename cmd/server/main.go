package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"scribe-backend/internal/config"
	"scribe-backend/internal/database"
	"scribe-backend/internal/handlers"
	"scribe-backend/internal/logger"
	"scribe-backend/internal/metrics"
	"scribe-backend/internal/middleware"
	"scribe-backend/internal/providers"
	"scribe-backend/internal/repository"
	"scribe-backend/internal/router"
	"scribe-backend/internal/services"
	"scribe-backend/internal/websocket"
	"scribe-backend/internal/worker"
)

func main() {
	logger.SetupDefault(os.Stdout, slog.LevelInfo)
	log := slog.Default()
	log.Info("starting scribe backend")

	// ──── Configuration ────
	cfg := config.Load()

	// ──── PostgreSQL ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		fatal(log, "postgres connection failed", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		fatal(log, "database migration failed", err)
	}
	log.Info("postgres connected, migrations applied")

	// ──── Redis ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL, cfg.WorkerCount)
	if err != nil {
		fatal(log, "redis connection failed", err)
	}
	defer redisClients.Close()
	log.Info("redis connected")

	// ──── Metrics ────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// ──── Repositories ────
	userRepo := repository.NewUserRepo(pool)
	contentRepo := repository.NewContentRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	// ──── Providers ────
	catalog, err := providers.DefaultCatalog()
	if err != nil {
		fatal(log, "provider catalog invalid", err)
	}
	gemini := providers.NewGeminiBackend(cfg.GeminiConcurrentReqs)
	defer gemini.Close()

	providerRouter := providers.NewRouter(catalog, cfg.ProviderKeys, apiKeyRepo,
		map[providers.Kind]providers.Backend{
			providers.KindGemini:    gemini,
			providers.KindOpenAI:    providers.NewOpenAIBackend(&http.Client{Timeout: 60 * time.Second}),
			providers.KindAnthropic: providers.NewAnthropicBackend(""),
		},
		providers.WithRecorder(collector),
		providers.WithLogger(log),
	)

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth)
	queue := worker.NewQueue(redisClients.Queue)

	// ──── Workers ────
	workerPool := worker.NewPool(redisClients.Queue, contentRepo, collector, log, cfg.WorkerCount)
	workerPool.Start(context.Background())

	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, log)

	// ──── HTTP ────
	limiters := router.Limiters{
		Auth:     middleware.NewRateLimiter("auth", cfg.AuthRatePerMin, time.Minute),
		Generate: middleware.NewRateLimiter("generate", cfg.GenerateRatePerMin, time.Minute),
	}

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return redisClients.Queue.Ping(ctx).Err() },
	})

	r := router.New(
		log,
		collector,
		metrics.Handler(reg),
		jwtAuth,
		limiters,
		handlers.NewAuthHandler(authService),
		handlers.NewGenerateHandler(providerRouter, queue, log, cfg.IsDevelopment()),
		handlers.NewModelsHandler(providerRouter, catalog.DefaultModel()),
		health,
		wsHub,
		cfg.FrontendURL,
	)

	// Generation can take most of a minute on slow providers.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)

		workerPool.Stop()
		limiters.Auth.Stop()
		limiters.Generate.Stop()
	}()

	log.Info("scribe backend ready",
		slog.String("addr", server.Addr),
		slog.String("env", cfg.Env),
		slog.Int("workers", cfg.WorkerCount),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		fatal(log, "server error", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
