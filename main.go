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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	slackapi "github.com/slack-go/slack"

	"zapask/internal/ask"
	"zapask/internal/cache"
	"zapask/internal/config"
	"zapask/internal/handlers"
	"zapask/internal/ingest"
	"zapask/internal/integrations/slack"
	"zapask/internal/jobs"
	"zapask/internal/logging"
	"zapask/internal/middleware"
	"zapask/internal/planner"
	"zapask/internal/quota"
	"zapask/internal/retrieval"
	"zapask/internal/services"
	"zapask/internal/storage"
	"zapask/internal/syncer"
	"zapask/internal/tenants"
)

type ServiceBundle struct {
	Config   *config.Config
	Store    *storage.PostgresStore
	Redis    *redis.Client
	Ask      *ask.Service
	Tenants  *tenants.Directory
	Backfill *jobs.EmbeddingBackfill
}

// connectWithRetry keeps trying until connect succeeds or ctx ends.
func connectWithRetry(ctx context.Context, name string, connect func() error) error {
	for {
		err := connect()
		if err == nil {
			return nil
		}
		slog.Error("Failed to connect, retrying in 30s", "dependency", name, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Second):
		}
	}
}

func initializeServices(ctx context.Context, cfg *config.Config) (*ServiceBundle, error) {
	slog.Info("Initializing services...")

	var store *storage.PostgresStore
	err := connectWithRetry(ctx, "postgres", func() error {
		s, err := storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	err = connectWithRetry(ctx, "redis", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	openaiClient := services.NewOpenAIClient(cfg.OpenAIAPIKey, "")
	embeddings := services.NewEmbeddingService(openaiClient, cfg.EmbeddingModel)
	planning := services.NewReasoningService(openaiClient, services.ReasoningOptions{
		Kind:        "planning",
		Model:       cfg.PlanningModel,
		MaxTokens:   800,
		Temperature: 0.1,
	})
	answering := services.NewReasoningService(openaiClient, services.ReasoningOptions{
		Kind:        "answer",
		Model:       cfg.AnswerModel,
		MaxTokens:   1200,
		Temperature: 0.3,
		Timeout:     45 * time.Second,
	})

	var slackOptions []slackapi.Option
	if cfg.SlackAPIURL != "" {
		slackOptions = append(slackOptions, slackapi.OptionAPIURL(cfg.SlackAPIURL))
	}
	slackClients := slack.NewClientFactory(slackOptions...)

	logger := slog.Default()

	files := ingest.NewPipeline(embeddings, store, ingest.NewLimiter(cfg.FileConcurrency), cfg.ChunkSize, logger)

	// the debouncer follows the lock so a single instance needs no shared state
	var locks syncer.Locker = syncer.NewMemoryLocker()
	var debouncer syncer.Debouncer = syncer.NewMemoryDebouncer(1000, cfg.SyncDebounce)
	if cfg.LockBackend == "redis" {
		locks = syncer.NewRedisLocker(rdb, 0)
		debouncer = syncer.NewRedisDebouncer(rdb, cfg.SyncDebounce)
	}
	coordinator := syncer.NewCoordinator(store, embeddings, files, locks, syncer.Options{
		Lookback: cfg.SyncLookback(),
		Logger:   logger,
	})

	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.Retention = cfg.Retention()

	var cacheBackend cache.Backend = cache.NewRedisBackend(rdb)
	if cfg.CacheBackend == "memory" {
		cacheBackend = cache.NewMemoryBackend(1000, cfg.ResponseCacheTTL)
	}

	directory := tenants.NewDirectory(store, rdb, tenants.DefaultFlagTTL, logger)

	askService := ask.NewService(ask.Deps{
		Cache:     cache.NewResponseCache(cacheBackend, cfg.ResponseCacheTTL, logger),
		Tenants:   directory,
		Quota:     quota.NewGovernor(rdb, cfg.DailyAskLimit),
		Timezones: quota.NewTimezoneResolver(rdb, quota.DefaultTimezoneTTL, logger),
		Debouncer: debouncer,
		Syncer:    coordinator,
		Planner:   planner.New(planning, logger),
		Retriever: retrieval.NewExecutor(store, embeddings, retrievalCfg, logger),
		Answerer:  ask.NewGenerator(answering),
		ClientFor: func(botToken string) ask.Client { return slackClients.ForToken(botToken) },
	})

	backfill := jobs.NewEmbeddingBackfill(store, embeddings, cfg.BackfillInterval, logger)
	backfill.SetBatchSize(cfg.BackfillBatchSize)

	slog.Info("All services initialized successfully")

	return &ServiceBundle{
		Config:   cfg,
		Store:    store,
		Redis:    rdb,
		Ask:      askService,
		Tenants:  directory,
		Backfill: backfill,
	}, nil
}

func newRouter(svc *ServiceBundle, stop <-chan struct{}) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	askHandler := handlers.NewAskHandler(svc.Ask, 90*time.Second)
	accountHandler := handlers.NewAccountHandler(svc.Store, svc.Tenants)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.APIRateLimitMiddleware(stop))
	apiRouter.Use(handlers.VerifySignature(svc.Config.RouterSigningSecret))
	apiRouter.HandleFunc("/ask", askHandler.HandleAsk).Methods("POST")
	apiRouter.HandleFunc("/optout", accountHandler.HandleOptOut).Methods("POST")
	apiRouter.HandleFunc("/optin", accountHandler.HandleOptIn).Methods("POST")
	apiRouter.HandleFunc("/smart-context", accountHandler.HandleSmartContext).Methods("POST")

	router.HandleFunc("/health", handlers.Health).Methods("GET")
	router.HandleFunc("/ready", handlers.Ready(map[string]handlers.Pinger{
		"postgres": handlers.PingFunc(svc.Store.Ping),
		"redis": handlers.PingFunc(func(ctx context.Context) error {
			return svc.Redis.Ping(ctx).Err()
		}),
	})).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

func main() {
	cfg := config.Load()
	logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting zapask", slog.String("environment", cfg.Environment))

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := initializeServices(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer svc.Store.Close()
	defer svc.Redis.Close()

	go svc.Backfill.Start(ctx)

	stop := make(chan struct{})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(svc, stop),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Server shutting down...")

	svc.Backfill.Stop()
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server exited gracefully")
}
