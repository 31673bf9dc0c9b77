package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patteeraL/movra/services/currency-converter/internal/cache"
	"github.com/patteeraL/movra/services/currency-converter/internal/config"
	"github.com/patteeraL/movra/services/currency-converter/internal/database"
	"github.com/patteeraL/movra/services/currency-converter/internal/events"
	"github.com/patteeraL/movra/services/currency-converter/internal/handler"
	"github.com/patteeraL/movra/services/currency-converter/internal/jobs"
	"github.com/patteeraL/movra/services/currency-converter/internal/metrics"
	"github.com/patteeraL/movra/services/currency-converter/internal/provider"
	"github.com/patteeraL/movra/services/currency-converter/internal/repository"
	"github.com/patteeraL/movra/services/currency-converter/internal/retention"
	"github.com/patteeraL/movra/services/currency-converter/internal/service"
	"github.com/patteeraL/movra/services/currency-converter/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcserver "github.com/patteeraL/movra/services/currency-converter/internal/grpc"
)

const serviceName = "currency-converter"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting Currency Converter Service",
		zap.String("environment", cfg.Environment),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("grpcPort", cfg.GRPCPort),
		zap.String("storeBackend", cfg.StoreBackend),
	)

	// Setup tracing
	shutdownTracing, err := tracing.Setup(tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		CollectorURL: cfg.JaegerURL,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to setup tracing", zap.Error(err))
	}

	// Setup metrics
	appMetrics := metrics.NewMetrics("currency_converter", nil)

	// Setup the recent conversions store
	store, closeStore := setupStore(cfg, logger)

	// Setup the resource cache; every outbound GET goes through it
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	var cacheManager *cache.Manager
	var cacheDB *database.Lazy
	if cfg.CacheEnabled {
		cacheDB = database.NewLazy(database.Config{
			Path:    cfg.CacheDatabasePath,
			Profile: database.ProfileCache,
			Name:    "resource-cache",
		})
		cacheManager = cache.NewManager(
			cache.NewSQLiteStorage(cacheDB),
			http.DefaultTransport,
			cache.Config{
				Rules:              cacheRules(cfg),
				InstallConcurrency: cfg.CacheConcurrency,
				MaxEntryBytes:      cfg.CacheMaxEntryBytes,
			},
			appMetrics,
			logger,
		)
		httpClient = cache.NewTransport(cacheManager).Client(httpClient)
	}

	// Setup rate provider based on configuration
	rateProvider := setupProvider(cfg, httpClient, logger)
	logger.Info("Rate provider configured", zap.String("provider", rateProvider.Name()))

	if cacheManager != nil {
		startCache(cfg, cacheManager, rateProvider, logger)
	}

	// Setup retention
	orderBy, err := repository.ParseOrderBy(cfg.RecentOrder)
	if err != nil {
		logger.Fatal("Invalid RECENT_ORDER", zap.Error(err))
	}
	enforcer, err := retention.NewEnforcer(store, cfg.RecentLimit, orderBy, appMetrics, logger)
	if err != nil {
		logger.Fatal("Invalid retention policy", zap.Error(err))
	}

	// Setup event publisher
	publisher := setupPublisher(cfg, logger)

	// Create converter service with dependency injection
	converterService := service.NewConverterService(
		service.Config{
			FlagURLTemplate: cfg.FlagURLTemplate,
			FlagPathPrefix:  "/api/flags/",
		},
		rateProvider,
		store,
		enforcer,
		publisher,
		httpClient,
		appMetrics,
		logger,
	)

	// Load countries once so the state is known before the first request
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), cfg.HTTPClientTimeout)
	if _, err := converterService.Countries(warmCtx); err != nil {
		logger.Warn("Countries unavailable at startup", zap.Error(err))
	}
	cancelWarm()

	// Start history sync consumer
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	var historyConsumer *events.HistoryConsumer
	if cfg.HistorySyncEnabled {
		historyConsumer = startHistorySync(consumerCtx, cfg, store, appMetrics, logger)
	}

	// Setup background jobs
	scheduler := setupScheduler(cfg, enforcer, converterService, logger)
	scheduler.Start()

	// Setup Gin router
	router := setupRouter(cfg, logger, converterService, cacheManager)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPClientTimeout + 5*time.Second,
	}

	// Create gRPC server
	grpcServer := setupGRPCServer(converterService, logger)

	// Start servers
	startServers(cfg, httpServer, grpcServer, logger)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Graceful shutdown
	shutdownServers(ctx, httpServer, grpcServer, logger)
	scheduler.Stop(ctx)

	cancelConsumer()
	if historyConsumer != nil {
		if err := historyConsumer.Close(); err != nil {
			logger.Error("History sync consumer close error", zap.Error(err))
		}
	}

	if err := publisher.Close(); err != nil {
		logger.Error("Event publisher close error", zap.Error(err))
	}
	closeStore()
	if cacheDB != nil {
		if err := cacheDB.Close(); err != nil {
			logger.Error("Cache database close error", zap.Error(err))
		}
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("Tracing shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error

	if cfg.IsProduction() {
		zapCfg := zap.NewProductionConfig()
		if level, lerr := zap.ParseAtomicLevel(cfg.LogLevel); lerr == nil {
			zapCfg.Level = level
		}
		logger, err = zapCfg.Build()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		panic(err)
	}

	return logger.With(zap.String("service", serviceName))
}

func setupStore(cfg *config.Config, logger *zap.Logger) (repository.RecordStore, func()) {
	if cfg.StoreBackend == config.BackendRedis {
		redisClient := setupRedis(cfg, logger)
		return repository.NewRedisRecordStore(redisClient, cfg.RedisKeyPrefix), func() {
			// Close Redis connection
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		}
	}

	// Opened on first use; every caller shares the one handle
	db := database.NewLazy(database.Config{
		Path:    cfg.DatabasePath,
		Profile: database.ProfileStandard,
		Name:    "x-change",
	})
	logger.Info("Using SQLite record store", zap.String("path", cfg.DatabasePath))
	return repository.NewSQLiteRecordStore(db), func() {
		if err := db.Close(); err != nil {
			logger.Error("Database close error", zap.Error(err))
		}
	}
}

func setupRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn("Redis connection failed, recent conversions unavailable until it recovers", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	return redisClient
}

func setupProvider(cfg *config.Config, client *http.Client, logger *zap.Logger) provider.RateProvider {
	switch cfg.ProviderType {
	case "simulated":
		providerCfg := provider.DefaultSimulatedConfig()
		providerCfg.MaxDrift = cfg.ProviderMaxDrift
		return provider.NewSimulatedProvider(providerCfg)

	case "currencyconverterapi":
		return provider.NewCurrencyConverterProvider(provider.CurrencyConverterConfig{
			BaseURL: cfg.ProviderBaseURL,
			APIKey:  cfg.ProviderAPIKey,
			Timeout: cfg.HTTPClientTimeout,
		}, client, logger)

	default:
		logger.Info("Unknown provider type, defaulting to simulated",
			zap.String("configured", cfg.ProviderType),
		)
		return provider.NewSimulatedProvider(provider.DefaultSimulatedConfig())
	}
}

// cacheRules allow-lists the flag host plus any configured prefixes
func cacheRules(cfg *config.Config) []cache.Rule {
	var rules []cache.Rule
	if prefix, _, ok := strings.Cut(cfg.FlagURLTemplate, "{code}"); ok && prefix != "" {
		rules = append(rules, cache.Rule{Prefix: prefix})
	}
	for _, p := range cfg.CacheAllowPrefixes {
		rules = append(rules, cache.Rule{Prefix: p})
	}
	for _, p := range cfg.CacheOpaquePrefixes {
		rules = append(rules, cache.Rule{Prefix: p, Opaque: true})
	}
	return rules
}

// startCache installs and activates the configured generation. A failed
// install leaves the previous generation serving.
func startCache(cfg *config.Config, m *cache.Manager, rateProvider provider.RateProvider, logger *zap.Logger) {
	entries := cfg.CacheManifest
	if p, ok := rateProvider.(*provider.CurrencyConverterProvider); ok {
		entries = append(append([]string(nil), entries...), p.CountriesURL())
	}

	manifest, err := cache.ResolveManifest(cfg.AppOrigin, entries)
	if err != nil {
		logger.Error("Invalid cache manifest", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.HTTPClientTimeout)
	defer cancel()

	if err := m.Start(ctx, cfg.CacheVersion, manifest); err != nil {
		var installErr *cache.ManifestInstallError
		if errors.As(err, &installErr) {
			logger.Error("Resource cache install failed",
				zap.String("generation", installErr.Generation),
				zap.String("url", installErr.URL),
				zap.Error(err),
			)
			return
		}
		logger.Error("Resource cache start failed", zap.Error(err))
		return
	}

	state, active := m.State()
	logger.Info("Resource cache ready",
		zap.String("state", string(state)),
		zap.String("generation", active),
		zap.Int("entries", len(manifest)),
	)
}

func setupPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	brokers := events.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("Kafka not configured, conversion events disabled")
		return events.NopPublisher{}
	}
	logger.Info("Publishing conversion events",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return events.NewKafkaPublisher(brokers, cfg.KafkaTopic, cfg.InstanceID, logger)
}

// startHistorySync mirrors peer instances' conversions into the local store
func startHistorySync(ctx context.Context, cfg *config.Config, store repository.RecordStore, appMetrics *metrics.Metrics, logger *zap.Logger) *events.HistoryConsumer {
	consumer := events.NewHistoryConsumer(
		events.ParseBrokers(cfg.KafkaBrokers),
		cfg.KafkaTopic,
		cfg.KafkaGroupID,
		cfg.InstanceID,
		store,
		appMetrics,
		logger,
	)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("History sync consumer stopped", zap.Error(err))
		}
	}()

	return consumer
}

func setupScheduler(cfg *config.Config, enforcer *retention.Enforcer, svc *service.ConverterService, logger *zap.Logger) *jobs.Scheduler {
	scheduler := jobs.NewScheduler(cfg.HTTPClientTimeout*2, logger)

	if cfg.RetentionSchedule != "" {
		if err := scheduler.AddJob(cfg.RetentionSchedule, jobs.NewRetentionJob(enforcer)); err != nil {
			logger.Fatal("Invalid RETENTION_SCHEDULE", zap.Error(err))
		}
	}
	if cfg.CountriesSchedule != "" {
		if err := scheduler.AddJob(cfg.CountriesSchedule, jobs.NewCountriesRefreshJob(svc)); err != nil {
			logger.Fatal("Invalid COUNTRIES_REFRESH_SCHEDULE", zap.Error(err))
		}
	}

	return scheduler
}

func setupRouter(cfg *config.Config, logger *zap.Logger, svc *service.ConverterService, cacheManager *cache.Manager) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(logger))

	opts := handler.Options{MetricsPath: cfg.MetricsEndpoint}
	if cfg.MetricsEnabled {
		opts.MetricsHandler = promhttp.Handler()
	}
	if cacheManager != nil {
		opts.Cache = cacheManager
	}

	// Setup HTTP handler
	httpHandler := handler.NewHTTPHandler(svc, opts, logger)
	httpHandler.SetupRoutes(router)

	return router
}

func setupGRPCServer(svc *service.ConverterService, logger *zap.Logger) *grpc.Server {
	grpcServer := grpc.NewServer()

	// Register converter service
	grpcserver.RegisterConverterServer(grpcServer, grpcserver.NewConverterServer(svc, logger))

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for debugging (disable in production if needed)
	reflection.Register(grpcServer)

	return grpcServer
}

func startServers(cfg *config.Config, httpServer *http.Server, grpcServer *grpc.Server, logger *zap.Logger) {
	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start gRPC server
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen for gRPC", zap.Error(err))
		}

		logger.Info("Starting gRPC server", zap.Int("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()
}

func shutdownServers(ctx context.Context, httpServer *http.Server, grpcServer *grpc.Server, logger *zap.Logger) {
	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Gracefully stop gRPC server
	grpcServer.GracefulStop()
}
