package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/3moredev/climasys/cache"
	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/config"
	"github.com/3moredev/climasys/handlers"
	"github.com/3moredev/climasys/metrics"
	"github.com/3moredev/climasys/middleware"
	"github.com/3moredev/climasys/printing"
	"github.com/3moredev/climasys/store"
	"github.com/3moredev/climasys/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type App struct {
	Fiber       *fiber.App
	Postgres    *pgxpool.Pool
	Redis       *redis.Client
	Mongo       *mongo.Client
	MinioClient *minio.Client
	Ctx         context.Context
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.VisitMetrics
	Registry    *prometheus.Registry

	sessions *clinical.Sessions
	visits   *handlers.VisitHandler
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %v", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// connectWithRetry calls connect until it succeeds, backing off one more
// second after every failed attempt.
func connectWithRetry(logger *zap.Logger, backend string, connect func() error) error {
	const maxRetries = 5
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = connect(); err == nil {
			return nil
		}
		logger.Warn("backend unavailable, retrying",
			zap.String("backend", backend),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return fmt.Errorf("%s connection failed after %d attempts: %v", backend, maxRetries, err)
}

func NewApp() (*App, error) {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	ctx := context.Background()

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pool config: %v", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	var pgPool *pgxpool.Pool
	err = connectWithRetry(logger, "postgres", func() error {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		pgPool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis URL parsing failed: %v", err)
	}
	redisClient := redis.NewClient(redisOpt)
	if err := connectWithRetry(logger, "redis", func() error {
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		return nil, err
	}

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoDBURL))
	if err != nil {
		return nil, fmt.Errorf("mongodb client creation failed: %v", err)
	}
	if err := connectWithRetry(logger, "mongodb", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return mongoClient.Ping(pingCtx, nil)
	}); err != nil {
		return nil, err
	}

	var minioClient *minio.Client
	err = connectWithRetry(logger, "minio", func() error {
		var err error
		minioClient, err = minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Create the print surface bucket
	exists, err := minioClient.BucketExists(ctx, cfg.PrintBucket)
	if err != nil {
		logger.Error("failed to check bucket existence",
			zap.String("bucket", cfg.PrintBucket),
			zap.Error(err))
	} else if exists {
		logger.Info("bucket verified", zap.String("bucket", cfg.PrintBucket))
	} else {
		err = minioClient.MakeBucket(ctx, cfg.PrintBucket, minio.MakeBucketOptions{})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			logger.Error("failed to create bucket",
				zap.String("bucket", cfg.PrintBucket),
				zap.Error(err))
		} else {
			logger.Info("bucket created", zap.String("bucket", cfg.PrintBucket))
		}
	}

	registry := prometheus.NewRegistry()
	visitMetrics := metrics.NewVisitMetrics(registry)

	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			logger.Error("request error",
				zap.Error(err),
				zap.String("path", c.Path()),
				zap.Int("status", code))
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
		ReadTimeout: time.Second * 10,
		// print cycles wait for the station's dialog to close
		WriteTimeout: cfg.PrintCycleTimeout + 10*time.Second,
	})

	fiberApp.Use(middleware.RecoveryMiddleware(logger))
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       300,
	}))
	fiberApp.Use(middleware.RequestLogger(logger))

	return &App{
		Fiber:       fiberApp,
		Postgres:    pgPool,
		Redis:       redisClient,
		Mongo:       mongoClient,
		MinioClient: minioClient,
		Ctx:         ctx,
		Config:      cfg,
		Logger:      logger,
		Metrics:     visitMetrics,
		Registry:    registry,
	}, nil
}

func (a *App) setupRoutes() error {
	catalogs := store.NewCatalogStore(a.Postgres,
		cache.NewCache(a.Redis, "catalog:"), a.Config.CatalogCacheTTL, a.Logger)
	visitStore := store.NewVisitStore(a.Mongo.Database(a.Config.MongoDBName), a.Logger)

	a.sessions = clinical.NewSessions(clinical.Options{
		Catalogs: catalogs,
		Details:  visitStore,
		Saver:    visitStore,
		IDs:      utils.NewIDGenerator(0),
		Logger:   a.Logger,
		Recorder: a.Metrics,
		Retry: clinical.RetryPolicy{
			Attempts: a.Config.DetailRetryAttempts,
			Delay:    a.Config.DetailRetryDelay,
		},
	})

	spooler := printing.NewSpooler(a.MinioClient, a.Config.PrintBucket, a.Redis, a.Logger)
	tokens := utils.NewJwtTokenGenerator(a.Redis, a.Config.JWTSecret, 0)
	authMiddleware := middleware.NewAuthMiddleware(a.Logger, tokens)

	a.visits = handlers.NewVisitHandler(a.sessions, a.Logger)
	catalogHandler := handlers.NewCatalogHandler(catalogs, a.Logger)
	printHandler := handlers.NewPrintHandler(
		func(station string) printing.Platform { return spooler.Station(station) },
		spooler,
		a.Config.PrintCycleTimeout,
		a.Logger,
		printing.WithFallbackTimeout(a.Config.PrintFallbackTimeout),
		printing.WithRecorder(a.Metrics),
	)

	a.Fiber.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": a.sessions.Len()})
	})
	a.Fiber.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	api := a.Fiber.Group("/api", authMiddleware.Handler())
	api.Post("/auth/revoke", authMiddleware.Revoke)
	api.Get("/catalogs/:kind", catalogHandler.SearchCatalog)

	visits := api.Group("/visits/sessions")
	visits.Post("/", a.visits.OpenSession)
	visits.Get("/:id", a.visits.GetSession)
	visits.Delete("/:id", a.visits.CloseSession)
	visits.Post("/:id/refresh", a.visits.Refresh)
	visits.Post("/:id/save", a.visits.Save)
	visits.Post("/:id/catalogs/:kind/reload", a.visits.ReloadCatalog)
	visits.Put("/:id/:kind/selection", a.visits.SetSelection)
	visits.Post("/:id/:kind/bulk", a.visits.BulkAdd)
	visits.Post("/:id/:kind/custom", a.visits.AddCustom)
	visits.Delete("/:id/:kind/rows/:key", a.visits.RemoveRow)
	visits.Patch("/:id/:kind/rows/:rowID", a.visits.UpdateField)

	stations := api.Group("/print/:station")
	stations.Post("/jobs", printHandler.RunJob)
	stations.Post("/events", printHandler.PostEvent)

	return nil
}

// sweepSessions closes idle visit sessions until ctx ends.
func (a *App) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(a.Config.SessionIdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(a.Config.SessionIdleTimeout); n > 0 {
				a.Logger.Info("closed idle visit sessions", zap.Int("count", n))
			}
		}
	}
}

func (a *App) Start() error {
	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.setupRoutes(); err != nil {
		return fmt.Errorf("failed to setup routes: %v", err)
	}

	sweepCtx, stopSweep := context.WithCancel(a.Ctx)
	defer stopSweep()
	go a.sweepSessions(sweepCtx)

	go func() {
		if err := a.Fiber.Listen(":" + a.Config.ServerPort); err != nil {
			a.Logger.Fatal("failed to start server",
				zap.Error(err),
				zap.String("port", a.Config.ServerPort))
		}
	}()

	a.Logger.Info("server started",
		zap.String("port", a.Config.ServerPort))

	// Wait for interrupt signal
	<-sigChan
	a.Logger.Info("shutting down server...")

	if err := a.Fiber.Shutdown(); err != nil {
		a.Logger.Error("error during server shutdown",
			zap.Error(err))
	}
	a.visits.Wait()

	a.Postgres.Close()
	if err := a.Redis.Close(); err != nil {
		a.Logger.Error("error closing redis connection",
			zap.Error(err))
	}
	disconnectCtx, cancel := context.WithTimeout(a.Ctx, 10*time.Second)
	defer cancel()
	if err := a.Mongo.Disconnect(disconnectCtx); err != nil {
		a.Logger.Error("error closing mongodb connection",
			zap.Error(err))
	}
	if err := a.Logger.Sync(); err != nil {
		log.Printf("error syncing logger: %v", err)
	}

	return nil
}

func main() {
	app, err := NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
