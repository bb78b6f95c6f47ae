package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/locker"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/movement"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		envFile string
		port    int
		storage string
	)

	cmd := &cobra.Command{
		Use:          "fern",
		Short:        "Workflow configuration and monitoring API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("storage") {
				cfg.StorageDriver = storage
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to an optional .env file")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides PORT)")
	cmd.Flags().StringVar(&storage, "storage", "", "storage backend: postgres or memory (overrides STORAGE_DRIVER)")
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build(zap.Fields(zap.String("service", cfg.AppName)))
}

// backends are the storage, lock and event implementations chosen by config.
type backends struct {
	db        database.DB
	redis     *fernredis.Client
	catalog   repositories.CatalogRepo
	movements repositories.MovementRepo
	snapshot  repositories.Snapshotter
	locker    locker.Locker
	publisher events.Publisher
}

func (b *backends) sqlDB() *sqlx.DB {
	if b.db == nil {
		return nil
	}
	return b.db.SQLX()
}

func (b *backends) redisClient() *goredis.Client {
	if b.redis == nil {
		return nil
	}
	return b.redis.Redis()
}

func run(ctx context.Context, cfg *config.Config) error {
	zapLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	b := &backends{}
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	addDependencies(boot, cfg, b, logger)

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := boot.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("failed to stop dependencies")
		}
	}()

	catalogSvc := catalog.NewService(b.catalog, logger)
	builder := movement.NewBuilder(catalogSvc, b.movements, b.locker, b.publisher, identity.NewContextProvider(), logger)
	generator := report.NewGenerator(catalogSvc, b.movements, b.snapshot, logger)

	checker := health.NewChecker(b.sqlDB(), b.redisClient(), cfg.Version)

	e := newEcho(cfg, logger)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api/v1")
	if cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return err
		}
		g.Use(middleware.Authentication(logger, verifier))
	} else {
		g.Use(middleware.TestAuth())
	}
	handlers.NewCatalogHandler(catalogSvc).RegisterRoutes(g)
	handlers.NewMovementHandler(builder).RegisterRoutes(g)
	handlers.NewWorkflowHandler(generator).RegisterRoutes(g)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]any{
			"port":    cfg.Port,
			"storage": cfg.StorageDriver,
		}).Info("starting http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	checker.SetReady(true)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("http server failed")
			return err
		}
	case <-ctx.Done():
	}

	checker.SetReady(false)
	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newEcho(cfg *config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	return e
}

// addDependencies registers the backing services in start order. Memory
// storage and the in-process lock need nothing started.
func addDependencies(boot *startup.Startup, cfg *config.Config, b *backends, logger ectologger.Logger) {
	var tracer *tracing.Provider
	boot.AddDependency(startup.Func{
		Name: "tracing",
		StartFunc: func(ctx context.Context) error {
			var err error
			tracer, err = tracing.Setup(ctx, tracing.Config{
				ServiceName: cfg.AppName,
				Endpoint:    cfg.TracingEndpoint,
				Protocol:    cfg.TracingProtocol,
				Insecure:    cfg.TracingInsecure,
				Timeout:     5 * time.Second,
			})
			return err
		},
		StopFunc: func(ctx context.Context) error { return tracer.Shutdown(ctx) },
	})

	if cfg.StorageDriver == config.StoragePostgres {
		boot.AddDependency(startup.Func{
			Name:     "database",
			Requires: []string{"tracing"},
			StartFunc: func(ctx context.Context) error {
				db, err := database.Connect(ctx, database.ConnectionConfig{
					Driver:          cfg.DatabaseDriver,
					Host:            cfg.DatabaseHost,
					Port:            cfg.DatabasePort,
					User:            cfg.DatabaseUserName,
					Password:        cfg.DatabasePassword,
					Name:            cfg.DatabaseName,
					SSLMode:         cfg.DatabaseSSLMode,
					MaxOpenConns:    cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
				}, logger)
				if err != nil {
					return err
				}

				migrations := database.NewMigrationService(logger, &database.MigrationConfig{
					MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
					Version:             cfg.DatabaseMigrationVersion,
					Force:               cfg.DatabaseMigrationForce,
					AutoRollback:        cfg.DatabaseMigrationAutoRollback,
				})
				if err := migrations.Migrate(db.SQLX().DB, cfg.DatabaseName); err != nil {
					_ = db.Close()
					return err
				}

				movements := repositories.NewMovementRepository(db, logger)
				b.db = db
				b.catalog = repositories.NewCatalogRepository(db, logger)
				b.movements = movements
				b.snapshot = movements
				return nil
			},
			StopFunc: func(ctx context.Context) error { return b.db.Close() },
		})
	} else {
		movements := memory.NewMovementStore()
		b.catalog = memory.NewCatalogStore()
		b.movements = movements
		b.snapshot = movements
	}

	b.locker = locker.NewLocalLocker(cfg.MovementLockTimeout)
	if cfg.RedisEnabled {
		boot.AddDependency(startup.Func{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := fernredis.NewClient(ctx, fernredis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				b.redis = client
				b.locker = locker.NewRedisLocker(client, locker.RedisLockerConfig{
					TTL:     cfg.MovementLockTTL,
					Timeout: cfg.MovementLockTimeout,
				}, logger)
				return nil
			},
			StopFunc: func(ctx context.Context) error { return b.redis.Close() },
		})
	}

	b.publisher = events.NoopPublisher{}
	if cfg.KafkaEnabled {
		boot.AddDependency(startup.Func{
			Name: "kafka",
			StartFunc: func(ctx context.Context) error {
				brokers := events.ParseBrokers(cfg.KafkaBrokers)
				if len(brokers) == 0 {
					return errors.New("KAFKA_BROKERS is empty")
				}
				b.publisher = events.NewKafkaPublisher(events.KafkaConfig{
					Brokers: brokers,
					Topic:   cfg.KafkaEventsTopic,
				}, logger)
				return nil
			},
			StopFunc: func(ctx context.Context) error { return b.publisher.Close() },
		})
	}
}
