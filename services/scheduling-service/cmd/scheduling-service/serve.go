package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/config"
	"github.com/clinicore/scheduling/libs/db"
	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/libs/kafkax"
	otelx "github.com/clinicore/scheduling/libs/otel"
	"github.com/clinicore/scheduling/libs/runtime"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/availability"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/handlers"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/locking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/notifications"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/outbox"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/slots"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage/memory"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default command)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Error("otel setup failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewScheduling(reg)

	var (
		store  storage.Store
		pool   *db.Pool
		checks []runtime.ReadyCheck
	)
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.New()
	}

	var rdb *redis.Client
	if cfg.LockDriver == "redis" || cfg.RateLimitBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var locker locking.Locker = locking.NewLocal()
	if cfg.LockDriver == "redis" {
		locker = locking.NewRedis(rdb, cfg.BookingLockTTL, "scheduling:booking")
	}

	lc := lifecycle.New(store, lifecycle.WithLogger(logger), lifecycle.WithMetrics(m))
	emitter := notifications.NewEmitter(store,
		notifications.WithProviderNotifications(cfg.NotifyProviderOnRequest),
		notifications.WithLogger(logger),
		notifications.WithMetrics(m),
	)
	lc.Subscribe(emitter)
	if pool != nil {
		lc.Subscribe(outbox.Recorder{})
	}

	h := handlers.New(handlers.Services{
		Availability: availability.NewService(store, availability.WithLogger(logger), availability.WithMetrics(m)),
		Slots:        slots.NewResolver(store, slots.WithMaxRangeDays(cfg.MaxSlotRangeDays), slots.WithMetrics(m)),
		Booking: booking.NewCoordinator(store, lc, locker,
			booking.Config{LockWait: cfg.BookingLockWait, Location: loc},
			booking.WithLogger(logger), booking.WithMetrics(m),
		),
		Lifecycle:     lc,
		Notifications: emitter,
	}, logger)

	authOpts := auth.Options{Secret: cfg.JWTSecret, TrustGatewayHeaders: cfg.TrustGatewayHeaders}
	if cfg.IsDev() && authOpts.Secret == "" && !authOpts.TrustGatewayHeaders {
		logger.Warn("no JWT_SECRET in development; trusting X-User-Id/X-Role headers")
		authOpts.TrustGatewayHeaders = true
	}

	var rateLimit httpx.Middleware
	switch cfg.RateLimitBackend {
	case "memory":
		rateLimit = httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware()
	case "redis":
		limit := int(cfg.RateLimitRPS)
		if limit < 1 {
			limit = 1
		}
		rateLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Second, "scheduling:ratelimit").Middleware(logger, true)
	}

	g, gctx := errgroup.WithContext(ctx)

	brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
	switch {
	case pool != nil && len(brokers) > 0:
		writer := kafkax.NewWriter(brokers)
		defer func() { _ = writer.Close() }()
		publisher := outbox.NewPublisher(pool, writer, logger, m, outbox.PublisherConfig{
			PollEvery: cfg.OutboxPollInterval,
			BatchSize: cfg.OutboxBatchSize,
		})
		g.Go(func() error { return publisher.Run(gctx) })
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	case pool != nil:
		logger.Warn("KAFKA_BROKERS not set; lifecycle events stay in the outbox")
	}

	router := handlers.NewRouter(h, handlers.RouterConfig{
		Logger:      logger,
		Auth:        authOpts,
		CORSOrigins: cfg.CORSOrigins(),
		RateLimit:   rateLimit,
		BodyLimit:   cfg.RequestBodyLimitBytes,
		Timeout:     cfg.RequestTimeout,
		ReadyChecks: checks,
		Gatherer:    reg,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("lock", cfg.LockDriver),
			zap.String("timezone", loc.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("http server stopped")
	return err
}
