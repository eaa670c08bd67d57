package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/campaign-engine/internal/client"
	"github.com/utafrali/campaign-engine/internal/config"
	"github.com/utafrali/campaign-engine/internal/engine"
	"github.com/utafrali/campaign-engine/internal/event"
	handler "github.com/utafrali/campaign-engine/internal/handler/http"
	"github.com/utafrali/campaign-engine/internal/repository/postgres"
	"github.com/utafrali/campaign-engine/internal/repository/redis"
	"github.com/utafrali/campaign-engine/internal/service"
	"github.com/utafrali/campaign-engine/migrations"
	"github.com/utafrali/campaign-engine/pkg/database"
	"github.com/utafrali/campaign-engine/pkg/health"
	"github.com/utafrali/campaign-engine/pkg/httpclient"
	pkgkafka "github.com/utafrali/campaign-engine/pkg/kafka"
	"github.com/utafrali/campaign-engine/pkg/tracing"
)

// App wires together all dependencies and runs the campaign engine.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	orderCancelled *pkgkafka.Consumer
	sweeper        *service.ExpirySweeper
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.Init(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, config.ServiceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the candidate cache and consumer idempotency.
	rdb, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Collaborators sit behind retrying, circuit-broken HTTP clients.
	userStatsHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg.HTTPClient()), cfg.CircuitBreaker("user-stats"), logger)
	loyaltyHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg.HTTPClient()), cfg.CircuitBreaker("loyalty"), logger)
	users := client.NewUserStatsClient(userStatsHTTP, cfg.UserStatsServiceURL,
		cfg.UserStatsCacheBytes, cfg.UserStatsCacheTTL, logger)
	loyalty := client.NewLoyaltyClient(loyaltyHTTP, cfg.LoyaltyServiceURL)

	// Build the dependency graph.
	campaignRepo := postgres.NewCampaignRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	candidates := redis.NewCandidateCache(rdb, cfg.CandidateCacheTTL)
	eventProducer := event.NewProducer(producer, logger)

	audience, err := engine.NewAudienceEvaluator()
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("build audience evaluator: %w", err)
	}
	resolver := service.NewPromotionResolver(discountRepo, couponRepo, loyalty)
	selector := engine.NewSelector(engine.NewEligibility(audience), resolver, logger)

	campaignService := service.NewCampaignService(campaignRepo, candidates, audience, eventProducer, cfg.RequireApproval, logger)
	ledgerService := service.NewLedgerService(ledgerRepo, logger)
	checkoutService := service.NewCheckoutService(
		campaignRepo, ledgerRepo, candidates, users, selector, ledgerService, eventProducer,
		service.CheckoutConfig{MaxAttempts: cfg.CommitMaxAttempts, DefaultLocation: cfg.Location()},
		logger,
	)
	sweeper := service.NewExpirySweeper(campaignService, cfg.ExpirySweepInterval, logger)

	// Cancelled orders compensate the ledger exactly once per event.
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	idempotency := pkgkafka.NewRedisIdempotencyStore(rdb, config.ServiceName+":processed:",
		time.Duration(cfg.IdempotencyTTLHours)*time.Hour)
	var orderCancelled *pkgkafka.Consumer
	if cfg.KafkaConsumerEnabled {
		orderCancelled = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaConsumerGroup + "-order-cancelled",
			Topic:    event.TopicOrderCancelled,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(idempotency, event.OrderCancelledHandler(ledgerService, logger), logger), dlq, logger)
	}

	healthHandler := health.NewHandler(2 * time.Second)
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", producer.Ping)

	router := handler.NewRouter(handler.Services{
		Campaigns: campaignService,
		Ledger:    ledgerService,
		Checkout:  checkoutService,
		Discounts: service.NewDiscountService(discountRepo, logger),
		Coupons:   service.NewCouponService(couponRepo, logger),
	}, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPRequestTimeoutS)*time.Second + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          rdb,
		producer:       producer,
		dlq:            dlq,
		orderCancelled: orderCancelled,
		sweeper:        sweeper,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the order.cancelled consumer and the expiry
// sweeper, then blocks until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.orderCancelled != nil {
		g.Go(func() error {
			if err := a.orderCancelled.Start(gctx); err != nil {
				return fmt.Errorf("order cancelled consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})

	// Shut down once the parent is canceled or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka writers, then the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Flush spans after the HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.orderCancelled != nil {
		if err := a.orderCancelled.Close(); err != nil {
			a.logger.Error("order cancelled consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// Migrate applies pending migrations and exits. It is the body of the
// migrate command.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pending, err := database.PendingMigrations(migrations.FS)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	logger.Info("applying migrations", slog.Any("files", pending))

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	return database.RunMigrations(ctx, pool, migrations.FS, logger)
}

// pingKafkaWithRetry pings the brokers with exponential backoff
// (3 attempts, 1s/2s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- retry jitter
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
