package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"                      // .env loading for local runs
	"github.com/labstack/echo/v4"                   // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware" // recover and request logging
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/config"
	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
	"github.com/iliyamo/ticket-marketplace/internal/repository/memstore"
	"github.com/iliyamo/ticket-marketplace/internal/router"
	"github.com/iliyamo/ticket-marketplace/internal/service"
	"github.com/iliyamo/ticket-marketplace/internal/worker"
)

var version = "dev"

func main() {
	_ = godotenv.Load() // optional; real deployments set the environment directly
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupTelemetry(ctx, cfg.Telemetry, version)
	if err != nil {
		panic(err)
	}
	log := observability.NewLogger(cfg.Env, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	defer func() { _ = log.Sync() }()

	store, checks, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	rc := config.LoadRedisConfig()
	rdb := config.NewRedisClient(rc) // nil when Redis is down; HTTP middlewares degrade to pass-through
	if rdb == nil {
		log.Warn("redis unavailable; cache, rate limit, idempotency and webhook dedupe disabled", zap.String("addr", rc.Addr))
	} else {
		defer func() { _ = rdb.Close() }()
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	provider := newProvider(cfg.Payment, log)

	// ---- services ----
	opts := []service.Option{service.WithLogger(log)}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithPublisher(queue.NewPublisher(cfg.RabbitURL, log)))
	}
	ledger := service.NewLedger(store, opts...)
	reservations := service.NewReservationManager(store, ledger, cfg.Checkout.HoldTTL, opts...)
	var dedupe service.WebhookDeduper
	if rdb != nil {
		dedupe = service.NewRedisDeduper(rdb, "", 0)
	}
	coordinator := service.NewCoordinator(store, ledger, reservations, provider, dedupe, opts...)
	refunds := service.NewRefundProcessor(store, ledger, provider, opts...)
	catalog := service.NewCatalog(store, cfg.Payment.Currency, opts...)

	seedAdmin(ctx, cfg, store, log)

	// ---- background jobs ----
	var runner *worker.Runner
	var enqueuer *worker.Enqueuer
	if rdb != nil {
		opt := worker.RedisOpt(rc)
		runner = worker.NewRunner(opt, worker.NewHandlers(reservations, coordinator, refunds, worker.Defaults{
			SweepBatch:       cfg.Checkout.SweepBatch,
			ReconcileAfter:   cfg.Checkout.ReconcileAfter,
			ReconcileBatch:   cfg.Checkout.ReconcileBatch,
			RefundRetryBatch: cfg.Checkout.RefundRetryBatch,
		}, log), cfg.Checkout, log)
		if err := runner.Start(); err != nil {
			log.Fatal("worker start failed", zap.Error(err))
		}
		enqueuer = worker.NewEnqueuer(opt, cfg.Checkout)
		defer func() { _ = enqueuer.Close() }()
	} else {
		// lazy expiry on read still applies; only the periodic jobs are missing
		log.Warn("job queue disabled: holds expire lazily only and pending orders are not reconciled")
	}
	if cfg.EventsEnabled {
		consumer := queue.NewAuditConsumer(cfg.RabbitURL, cfg.AuditLogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(log))
	e.Use(middleware.Metrics())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	guard := []echo.MiddlewareFunc{
		middleware.NewTokenBucket(config.LoadCheckoutRateLimitConfig(), rdb),
		middleware.NewIdempotency(config.LoadIdempotencyConfig(), rdb),
	}
	var jobs handler.TaskEnqueuer
	if enqueuer != nil {
		jobs = enqueuer
	}

	router.RegisterRoutes(e, handler.NewHealthHandler(checks))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, store.Users(), store.Tokens()), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(catalog, log), middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterWebhooks(e, handler.NewWebhookHandler(provider, coordinator, log))
	router.RegisterCustomer(e, handler.NewCheckoutHandler(reservations, coordinator, log), handler.NewRefundHandler(refunds, log), cfg.JWTSecret, guard...)
	router.RegisterOrganizer(e, handler.NewOrganizerHandler(catalog, log), cfg.JWTSecret, guard...)
	router.RegisterRefunds(e, handler.NewRefundHandler(refunds, log), cfg.JWTSecret, guard...)
	router.RegisterAdmin(e, handler.NewAdminHandler(jobs, ledger, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver), zap.String("payments", cfg.Payment.Provider))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if runner != nil {
		runner.Shutdown()
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}

// openStore selects the MySQL store or the in-memory one.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.Store, map[string]handler.Pinger, func()) {
	checks := map[string]handler.Pinger{}
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), checks, func() {}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	if cfg.DBAutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := database.Migrate(mctx, db); err != nil {
			log.Fatal("db migrate failed", zap.Error(err))
		}
	}
	checks["mysql"] = db
	return repository.NewStore(db), checks, func() { _ = db.Close() }
}

// newProvider returns the configured provider wrapped in the retry policy.
func newProvider(pc config.PaymentConfig, log *zap.Logger) payment.Provider {
	var p payment.Provider
	switch pc.Provider {
	case "fake":
		secret := pc.WebhookSecret
		if secret == "" {
			secret = "whsec_local"
		}
		log.Warn("using fake payment provider")
		p = payment.NewFakeProvider(secret)
	default:
		p = payment.NewStripeProvider(pc.StripeKey, pc.WebhookSecret)
	}
	return payment.NewRetrying(p, payment.PolicyFromConfig(pc), log)
}

// seedAdmin creates the configured admin account once.
func seedAdmin(ctx context.Context, cfg config.Config, store repository.Store, log *zap.Logger) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	_, err := store.Users().Create(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost)
	switch {
	case err == nil:
		log.Info("admin account created", zap.String("email", cfg.AdminEmail))
	case errors.Is(err, repository.ErrEmailExists):
	default:
		log.Error("admin seed failed", zap.Error(err))
	}
}

// requestLogger writes one structured line per request.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
