package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wizardbeardstudio/open-transfer-go/internal/account"
	"github.com/wizardbeardstudio/open-transfer-go/internal/config"
	"github.com/wizardbeardstudio/open-transfer-go/internal/events"
	"github.com/wizardbeardstudio/open-transfer-go/internal/idempotency"
	"github.com/wizardbeardstudio/open-transfer-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-transfer-go/internal/saga"
	"github.com/wizardbeardstudio/open-transfer-go/internal/server"
	"github.com/wizardbeardstudio/open-transfer-go/internal/store"
)

const (
	shutdownTimeout     = 10 * time.Second
	cacheJanitorEvery   = time.Minute
	statusGaugeInterval = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := buildLogger(cfg.DevLogging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clk := clock.RealClock{}
	checks := make(map[string]server.Pinger)

	var st store.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure transfers schema: %v", err)
		}
		st = pg
		checks["postgres"] = db.PingContext
		logger.Info("using postgres store")
	} else {
		mem, err := store.NewMemStore()
		if err != nil {
			log.Fatalf("build memory store: %v", err)
		}
		st = mem
		logger.Warn("no database configured, transfers will not survive a restart")
	}

	var cache idempotency.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("ping redis: %v", err)
		}
		cache = idempotency.NewRedisCache(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("using redis idempotency cache", zap.String("addr", cfg.RedisAddr))
	} else {
		mem := idempotency.NewMemoryCache(clk)
		mem.StartJanitor(ctx, cacheJanitorEvery, logger.Sugar().Debugf, nil)
		cache = mem
		logger.Info("using in-process idempotency cache")
	}

	publisher, closePublisher, err := buildPublisher(cfg)
	if err != nil {
		log.Fatalf("build event publisher: %v", err)
	}
	defer closePublisher()
	logger.Info("event publisher ready", zap.String("driver", cfg.BusDriver))

	var tokens *account.TokenSource
	if cfg.AccountTokenSecret != "" {
		tokens = account.NewTokenSource(cfg.AccountTokenSecret, cfg.AccountTokenSubject, cfg.AccountTokenTTL, clk)
	} else {
		logger.Warn("no account token secret configured, port calls go out unauthenticated")
	}
	port := account.WithPolicy(
		account.NewHTTPClient(cfg.AccountBaseURL, &http.Client{Timeout: cfg.PortDeadline}, tokens),
		account.PolicyConfig{
			Deadline:         cfg.PortDeadline,
			MaxRetries:       uint64(cfg.RetryMax),
			BreakerOpenAfter: uint32(cfg.BreakerOpenAfter),
			BreakerCooldown:  cfg.BreakerCooldown,
		},
		logger,
	)

	metrics := saga.NewMetrics()
	orc := saga.New(st, cache, port, publisher, saga.Options{
		Clock:            clk,
		Logger:           logger,
		Metrics:          metrics,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		ReferenceRetries: cfg.ReferenceRetries,
	})
	orc.StartRecoverySweeper(ctx, cfg.SweepInterval, cfg.StuckThreshold, logger.Sugar().Infof, nil)
	if db != nil {
		go refreshStatusGauge(ctx, metrics, db)
	}

	app := server.NewAPI(orc, logger).App()

	opsMux := http.NewServeMux()
	server.NewOpsHandler(cfg.Version, clk, checks).Register(opsMux)
	opsServer := &http.Server{Addr: cfg.OpsAddr, Handler: opsMux}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("ops listening", zap.String("addr", cfg.OpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("api shutdown", zap.Error(err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops shutdown", zap.Error(err))
	}
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildPublisher selects the event transport from config. The returned
// closer is safe to call once the servers have drained.
func buildPublisher(cfg config.Config) (events.Publisher, func(), error) {
	switch cfg.BusDriver {
	case config.BusRabbit:
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		pub, err := events.NewRabbitPublisher(conn, cfg.RabbitExchange)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return pub, func() {
			_ = pub.Close()
			_ = conn.Close()
		}, nil
	case config.BusKafka:
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil
	default:
		return events.NewMemoryPublisher(), func() {}, nil
	}
}

// refreshStatusGauge keeps the per-status transfer gauge in step with the
// database while the process runs.
func refreshStatusGauge(ctx context.Context, m *saga.Metrics, db *sql.DB) {
	ticker := time.NewTicker(statusGaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshTransferStatusCounts(ctx, db)
		}
	}
}
