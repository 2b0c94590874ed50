package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/catalog"
	"github.com/riverbend-resort/wallet-api/internal/config"
	"github.com/riverbend-resort/wallet-api/internal/lock"
	"github.com/riverbend-resort/wallet-api/internal/notify"
	"github.com/riverbend-resort/wallet-api/internal/obs"
	"github.com/riverbend-resort/wallet-api/internal/payment"
	"github.com/riverbend-resort/wallet-api/internal/pricing"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
	"github.com/riverbend-resort/wallet-api/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "worker").
		Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "wallet"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "wallet-worker"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	stripe, err := payment.NewStripe(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		BaseURL:       cfg.StripeBaseURL,
		Tolerance:     cfg.WebhookTolerance,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise stripe")
	}

	catalogStore := catalog.NewStore(pool)
	calculator := pricing.NewCalculator(catalogStore)
	purchaseStore := purchase.NewStore(pool)
	ledger := payment.NewLedger(pool)
	broadcaster := notify.NewBroadcaster(redisClient, logger)
	issuer := payment.NewIssuer(purchaseStore, calculator, broadcaster, payment.IssuerConfig{
		RedemptionWindow: cfg.RedemptionWindow,
		PickupETA:        cfg.PickupETA,
	}, logger)

	sweeper := &reconcile.Sweeper{
		Ledger:    ledger,
		Processor: stripe,
		Issuer:    issuer,
		MinAge:    cfg.ReconcileMinAge,
		BatchSize: cfg.ReconcileBatchSize,
		Log:       logger,
	}

	asynqOpts := asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Username: redisOpts.Username,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	}

	srv := asynq.NewServer(asynqOpts, asynq.Config{
		Concurrency: 2,
		Logger:      asynqLogger{logger},
	})
	// The sweep scans the same stuck rows on every replica; a lock keeps
	// concurrent workers from replaying the same batch.
	locker := lock.Locker{R: redisClient}
	mux := asynq.NewServeMux()
	mux.HandleFunc(reconcile.TaskSweep, func(ctx context.Context, task *asynq.Task) error {
		return locker.WithLock(ctx, "wallet:reconcile:sweep", time.Minute, func(ctx context.Context) error {
			return sweeper.HandleSweep(ctx, task)
		})
	})

	schedule, task := reconcile.NewPeriodicTask(cfg.ReconcileInterval)
	scheduler := asynq.NewScheduler(asynqOpts, &asynq.SchedulerOpts{Logger: asynqLogger{logger}})
	if _, err := scheduler.Register(schedule, task); err != nil {
		logger.Fatal().Err(err).Msg("register reconcile sweep")
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	go func() {
		<-shutdownCtx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	logger.Info().Dur("interval", cfg.ReconcileInterval).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
	logger.Info().Msg("worker shutdown complete")
}

type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
