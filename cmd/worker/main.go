package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/techpack/techpack-api/internal/config"
	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/pkg/database"
	"github.com/techpack/techpack-api/internal/pkg/dispatch"
	"github.com/techpack/techpack-api/internal/pkg/lock"
	"github.com/techpack/techpack-api/internal/pkg/logger"
)

const retentionSchedule = "0 30 3 * * *"

var workerPool = database.PoolConfig{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 5 * time.Minute,
	ConnMaxIdleTime: time.Minute,
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().Msg("Starting worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, workerPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	locker := lock.New(database.NewRedsync(rdb))
	queue := pendingQueue(rdb)
	ledger := credit.NewLedger(credit.NewRepository(db), locker, queue)
	reconciler := credit.NewReconciler(ledger, queue, locker, credit.DefaultReconcilerConfig())
	recorder := dispatch.NewPostgresRecorder(db)

	w := &worker{
		ledger:     ledger,
		reconciler: reconciler,
		tasks:      recorder,
		retention:  time.Duration(cfg.TaskRetentionDays) * 24 * time.Hour,
	}

	scheduler := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := w.register(scheduler, schedules{
		expiry:    cfg.ExpirySchedule,
		reconcile: cfg.ReconcileSchedule,
		retention: retentionSchedule,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cron jobs")
	}

	scheduler.Start()
	log.Info().
		Str("expiry", cfg.ExpirySchedule).
		Str("reconcile", cfg.ReconcileSchedule).
		Str("retention", retentionSchedule).
		Msg("Cron jobs started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Cron jobs still running at shutdown")
	}
	log.Info().Msg("Worker stopped")
}

func pendingQueue(rdb *redis.Client) credit.PendingQueue {
	if rdb == nil {
		return nil
	}
	return credit.NewRedisPendingQueue(rdb)
}
