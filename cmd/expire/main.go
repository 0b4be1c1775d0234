// Command expire runs one expiry sweep and exits. It is meant for an
// external scheduler when the server's built-in sweeper is disabled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/upkab/approval-api/internal/config"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/logging"
	"github.com/upkab/approval-api/internal/service"
	"github.com/upkab/approval-api/internal/unit"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Environment, "approval-expire")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	queries := database.New(pool)

	approvals := service.NewApprovalService(
		pool,
		func(db database.DBTX) service.ApprovalStore { return database.New(db) },
		queries,
		unit.NewSnapshotter(queries, cfg.HierarchyTTL),
		service.WithLogger(log),
	)

	opts := []service.ExpiryOption{
		service.WithConcurrency(cfg.ExpirySweepConcurrency),
		service.WithBatchSize(cfg.ExpirySweepBatch),
		service.WithExpiryLogger(log),
	}
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword})
		defer rdb.Close()
		opts = append(opts, service.WithLocker(service.NewRedisLocker(redislock.New(rdb)), 5*time.Minute))
	}

	report, err := service.NewExpiryService(approvals, queries, opts...).Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		os.Exit(1)
	}
	if report.Failed > 0 {
		os.Exit(2)
	}
}
