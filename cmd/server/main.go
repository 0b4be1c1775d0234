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

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/upkab/approval-api/internal/config"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/logging"
	"github.com/upkab/approval-api/internal/notify"
	"github.com/upkab/approval-api/internal/router"
	"github.com/upkab/approval-api/internal/service"
	"github.com/upkab/approval-api/internal/unit"
	"github.com/upkab/approval-api/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Environment, "approval-api")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	queries := database.New(pool)

	// Unit hierarchy: database, optionally shared through Redis.
	var loader unit.Loader = queries
	var locker service.Locker
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddress).Msg("redis unreachable, continuing with fallbacks")
		}
		loader = unit.NewRedisLoader(rdb, queries, cfg.HierarchyTTL, log)
		locker = service.NewRedisLocker(redislock.New(rdb))
	}
	units := unit.NewSnapshotter(loader, cfg.HierarchyTTL)

	// Event fan-out after commit.
	hub := ws.NewHub()
	go hub.Run(ctx)

	publishers := []notify.Publisher{notify.NewHubPublisher(hub, units)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("approval-api"), nats.MaxReconnects(-1))
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, events go to websocket clients only")
		} else {
			defer nc.Drain() //nolint:errcheck
			publishers = append(publishers, notify.NewNATSPublisher(nc))
		}
	}
	dispatcher := notify.NewDispatcher(log, cfg.NotifyQueueSize, publishers...)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	approvals := service.NewApprovalService(
		pool,
		func(db database.DBTX) service.ApprovalStore { return database.New(db) },
		queries,
		units,
		service.WithNotifier(dispatcher),
		service.WithLogger(log),
	)

	expiryOpts := []service.ExpiryOption{
		service.WithConcurrency(cfg.ExpirySweepConcurrency),
		service.WithBatchSize(cfg.ExpirySweepBatch),
		service.WithExpiryLogger(log),
	}
	if locker != nil {
		expiryOpts = append(expiryOpts, service.WithLocker(locker, 5*time.Minute))
	}
	sweeper := service.NewExpiryService(approvals, queries, expiryOpts...)
	if cfg.ExpirySweepInterval > 0 {
		go sweeper.Run(ctx, cfg.ExpirySweepInterval)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Deps{
			Log:       log,
			DB:        pool,
			Approvals: approvals,
			Sweeper:   sweeper,
			Hub:       hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stop()
	<-dispatcherDone
	return nil
}
