package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"collections-dialer/internal/account"
	"collections-dialer/internal/calls"
	"collections-dialer/internal/config"
	"collections-dialer/internal/dialer"
	"collections-dialer/internal/job"
	"collections-dialer/internal/pricing"
	"collections-dialer/internal/telephony"
	"collections-dialer/pkg/logger"
	"collections-dialer/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is only needed for the per-account call cap.
	var rdb *redis.Client
	if cfg.Dialer.AccountCallCap > 0 {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	provider, err := telephony.NewTwilioProvider(cfg.Provider)
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	jobs := job.NewPostgresStore(db)
	ledger := account.NewService(account.NewPostgresStore(db))
	rates := pricing.NewService(pricing.NewPostgresRepo(db))
	recorder := calls.NewPostgresRepo(db)

	policy := dialer.Policy{Backoff: dialer.Backoff{
		Base: cfg.Dialer.RetryBase,
		Max:  cfg.Dialer.RetryMax,
	}}
	settler := dialer.NewSettler(jobs, ledger, policy, rates, recorder, log)

	coord, err := dialer.NewCoordinator(jobs, ledger, provider, settler, rdb, dialer.Options{
		Workers:               cfg.Dialer.Workers,
		Lease:                 cfg.Dialer.Lease,
		PollInterval:          cfg.Dialer.PollInterval,
		CallCostEstimateMinor: cfg.Dialer.CallCostEstimateMinor,
		AccountCallCap:        cfg.Dialer.AccountCallCap,
	}, log)
	if err != nil {
		log.Error("dialer init failed", "err", err)
		os.Exit(1)
	}

	log.Info("dialer starting",
		"workers", cfg.Dialer.Workers,
		"lease", cfg.Dialer.Lease.String(),
		"provider", provider.Name())

	if err := coord.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("dialer stopped", "err", err)
		os.Exit(1)
	}
	log.Info("dialer drained")
}
