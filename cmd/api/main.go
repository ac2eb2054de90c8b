package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/audit"
	"collections-dialer/internal/auth"
	"collections-dialer/internal/calls"
	"collections-dialer/internal/campaign"
	"collections-dialer/internal/config"
	"collections-dialer/internal/httpapi"
	"collections-dialer/internal/job"
	"collections-dialer/internal/reporting"
	"collections-dialer/pkg/logger"
	"collections-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ledger := account.NewService(account.NewPostgresStore(db))
	jobs := job.NewPostgresStore(db)
	campaigns := campaign.NewService(campaign.NewPostgresRepo(db), jobs, cfg.Dialer.MaxAttempts, log)
	reports := reporting.NewService(calls.NewPostgresRepo(db), ledger)
	audits := audit.NewService(audit.NewPostgresRepo(db), log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	httpapi.RegisterRoutes(r, httpapi.Handlers{
		Auth:      authManager,
		Accounts:  ledger,
		Campaigns: campaigns,
		Jobs:      jobs,
		Reports:   reports,
		Audit:     audits,
		DB:        db,
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
