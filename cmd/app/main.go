package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"code-redemption-platform/internal/config"
	"code-redemption-platform/internal/infra/api"
	pg "code-redemption-platform/internal/infra/db/postgres"
	"code-redemption-platform/internal/infra/logging"
	"code-redemption-platform/internal/infra/metrics"
	"code-redemption-platform/internal/infra/ratelimit"
	red "code-redemption-platform/internal/infra/redis"
	"code-redemption-platform/internal/infra/sched"
	"code-redemption-platform/internal/infra/web"
	"code-redemption-platform/internal/infra/worker"
	"code-redemption-platform/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Repositories ----
	codeRepo := pg.NewCodeRepo(pool)
	statsRepo := codeRepo

	// ---- Redis (optional; backs the stats cache only) ----
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		statsRepo = pg.NewCodeStatsCacheDecorator(codeRepo, redisClient, cfg.Redis.TTL.Std())
	}

	txManager := pg.NewTxManager(pool)

	// ---- Use cases ----
	genUC := usecase.NewGeneratorUseCase(codeRepo)
	redeemUC := usecase.NewRedemptionUseCase(codeRepo, txManager)
	verifyUC := usecase.NewVerificationUseCase(codeRepo, cfg.Codes.SerialWidth)
	batchUC := usecase.NewBatchUseCase(codeRepo)
	statsUC := usecase.NewStatsUseCase(statsRepo)

	// ---- Rate limiters (one instance per protected operation) ----
	redeemLimiter := ratelimit.New(cfg.Limits.Redeem.Limit, cfg.Limits.Redeem.Window.Std(), cfg.Limits.Redeem.Capacity)
	verifyLimiter := ratelimit.New(cfg.Limits.Verify.Limit, cfg.Limits.Verify.Window.Std(), cfg.Limits.Verify.Capacity)
	adminLimiter := ratelimit.New(cfg.Limits.Admin.Limit, cfg.Limits.Admin.Window.Std(), cfg.Limits.Admin.Capacity)

	// ---- Worker pool for async bulk issuance ----
	tasks := worker.NewPool(cfg.Codes.Workers, logger)
	tasks.Start(ctx)
	defer tasks.Stop()

	// ---- Public API ----
	pub := api.NewServer(redeemUC, verifyUC, redeemLimiter, verifyLimiter, logger)
	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.PublicPort),
		Handler: pub.Router(),
	}
	go func() {
		logger.Info().Str("addr", publicSrv.Addr).Msg("public api listening")
		if err := publicSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("public server error")
		}
	}()

	// ---- Admin API ----
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.SecureCookie, cfg.Admin.CookieDomain, cfg.Admin.SessionTTL.Std())
	adminAPI := web.NewServer(genUC, redeemUC, batchUC, statsUC, auth, cfg.Admin.Password,
		adminLimiter, tasks, cfg.Codes.AsyncIssueThreshold, logger)
	adminMux := http.NewServeMux()
	adminAPI.RegisterRoutes(adminMux)
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler: adminMux,
	}
	go func() {
		logger.Info().Str("addr", adminSrv.Addr).Msg("admin api listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// ---- Expiry sweeper ----
	sweeper := sched.NewExpirySweeper(cfg.Sweeper.Interval.Std(), codeRepo, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	_ = publicSrv.Shutdown(context.Background())
	_ = adminSrv.Shutdown(context.Background())
}
