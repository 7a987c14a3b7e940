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
	"time"

	"careercraft-billing/internal/config"
	"careercraft-billing/internal/domain/ports/adapter"
	pg "careercraft-billing/internal/infra/db/postgres"
	"careercraft-billing/internal/infra/logging"
	"careercraft-billing/internal/infra/metrics"
	"careercraft-billing/internal/infra/notify"
	payGateway "careercraft-billing/internal/infra/payment"
	red "careercraft-billing/internal/infra/redis"
	"careercraft-billing/internal/infra/sched"
	"careercraft-billing/internal/infra/web"
	"careercraft-billing/internal/infra/worker"
	"careercraft-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, sandbox gateway)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	replayCache := red.NewReplayCache(redisClient, cfg.Redis.ReplayTTL)

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Razorpay.Sandbox {
		logger.Warn().Msg("sandbox gateway enabled, no live charges")
		gateway = payGateway.NewNoopGateway()
	} else {
		gateway, err = payGateway.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("razorpay gateway")
		}
	}

	// ---- Notifier ----
	var notifier adapter.Notifier
	if cfg.Notify.EmailRelayURL != "" {
		notifier = notify.NewEmailRelay(cfg.Notify.EmailRelayURL, cfg.Notify.APIKey, 5*time.Second, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, notifier, redisClient, cfg.Billing.ProrationMonthDays, cfg.Billing.ProrationYearDays, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, subUC, gateway, txManager, notifier, cfg.Razorpay.KeySecret, cfg.Billing.Currency, logger)
	webhookUC := usecase.NewWebhookUseCase(payRepo, subRepo, subUC, txManager, replayCache, logger)

	// ---- Webhook worker pool ----
	pool2 := worker.NewPool(cfg.Worker.Count, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Server.JWTSecret, 24*time.Hour)
	srv := web.NewServer(paymentUC, subUC, webhookUC, auth, rateLimiter, pool2, cfg.Razorpay.WebhookSecret, cfg.Server.RateLimitPerMin, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Scheduled workers ----
	expiryWorker := sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, subUC, subRepo, logger)
	go func() { _ = expiryWorker.Run(ctx) }()

	resetWorker := sched.NewCreditResetWorker(cfg.Scheduler.ResetInterval, subUC, logger)
	go func() { _ = resetWorker.Run(ctx) }()

	reminderWorker := sched.NewReminderWorker(cfg.Scheduler.ReminderInterval, subUC, logger)
	go func() { _ = reminderWorker.Run(ctx) }()

	reconciler := sched.NewPaymentReconciler(paymentUC, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileStale, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
