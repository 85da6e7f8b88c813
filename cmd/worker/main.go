package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	"github.com/unclebandit/smsleopard-dispatch/internal/config"
	"github.com/unclebandit/smsleopard-dispatch/internal/db"
	"github.com/unclebandit/smsleopard-dispatch/internal/dispatch"
	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/lease"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/provider"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/ratelimit"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	rdb, err := db.NewRedis(ctx, cfg)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQP.URL, log)
	if err != nil {
		log.Fatal("amqp connection failed", zap.Error(err))
	}
	defer q.Close()

	tenantRepo := &repository.TenantRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}

	creditLedger := &ledger.PostgresLedger{DB: conn, Log: log}
	machine := &campaign.StateMachine{Campaigns: campaignRepo, Recipients: recipientRepo, Log: log}
	resolver := &audience.Resolver{Contacts: contactRepo}
	leases := lease.NewManager(rdb, cfg.Dispatch.LeaseTTL)
	limiter := ratelimit.New(rdb, "provider:send_window", cfg.Dispatch.RateLimit, cfg.Dispatch.RateWindow)
	gateway := provider.NewHTTPGateway(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout, log)

	consumer := &dispatch.Consumer{
		Recipients: recipientRepo,
		Campaigns:  campaignRepo,
		Tenants:    tenantRepo,
		Ledger:     creditLedger,
		Gateway:    gateway,
		Retry: provider.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxSendAttempts,
			BaseBackoff: cfg.Dispatch.BaseBackoff,
		},
		Limiter: limiter,
		Machine: machine,
		Log:     log,
	}
	if err := q.Consume(dispatch.SendTopic, cfg.Dispatch.MaxInflight, consumer.Handle); err != nil {
		log.Fatal("consumer start failed", zap.Error(err))
	}

	scheduler := &dispatch.Scheduler{
		Campaigns:     campaignRepo,
		Recipients:    recipientRepo,
		Resolver:      resolver,
		Machine:       machine,
		Leases:        leases,
		Queue:         q,
		Log:           log,
		SweepInterval: cfg.Dispatch.SweepInterval,
		BatchSize:     cfg.Dispatch.BatchSize,
		BatchDelay:    cfg.Dispatch.BatchDelay,
	}
	scheduler.Start(ctx)

	reconciler := dispatch.NewReconciler(creditLedger, recipientRepo, cfg.Ledger.ReservationTTL, log)
	if err := reconciler.Start(cfg.Ledger.SweepSpec); err != nil {
		log.Fatal("reconciler start failed", zap.Error(err))
	}
	defer reconciler.Stop()

	log.Info("worker running")
	<-ctx.Done()
	log.Info("worker shutting down")
}
