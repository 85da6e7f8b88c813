package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	"github.com/unclebandit/smsleopard-dispatch/internal/config"
	"github.com/unclebandit/smsleopard-dispatch/internal/controller"
	"github.com/unclebandit/smsleopard-dispatch/internal/db"
	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/receipt"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	tenantRepo := &repository.TenantRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	receiptRepo := &repository.ReceiptRepository{DB: conn}

	creditLedger := &ledger.PostgresLedger{DB: conn, Log: log}
	machine := &campaign.StateMachine{Campaigns: campaignRepo, Recipients: recipientRepo, Log: log}
	resolver := &audience.Resolver{Contacts: contactRepo}

	campaignService := &campaign.Service{
		Campaigns:  campaignRepo,
		Recipients: recipientRepo,
		Tenants:    tenantRepo,
		Resolver:   resolver,
		Machine:    machine,
		Log:        log,
	}

	processor := &receipt.Processor{
		Receipts:   receiptRepo,
		Recipients: recipientRepo,
		Campaigns:  campaignRepo,
		Tenants:    tenantRepo,
		Contacts:   contactRepo,
		Ledger:     creditLedger,
		Machine:    machine,
		Log:        log,
	}

	campaignController := &controller.CampaignController{Service: campaignService, Log: log}
	webhookController := &controller.WebhookController{Processor: processor, Log: log}
	creditController := &controller.CreditController{Ledger: creditLedger, Log: log}

	r := chi.NewRouter()

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Patch("/campaigns/{id}", campaignController.UpdateCampaign)
	r.Post("/campaigns/{id}/schedule", campaignController.ScheduleCampaign)
	r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)

	r.Post("/webhooks/delivery", webhookController.DeliveryReceipt)
	r.Post("/webhooks/inbound", webhookController.InboundMessage)

	r.Post("/credits/purchase", creditController.ConfirmPurchase)
	r.Get("/credits/balance", creditController.GetBalance)

	log.Info("server running", zap.String("addr", cfg.HTTPAddr))
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
