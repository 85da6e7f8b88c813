package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/receipt"
)

type WebhookController struct {
	Processor *receipt.Processor
	Log       *zap.Logger
}

type deliveryBody struct {
	ProviderMessageID string `json:"provider_message_id"`
	EventID           string `json:"event_id"`
	StatusCode        string `json:"status_code"`
	Timestamp         string `json:"timestamp"`
}

// DeliveryReceipt handles the provider's delivery callback. Duplicates are
// acknowledged with 200 so the provider stops redelivering; a transient
// internal failure returns 500 so it keeps retrying. Nothing internal leaks
// in either case.
func (c *WebhookController) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	var body deliveryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ProviderMessageID == "" || body.EventID == "" || body.StatusCode == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		occurredAt = time.Now()
	}

	err = c.Processor.ProcessReceipt(r.Context(), &receipt.Receipt{
		ProviderMessageID: body.ProviderMessageID,
		EventID:           body.EventID,
		StatusCode:        body.StatusCode,
		OccurredAt:        occurredAt,
	})
	if err != nil && !appErrors.IsDuplicateEvent(err) {
		c.Log.Error("receipt processing failed",
			zap.String("event_id", body.EventID), zap.Error(err))
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type inboundBody struct {
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
	Body       string `json:"body"`
	EventID    string `json:"event_id"`
}

func (c *WebhookController) InboundMessage(w http.ResponseWriter, r *http.Request) {
	var body inboundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.FromNumber == "" || body.EventID == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	err := c.Processor.ProcessInbound(r.Context(), &receipt.Inbound{
		FromNumber: body.FromNumber,
		ToNumber:   body.ToNumber,
		Body:       body.Body,
		EventID:    body.EventID,
	})
	if err != nil && !appErrors.IsDuplicateEvent(err) {
		c.Log.Error("inbound processing failed",
			zap.String("event_id", body.EventID), zap.Error(err))
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
