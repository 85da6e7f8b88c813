package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

type CampaignController struct {
	Service *campaign.Service
	Log     *zap.Logger
}

// tenantID pulls the tenant from the X-Tenant-ID header. Session
// verification happens upstream; here the header is trusted.
func tenantID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.Header.Get("X-Tenant-ID"))
	return id, err == nil && id > 0
}

// writeError maps the engine's error taxonomy onto status codes without
// leaking internals.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case appErrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case appErrors.IsInsufficientCredits(err):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case appErrors.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type createBody struct {
	Name         string  `json:"name"`
	MessageBody  string  `json:"message_body"`
	AudienceKind string  `json:"audience_kind"`
	AudienceArg  string  `json:"audience_arg"`
	ScheduleMode string  `json:"schedule_mode"`
	ScheduledAt  *string `json:"scheduled_at"`
}

func (b *createBody) toInput() (*campaign.CreateInput, error) {
	in := &campaign.CreateInput{
		Name:         b.Name,
		MessageBody:  b.MessageBody,
		AudienceKind: b.AudienceKind,
		AudienceArg:  b.AudienceArg,
		ScheduleMode: b.ScheduleMode,
	}
	if b.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *b.ScheduledAt)
		if err != nil {
			return nil, appErrors.NewValidation("scheduled_at", "must be RFC3339")
		}
		in.ScheduledAt = &t
	}
	return in, nil
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	in, err := body.toInput()
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	created, err := c.Service.Create(r.Context(), tenant, in)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(created)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	in, err := body.toInput()
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	updated, err := c.Service.Update(r.Context(), tenant, id, in)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.Service.Schedule)
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.Service.SendNow)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.Service.Cancel)
}

func (c *CampaignController) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, id int) error) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	if err := op(r.Context(), tenant, id); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": id, "ok": true})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := c.Service.Get(r.Context(), tenant, id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	state := r.URL.Query().Get("state")

	campaigns, pagination, err := c.Service.List(r.Context(), tenant, page, pageSize, state)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}
