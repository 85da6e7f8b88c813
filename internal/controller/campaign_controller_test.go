package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/testutil"
)

func newTestRouter() (*chi.Mux, *testutil.Campaigns, *testutil.Ledger) {
	campaigns := testutil.NewCampaigns()
	recipients := testutil.NewRecipients()
	tenants := testutil.NewTenants(&model.Tenant{
		ID: 1, Name: "acme", CreditBalance: 500, PricePerMessage: 10, SenderNumber: "+15550001111",
	})
	ledger := testutil.NewLedger()
	ledger.SetBalance(1, 500)

	svc := &campaign.Service{
		Campaigns:  campaigns,
		Recipients: recipients,
		Tenants:    tenants,
		Resolver:   &audience.Resolver{Contacts: &testutil.Contacts{}},
		Machine:    &campaign.StateMachine{Campaigns: campaigns, Recipients: recipients, Log: zap.NewNop()},
		Log:        zap.NewNop(),
	}
	cc := &CampaignController{Service: svc, Log: zap.NewNop()}
	credits := &CreditController{Ledger: ledger, Log: zap.NewNop()}

	r := chi.NewRouter()
	r.Post("/campaigns", cc.CreateCampaign)
	r.Get("/campaigns", cc.ListCampaigns)
	r.Get("/campaigns/{id}", cc.GetCampaign)
	r.Patch("/campaigns/{id}", cc.UpdateCampaign)
	r.Post("/campaigns/{id}/schedule", cc.ScheduleCampaign)
	r.Post("/campaigns/{id}/send", cc.SendCampaign)
	r.Post("/campaigns/{id}/cancel", cc.CancelCampaign)
	r.Post("/credits/purchase", credits.ConfirmPurchase)
	r.Get("/credits/balance", credits.GetBalance)
	return r, campaigns, ledger
}

func doRequest(router *chi.Mux, method, path, tenant, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const createJSON = `{"name":"sale","message_body":"hi","audience_kind":"all","schedule_mode":"immediate"}`

func TestCreateCampaignEndpoint(t *testing.T) {
	router, _, _ := newTestRouter()

	rr := doRequest(router, http.MethodPost, "/campaigns", "1", createJSON)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var created model.Campaign
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, model.CampaignDraft, created.State)
	assert.Equal(t, 1, created.TenantID)
}

func TestMissingTenantHeader(t *testing.T) {
	router, _, _ := newTestRouter()
	rr := doRequest(router, http.MethodPost, "/campaigns", "", createJSON)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestValidationMapsTo400(t *testing.T) {
	router, _, _ := newTestRouter()
	rr := doRequest(router, http.MethodPost, "/campaigns", "1",
		`{"name":"","message_body":"hi","audience_kind":"all","schedule_mode":"immediate"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBadScheduledAtMapsTo400(t *testing.T) {
	router, _, _ := newTestRouter()
	rr := doRequest(router, http.MethodPost, "/campaigns", "1",
		`{"name":"sale","message_body":"hi","audience_kind":"all","schedule_mode":"scheduled","scheduled_at":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnknownCampaignMapsTo404(t *testing.T) {
	router, _, _ := newTestRouter()
	rr := doRequest(router, http.MethodGet, "/campaigns/999", "1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvalidTransitionMapsTo409(t *testing.T) {
	router, _, _ := newTestRouter()

	rr := doRequest(router, http.MethodPost, "/campaigns", "1", createJSON)
	require.Equal(t, http.StatusOK, rr.Code)
	var created model.Campaign
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	// canceling a draft is not a legal move
	rr = doRequest(router, http.MethodPost, "/campaigns/1/cancel", "1", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestScheduleThenCancelLifecycle(t *testing.T) {
	router, campaigns, _ := newTestRouter()

	rr := doRequest(router, http.MethodPost, "/campaigns", "1", createJSON)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(router, http.MethodPost, "/campaigns/1/schedule", "1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(router, http.MethodPost, "/campaigns/1/cancel", "1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	c, err := campaigns.GetByTenant(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCanceled, c.State)
}

func TestTenantIsolation(t *testing.T) {
	router, _, _ := newTestRouter()

	rr := doRequest(router, http.MethodPost, "/campaigns", "1", createJSON)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(router, http.MethodGet, "/campaigns/1", "2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "another tenant's campaign looks nonexistent")
}

func TestCreditEndpoints(t *testing.T) {
	router, _, _ := newTestRouter()

	rr := doRequest(router, http.MethodGet, "/credits/balance", "1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var balance map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
	assert.Equal(t, int64(500), balance["balance"])

	rr = doRequest(router, http.MethodPost, "/credits/purchase", "1", `{"amount":250,"reference":"invoice:77"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(router, http.MethodGet, "/credits/balance", "1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
	assert.Equal(t, int64(750), balance["balance"])

	rr = doRequest(router, http.MethodPost, "/credits/purchase", "1", `{"amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "negative purchases are rejected")
}
