package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/provider"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/testutil"
)

// fakeGateway answers per phone number; unscripted numbers succeed.
type fakeGateway struct {
	mu        sync.Mutex
	failures  map[string]error
	failTimes map[string]int // how many leading calls fail; 0 means always
	calls     map[string]int
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failures: map[string]error{}, failTimes: map[string]int{}, calls: map[string]int{}}
}

// fail makes every call for phone return err.
func (g *fakeGateway) fail(phone string, err error) { g.failures[phone] = err }

// failN makes the first n calls for phone return err, then succeed.
func (g *fakeGateway) failN(phone string, n int, err error) {
	g.failures[phone] = err
	g.failTimes[phone] = n
}

func (g *fakeGateway) Send(ctx context.Context, phone, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[phone]++
	if err, ok := g.failures[phone]; ok && err != nil {
		if n := g.failTimes[phone]; n == 0 || g.calls[phone] <= n {
			return "", err
		}
	}
	g.nextID++
	return fmt.Sprintf("msg-%s-%d", phone, g.nextID), nil
}

type world struct {
	campaigns  *testutil.Campaigns
	recipients *testutil.Recipients
	tenants    *testutil.Tenants
	ledger     *testutil.Ledger
	gateway    *fakeGateway
	consumer   *Consumer
}

func newWorld(balance int64) *world {
	w := &world{
		campaigns:  testutil.NewCampaigns(),
		recipients: testutil.NewRecipients(),
		tenants: testutil.NewTenants(&model.Tenant{
			ID: 1, Name: "acme", CreditBalance: balance, PricePerMessage: 10, SenderNumber: "+15550001111",
		}),
		ledger:  testutil.NewLedger(),
		gateway: newFakeGateway(),
	}
	w.ledger.SetBalance(1, balance)
	machine := &campaign.StateMachine{Campaigns: w.campaigns, Recipients: w.recipients, Log: zap.NewNop()}
	w.consumer = &Consumer{
		Recipients: w.recipients,
		Campaigns:  w.campaigns,
		Tenants:    w.tenants,
		Ledger:     w.ledger,
		Gateway:    w.gateway,
		Retry:      provider.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond},
		Machine:    machine,
		Log:        zap.NewNop(),
		JobTimeout: 5 * time.Second,
	}
	return w
}

func (w *world) job(t *testing.T, rec *model.Recipient) []byte {
	body, err := json.Marshal(queue.SendJob{
		RecipientID: rec.ID, CampaignID: rec.CampaignID, TenantID: rec.TenantID,
	})
	require.NoError(t, err)
	return body
}

func TestHandleSendsAndCompletes(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientSent, got.Status)
	require.NotNil(t, got.ProviderMessageID)
	require.NotNil(t, got.ReservationID)

	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(490), balance)

	camp, _ := w.campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, 1, camp.SentCount)
	assert.Equal(t, model.CampaignSent, camp.State, "last terminal recipient closes the campaign")
}

func TestHandlePermanentFailureRefunds(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})
	w.gateway.fail(rec.Phone, appErrors.NewProviderPermanent("invalid_number", "bad"))

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientFailed, got.Status)
	assert.Equal(t, 1, w.gateway.calls[rec.Phone], "permanent failure is not retried")

	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(500), balance, "reservation refunded in full")

	camp, _ := w.campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, 1, camp.FailedCount)
	assert.Equal(t, model.CampaignSent, camp.State)
}

func TestHandleTransientRecovers(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})

	w.gateway.failN(rec.Phone, 1, appErrors.NewProviderTransient("http_503", "down"))

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientSent, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 2, w.gateway.calls[rec.Phone])

	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(490), balance)
}

func TestHandleTransientExhaustsAndFails(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})
	w.gateway.fail(rec.Phone, appErrors.NewProviderTransient("http_503", "down"))

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientFailed, got.Status)
	assert.Equal(t, 3, w.gateway.calls[rec.Phone])

	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(500), balance)
	assert.Zero(t, w.ledger.OpenReservations(), "exhausted send leaves no open reservation")
}

func TestHandleInsufficientCreditsHoldsRecipient(t *testing.T) {
	w := newWorld(5) // price is 10
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})

	require.NoError(t, w.consumer.Handle(w.job(t, rec)), "admission denial acks the job")

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientPending, got.Status, "held recipient goes back to pending")
	assert.Zero(t, w.gateway.calls[rec.Phone], "no send without a reservation")

	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(5), balance)

	camp, _ := w.campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.CampaignSending, camp.State, "held recipients keep the campaign open")
}

func TestHandleSkipsWhenCampaignNotSending(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignCanceled, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))

	got, _ := w.recipients.GetByID(context.Background(), rec.ID)
	assert.Equal(t, model.RecipientPending, got.Status)
	assert.Zero(t, w.gateway.calls[rec.Phone])
}

func TestHandleRedeliveredJobIsNoOp(t *testing.T) {
	w := newWorld(500)
	c := w.campaigns.Add(&model.Campaign{TenantID: 1, State: model.CampaignSending, MessageBody: "hi"})
	rec := w.recipients.Add(&model.Recipient{CampaignID: c.ID, TenantID: 1, ContactID: 1, Phone: "+254700000001"})

	require.NoError(t, w.consumer.Handle(w.job(t, rec)))
	require.NoError(t, w.consumer.Handle(w.job(t, rec)), "redelivery after success acks quietly")

	assert.Equal(t, 1, w.gateway.calls[rec.Phone], "a recipient is never sent twice")
	balance, _ := w.ledger.Balance(context.Background(), 1)
	assert.Equal(t, int64(490), balance, "redelivery reserves nothing")
}

func TestHandleGarbagePayloadAcks(t *testing.T) {
	w := newWorld(500)
	assert.NoError(t, w.consumer.Handle([]byte("not json")), "poison messages must not requeue forever")
}
