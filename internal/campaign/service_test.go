package campaign

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/testutil"
)

func newService() (*Service, *testutil.Campaigns, *testutil.Recipients) {
	campaigns := testutil.NewCampaigns()
	recipients := testutil.NewRecipients()
	tenants := testutil.NewTenants(&model.Tenant{
		ID: 1, Name: "acme", CreditBalance: 500, PricePerMessage: 10, SenderNumber: "+15550001111",
	})
	svc := &Service{
		Campaigns:  campaigns,
		Recipients: recipients,
		Tenants:    tenants,
		Resolver:   &audience.Resolver{Contacts: &testutil.Contacts{}},
		Machine:    newMachine(campaigns, recipients),
		Log:        zap.NewNop(),
	}
	return svc, campaigns, recipients
}

func validInput() *CreateInput {
	return &CreateInput{
		Name:         "spring sale",
		MessageBody:  "20% off everything this week",
		AudienceKind: model.AudienceAll,
		ScheduleMode: model.ScheduleImmediate,
	}
}

func TestCreateStartsInDraft(t *testing.T) {
	svc, _, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.State)
	assert.NotZero(t, c.ID)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService()
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name   string
		mutate func(in *CreateInput)
		field  string
	}{
		{"empty name", func(in *CreateInput) { in.Name = "" }, "name"},
		{"empty body", func(in *CreateInput) { in.MessageBody = "" }, "message_body"},
		{"oversized body", func(in *CreateInput) { in.MessageBody = strings.Repeat("x", MaxMessageLen+1) }, "message_body"},
		{"unknown audience", func(in *CreateInput) { in.AudienceKind = "zipcode" }, "audience_kind"},
		{"tag without arg", func(in *CreateInput) { in.AudienceKind = model.AudienceTag }, "audience_arg"},
		{"unknown schedule mode", func(in *CreateInput) { in.ScheduleMode = "someday" }, "schedule_mode"},
		{"scheduled without time", func(in *CreateInput) { in.ScheduleMode = model.ScheduleScheduled }, "scheduled_at"},
		{"scheduled in the past", func(in *CreateInput) {
			in.ScheduleMode = model.ScheduleScheduled
			in.ScheduledAt = &past
		}, "scheduled_at"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(in)
			_, err := svc.Create(context.Background(), 1, in)
			require.Error(t, err)
			assert.True(t, appErrors.IsValidation(err))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestUpdateOnlyTouchesDrafts(t *testing.T) {
	svc, campaigns, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Name = "renamed"
	updated, err := svc.Update(context.Background(), 1, c.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = campaigns.TransitionState(context.Background(), c.ID, model.CampaignDraft, model.CampaignScheduled)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), 1, c.ID, in)
	assert.Error(t, err, "edits past draft must be rejected")
}

func TestScheduleImmediateBecomesDue(t *testing.T) {
	svc, campaigns, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Schedule(context.Background(), 1, c.ID))

	got, _ := campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.CampaignScheduled, got.State)
	require.NotNil(t, got.ScheduledAt)
	assert.WithinDuration(t, time.Now(), *got.ScheduledAt, 5*time.Second)
}

func TestSendNowOnScheduledCampaign(t *testing.T) {
	svc, campaigns, _ := newService()
	in := validInput()
	later := time.Now().Add(48 * time.Hour)
	in.ScheduleMode = model.ScheduleScheduled
	in.ScheduledAt = &later

	c, err := svc.Create(context.Background(), 1, in)
	require.NoError(t, err)
	require.NoError(t, svc.Schedule(context.Background(), 1, c.ID))

	require.NoError(t, svc.SendNow(context.Background(), 1, c.ID))
	got, _ := campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.CampaignScheduled, got.State)
	assert.True(t, got.ScheduledAt.Before(time.Now().Add(time.Second)), "send now must pull the due time forward")
}

func TestCancelScheduled(t *testing.T) {
	svc, campaigns, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Schedule(context.Background(), 1, c.ID))

	require.NoError(t, svc.Cancel(context.Background(), 1, c.ID))
	got, _ := campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.CampaignCanceled, got.State)
}

func TestCancelTwiceIsNoOp(t *testing.T) {
	svc, campaigns, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Schedule(context.Background(), 1, c.ID))
	require.NoError(t, svc.Cancel(context.Background(), 1, c.ID))

	// a retried cancel finds the campaign already canceled
	require.NoError(t, svc.Cancel(context.Background(), 1, c.ID))
	got, _ := campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.CampaignCanceled, got.State)
}

func TestCancelDraftRejected(t *testing.T) {
	svc, _, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), 1, c.ID)
	assert.True(t, appErrors.IsInvalidTransition(err))
}

func TestGetIncludesRecipientStats(t *testing.T) {
	svc, _, recipients := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)

	recipients.Add(&model.Recipient{CampaignID: c.ID, ContactID: 1, Status: model.RecipientDelivered})
	recipients.Add(&model.Recipient{CampaignID: c.ID, ContactID: 2, Status: model.RecipientDelivered})
	recipients.Add(&model.Recipient{CampaignID: c.ID, ContactID: 3, Status: model.RecipientFailed})

	d, err := svc.Get(context.Background(), 1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Stats[model.RecipientDelivered])
	assert.Equal(t, 1, d.Stats[model.RecipientFailed])
}

func TestGetWrongTenant(t *testing.T) {
	svc, _, _ := newService()
	c, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), 2, c.ID)
	var nf *appErrors.ErrCampaignNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestListPagination(t *testing.T) {
	svc, _, _ := newService()
	for i := 0; i < 5; i++ {
		_, err := svc.Create(context.Background(), 1, validInput())
		require.NoError(t, err)
	}

	page, pagination, err := svc.List(context.Background(), 1, 2, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 5, pagination["total_count"])
	assert.Equal(t, 3, pagination["total_pages"])
}
