package model

import "time"

// Campaign states. Draft campaigns are still editable; everything after
// draft is owned by the dispatch engine and the body/audience are frozen.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"
	CampaignFailed    = "failed"
	CampaignCanceled  = "canceled"
)

// Schedule modes.
const (
	ScheduleImmediate = "immediate"
	ScheduleScheduled = "scheduled"
)

// Audience selector kinds. AudienceArg carries the gender value or the tag
// depending on the kind; empty for "all".
const (
	AudienceAll    = "all"
	AudienceGender = "gender"
	AudienceTag    = "tag"
)

type Campaign struct {
	ID             int        `db:"id" json:"id"`
	TenantID       int        `db:"tenant_id" json:"tenant_id"`
	Name           string     `db:"name" json:"name"`
	MessageBody    string     `db:"message_body" json:"message_body"`
	AudienceKind   string     `db:"audience_kind" json:"audience_kind"`
	AudienceArg    string     `db:"audience_arg" json:"audience_arg,omitempty"`
	ScheduleMode   string     `db:"schedule_mode" json:"schedule_mode"`
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	State          string     `db:"state" json:"state"`
	SentCount      int        `db:"sent_count" json:"sent_count"`
	DeliveredCount int        `db:"delivered_count" json:"delivered_count"`
	FailedCount    int        `db:"failed_count" json:"failed_count"`
	ExcludedCount  int        `db:"excluded_count" json:"excluded_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
