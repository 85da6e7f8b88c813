package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError is bad caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InsufficientCreditsError blocks admission; the campaign send is held, not
// failed, and the caller is expected to top up.
type InsufficientCreditsError struct {
	TenantID  int
	Requested int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("tenant %d has %d credits, needs %d", e.TenantID, e.Available, e.Requested)
}

func NewInsufficientCredits(tenantID int, requested, available int64) error {
	return &InsufficientCreditsError{TenantID: tenantID, Requested: requested, Available: available}
}

func IsInsufficientCredits(err error) bool {
	var ie *InsufficientCreditsError
	return errors.As(err, &ie)
}

// InvalidTransitionError guards the campaign state machine. No state is
// changed when it fires.
type InvalidTransitionError struct {
	CampaignID int
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %d cannot move %s -> %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(campaignID int, from, to string) error {
	return &InvalidTransitionError{CampaignID: campaignID, From: from, To: to}
}

func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// Provider failure classes.
const (
	ProviderTransient = "transient"
	ProviderPermanent = "permanent"
	ProviderUnknown   = "unknown"
)

// ProviderError classifies an SMS provider failure. Transient and unknown
// failures are retried with backoff up to a bound; permanent failures move
// the recipient straight to failed and refund its reservation.
type ProviderError struct {
	Class   string
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failure [%s]: %s", e.Class, e.Code, e.Message)
}

// Retryable reports whether the dispatcher may attempt the send again.
// Unknown responses are retried but flagged for reconciliation.
func (e *ProviderError) Retryable() bool {
	return e.Class != ProviderPermanent
}

func NewProviderTransient(code, message string) error {
	return &ProviderError{Class: ProviderTransient, Code: code, Message: message}
}

func NewProviderPermanent(code, message string) error {
	return &ProviderError{Class: ProviderPermanent, Code: code, Message: message}
}

func NewProviderUnknown(code, message string) error {
	return &ProviderError{Class: ProviderUnknown, Code: code, Message: message}
}

func AsProvider(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// DuplicateEventError marks a webhook event that was already processed. The
// boundary acknowledges it with success and performs no side effects.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s already processed", e.EventID)
}

func NewDuplicateEvent(eventID string) error {
	return &DuplicateEventError{EventID: eventID}
}

func IsDuplicateEvent(err error) bool {
	var de *DuplicateEventError
	return errors.As(err, &de)
}
