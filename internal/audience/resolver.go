package audience

import (
	"context"
	"regexp"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Resolver turns a campaign's audience selector into the concrete recipient
// set. Dispatch calls it exactly once per campaign and persists the result
// immediately, so later contact changes never touch an in-flight campaign.
type Resolver struct {
	Contacts repository.ContactRepositoryInterface
}

// Resolve returns the eligible contacts in stable id order plus the number
// excluded for a missing/invalid phone or an opt-out. Exclusions are counted,
// never errors.
func (r *Resolver) Resolve(ctx context.Context, tenantID int, kind, arg string) ([]model.Contact, int, error) {
	contacts, err := r.Contacts.ListForAudience(ctx, tenantID, kind, arg)
	if err != nil {
		return nil, 0, err
	}

	eligible := []model.Contact{}
	excluded := 0
	seenContact := map[int]bool{}
	seenPhone := map[string]bool{}

	for _, c := range contacts {
		if seenContact[c.ID] {
			continue
		}
		seenContact[c.ID] = true

		if c.OptedOut || !e164.MatchString(c.Phone) {
			excluded++
			continue
		}
		// two contacts sharing a number would double-send; keep the first
		if seenPhone[c.Phone] {
			excluded++
			continue
		}
		seenPhone[c.Phone] = true
		eligible = append(eligible, c)
	}
	return eligible, excluded, nil
}
