package campaign

import "github.com/unclebandit/smsleopard-dispatch/internal/model"

// transitions is the single source of truth for legal campaign moves.
var transitions = map[string][]string{
	model.CampaignDraft:     {model.CampaignScheduled},
	model.CampaignScheduled: {model.CampaignSending, model.CampaignFailed, model.CampaignCanceled},
	model.CampaignSending:   {model.CampaignSent, model.CampaignFailed, model.CampaignCanceled},
	model.CampaignSent:      {},
	model.CampaignFailed:    {},
	model.CampaignCanceled:  {},
}

// stateRank orders the happy path so a transition observed "already past"
// its target can be recognized as a retry and treated as a no-op.
var stateRank = map[string]int{
	model.CampaignDraft:     0,
	model.CampaignScheduled: 1,
	model.CampaignSending:   2,
	model.CampaignSent:      3,
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(state string) bool {
	switch state {
	case model.CampaignSent, model.CampaignFailed, model.CampaignCanceled:
		return true
	}
	return false
}

// pastTarget reports whether current is at or beyond to on the happy path.
func pastTarget(current, to string) bool {
	cr, ok1 := stateRank[current]
	tr, ok2 := stateRank[to]
	if !ok1 || !ok2 {
		return current == to
	}
	return cr >= tr
}
