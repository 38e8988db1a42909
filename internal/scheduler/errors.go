package scheduler

import "errors"

// Sentinel errors for the scheduler. The first three are validation
// failures (caller's input is structurally unusable, surfaced synchronously,
// never retried); ErrRunActive is a conflict with the single-active-run
// invariant.
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoSteps          = errors.New("campaign has no steps")
	ErrNoActiveAccount  = errors.New("no active email account")
	ErrNoLeads          = errors.New("no leads match the campaign targeting")
	ErrRunActive        = errors.New("campaign already has an active run")
)

// IsValidation reports whether err is one of the validation sentinels, as
// opposed to a conflict or an infrastructure failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoSteps) ||
		errors.Is(err, ErrNoActiveAccount) ||
		errors.Is(err, ErrNoLeads)
}
