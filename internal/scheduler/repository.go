package scheduler

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access the scheduler needs. Implementations
// must be safe for concurrent use.
type Repository interface {
	// GetCampaign returns a campaign. Returns ErrCampaignNotFound if it
	// doesn't exist or belongs to another user.
	GetCampaign(ctx context.Context, userID, campaignID string) (*domain.Campaign, error)

	// GetSteps returns a campaign's steps ordered by step order ascending.
	GetSteps(ctx context.Context, campaignID string) ([]domain.CampaignStep, error)

	// NextStep returns the step immediately following the given order,
	// or nil if the campaign has no further steps.
	NextStep(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error)

	// SetCampaignActive flips the campaign's active flag.
	SetCampaignActive(ctx context.Context, campaignID string, active bool) error

	// LiveRun returns the campaign's RUNNING or PAUSED run, or nil.
	LiveRun(ctx context.Context, campaignID string) (*domain.CampaignRun, error)

	// CreateRun inserts a new RUNNING run and returns it.
	CreateRun(ctx context.Context, campaignID string) (*domain.CampaignRun, error)

	// CreateRunLeads bulk-inserts one PENDING row per lead.
	CreateRunLeads(ctx context.Context, runID string, leadIDs []string) error

	// StopLiveRuns transitions any RUNNING/PAUSED runs of the campaign to
	// STOPPED with a finish timestamp. Returns how many were stopped.
	StopLiveRuns(ctx context.Context, campaignID string) (int, error)

	// FilterLeads evaluates the targeting predicate over the user's
	// non-bounced leads, returning at most limit rows.
	FilterLeads(ctx context.Context, userID string, f *domain.LeadFilter, limit int) ([]domain.Lead, error)

	// PackLeads returns the lead pack's membership, at most limit rows.
	// Pack targeting applies no additional filtering beyond membership.
	PackLeads(ctx context.Context, packID string, limit int) ([]domain.Lead, error)

	// FirstActiveAccount returns one of the user's active sending
	// accounts, or nil if none exists.
	FirstActiveAccount(ctx context.Context, userID string) (*domain.EmailAccount, error)
}
