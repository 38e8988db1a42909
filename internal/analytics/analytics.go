// Package analytics computes campaign engagement figures from the
// activity log and run lead tables.
package analytics

import (
	"context"
	"math"
)

// CTR is click-through rate: clicks as a percentage of opens, rounded to
// two decimals. Zero opens yields zero, never a division error.
func CTR(clicks, opens int) float64 {
	return rate(clicks, opens)
}

// OpenRate is opens as a percentage of sent messages, rounded to two
// decimals.
func OpenRate(opens, sent int) float64 {
	return rate(opens, sent)
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

// ActivityCounts holds per-type totals from a campaign's activity log.
type ActivityCounts struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opens     int `json:"opens"`
	Clicks    int `json:"clicks"`
	Bounces   int `json:"bounces"`
}

// RunCounts holds the lead totals of a campaign's runs.
type RunCounts struct {
	TotalLeads   int `json:"total_leads"`
	PendingLeads int `json:"pending_leads"`
	SentLeads    int `json:"sent_leads"`
}

// Summary is the assembled analytics payload for one campaign.
type Summary struct {
	CampaignID string         `json:"campaign_id"`
	Activity   ActivityCounts `json:"activity"`
	Runs       RunCounts      `json:"runs"`
	OpenRate   float64        `json:"open_rate"`
	CTR        float64        `json:"ctr"`
	BounceRate float64        `json:"bounce_rate"`
}

// Repository supplies the raw counts a summary is built from.
type Repository interface {
	ActivityCounts(ctx context.Context, campaignID string) (*ActivityCounts, error)
	RunCounts(ctx context.Context, campaignID string) (*RunCounts, error)
}

// Service assembles campaign summaries.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CampaignSummary queries the campaign's counts and derives the rates.
func (s *Service) CampaignSummary(ctx context.Context, campaignID string) (*Summary, error) {
	activity, err := s.repo.ActivityCounts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	runs, err := s.repo.RunCounts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		CampaignID: campaignID,
		Activity:   *activity,
		Runs:       *runs,
		OpenRate:   OpenRate(activity.Opens, activity.Sent),
		CTR:        CTR(activity.Clicks, activity.Opens),
		BounceRate: rate(activity.Bounces, activity.Sent),
	}, nil
}
