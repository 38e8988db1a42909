package domain

import "time"

// ActivityType enumerates the event kinds recorded in the activity log.
type ActivityType string

const (
	ActivitySent      ActivityType = "SENT"
	ActivityDelivered ActivityType = "DELIVERED"
	ActivityOpen      ActivityType = "OPEN"
	ActivityClick     ActivityType = "CLICK"
	ActivityBounce    ActivityType = "BOUNCE"
)

// Activity is an append-only log entry per (lead, campaign, step) tuple.
// Rows are immutable once created; they drive both analytics and the
// no_open follow-up condition.
type Activity struct {
	ID         string         `json:"id" db:"id"`
	LeadID     string         `json:"lead_id" db:"lead_id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	StepID     *string        `json:"step_id" db:"step_id"`
	Type       ActivityType   `json:"type" db:"type"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// TrackingOpen records one inbound tracking-pixel request.
type TrackingOpen struct {
	ID         string    `json:"id" db:"id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	StepID     *string   `json:"step_id" db:"step_id"`
	IP         string    `json:"ip" db:"ip"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TrackingClick records one inbound click-redirect request.
type TrackingClick struct {
	ID         string    `json:"id" db:"id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	StepID     *string   `json:"step_id" db:"step_id"`
	URL        string    `json:"url" db:"url"`
	IP         string    `json:"ip" db:"ip"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
