package domain

import (
	"time"
)

// Campaign represents a named, ordered sequence of email steps plus a
// targeting rule. Steps are immutable while a run is active.
type Campaign struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Name       string    `json:"name" db:"name"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	Filters    *LeadFilter `json:"filters" db:"filters"`
	LeadPackID *string   `json:"lead_pack_id" db:"lead_pack_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// LeadFilter is the explicit targeting predicate over lead attributes.
// Absent fields impose no constraint; present fields are AND-combined.
type LeadFilter struct {
	Countries         []string `json:"countries,omitempty"`
	Categories        []string `json:"categories,omitempty"`
	HasWebsite        *bool    `json:"has_website,omitempty"`
	HasEmail          *bool    `json:"has_email,omitempty"`
	RatingMin         float64  `json:"rating_min,omitempty"`
	LastContactedDays int      `json:"last_contacted_days,omitempty"`
}

// WaitUnit enumerates the delay units a step's wait spec can use.
type WaitUnit string

const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
)

// StepCondition enumerates the follow-up conditions a step can carry.
type StepCondition string

const (
	// ConditionAlways fires the next step unconditionally after its wait.
	ConditionAlways StepCondition = "always"
	// ConditionNoOpen fires the next step only if the lead has not opened
	// any email in this campaign, re-checked at dispatch time.
	ConditionNoOpen StepCondition = "no_open"
)

// CampaignStep is one email template + wait time + follow-up condition
// within a campaign. Order is 1-based and unique per campaign.
type CampaignStep struct {
	ID              string        `json:"id" db:"id"`
	CampaignID      string        `json:"campaign_id" db:"campaign_id"`
	Order           int           `json:"step_order" db:"step_order"`
	SubjectTemplate string        `json:"subject_template" db:"subject_template"`
	BodyTemplate    string        `json:"body_template" db:"body_template"`
	WaitUnit        WaitUnit      `json:"wait_unit" db:"wait_unit"`
	WaitValue       int           `json:"wait_value" db:"wait_value"`
	Condition       StepCondition `json:"condition" db:"condition"`
	ConditionValue  int           `json:"condition_value" db:"condition_value"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// WaitDuration converts the step's wait spec into a duration. Unknown units
// fall back to days, the coarsest interpretation.
func (s *CampaignStep) WaitDuration() time.Duration {
	switch s.WaitUnit {
	case WaitMinutes:
		return time.Duration(s.WaitValue) * time.Minute
	case WaitHours:
		return time.Duration(s.WaitValue) * time.Hour
	default:
		return time.Duration(s.WaitValue) * 24 * time.Hour
	}
}

// RunStatus enumerates the lifecycle states of a campaign run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunStopped   RunStatus = "STOPPED"
	RunCompleted RunStatus = "COMPLETED"
)

// CampaignRun is one execution instance of a campaign against a resolved
// lead set. At most one run per campaign may be RUNNING or PAUSED.
type CampaignRun struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	Status     RunStatus  `json:"status" db:"status"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
}

// Live reports whether the run still claims the campaign's single active
// slot (RUNNING or PAUSED).
func (r *CampaignRun) Live() bool {
	return r.Status == RunRunning || r.Status == RunPaused
}

// RunLeadStatus enumerates the per-lead progress within a run.
type RunLeadStatus string

const (
	RunLeadPending RunLeadStatus = "PENDING"
	RunLeadSent    RunLeadStatus = "SENT"
)

// CampaignRunLead tracks one targeted lead's progress within a run.
// Status transitions monotonically PENDING -> SENT and never regresses.
type CampaignRunLead struct {
	ID            string        `json:"id" db:"id"`
	CampaignRunID string        `json:"campaign_run_id" db:"campaign_run_id"`
	LeadID        string        `json:"lead_id" db:"lead_id"`
	Status        RunLeadStatus `json:"status" db:"status"`
	SentAt        *time.Time    `json:"sent_at" db:"sent_at"`
}
