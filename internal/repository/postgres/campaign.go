package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/analytics"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/scheduler"
)

// CampaignRepo implements campaign, step and run access.
type CampaignRepo struct{ db *sql.DB }

func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) GetCampaign(ctx context.Context, userID, campaignID string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var filters []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, is_active, filters, lead_pack_id, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND user_id = $2
	`, campaignID, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.IsActive, &filters, &c.LeadPackID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, scheduler.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(filters) > 0 {
		c.Filters = &domain.LeadFilter{}
		if err := json.Unmarshal(filters, c.Filters); err != nil {
			return nil, fmt.Errorf("decode campaign filters: %w", err)
		}
	}
	return c, nil
}

func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var filters any
	if c.Filters != nil {
		b, err := json.Marshal(c.Filters)
		if err != nil {
			return fmt.Errorf("encode campaign filters: %w", err)
		}
		filters = b
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, name, is_active, filters, lead_pack_id, created_at, updated_at)
		VALUES ($1,$2,$3,false,$4,$5,$6,$6)
	`, c.ID, c.UserID, c.Name, filters, c.LeadPackID, now)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) CreateSteps(ctx context.Context, campaignID string, steps []domain.CampaignStep) error {
	now := time.Now().UTC()
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.CampaignID = campaignID
		s.Order = i + 1
		s.CreatedAt = now
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO campaign_steps
				(id, campaign_id, step_order, subject_template, body_template,
				 wait_unit, wait_value, condition, condition_value, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, s.ID, campaignID, s.Order, s.SubjectTemplate, s.BodyTemplate,
			s.WaitUnit, s.WaitValue, s.Condition, s.ConditionValue, now)
		if err != nil {
			return fmt.Errorf("create step %d: %w", s.Order, err)
		}
	}
	return nil
}

const stepColumns = `id, campaign_id, step_order, subject_template, body_template,
	wait_unit, wait_value, condition, condition_value, created_at`

func scanStep(row interface{ Scan(...any) error }) (*domain.CampaignStep, error) {
	s := &domain.CampaignStep{}
	err := row.Scan(
		&s.ID, &s.CampaignID, &s.Order, &s.SubjectTemplate, &s.BodyTemplate,
		&s.WaitUnit, &s.WaitValue, &s.Condition, &s.ConditionValue, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *CampaignRepo) GetSteps(ctx context.Context, campaignID string) ([]domain.CampaignStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM campaign_steps
		WHERE campaign_id = $1
		ORDER BY step_order
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.CampaignStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}

func (r *CampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM campaign_steps WHERE id = $1`, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	return s, nil
}

func (r *CampaignRepo) NextStep(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+` FROM campaign_steps
		WHERE campaign_id = $1 AND step_order > $2
		ORDER BY step_order
		LIMIT 1
	`, campaignID, afterOrder))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next step: %w", err)
	}
	return s, nil
}

func (r *CampaignRepo) SetCampaignActive(ctx context.Context, campaignID string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, campaignID, active)
	if err != nil {
		return fmt.Errorf("set campaign active: %w", err)
	}
	return nil
}

const runColumns = `id, campaign_id, status, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*domain.CampaignRun, error) {
	run := &domain.CampaignRun{}
	err := row.Scan(&run.ID, &run.CampaignID, &run.Status, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *CampaignRepo) GetRun(ctx context.Context, runID string) (*domain.CampaignRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM campaign_runs WHERE id = $1`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *CampaignRepo) LiveRun(ctx context.Context, campaignID string) (*domain.CampaignRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM campaign_runs
		WHERE campaign_id = $1 AND status IN ('RUNNING','PAUSED')
		ORDER BY started_at DESC
		LIMIT 1
	`, campaignID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("live run: %w", err)
	}
	return run, nil
}

func (r *CampaignRepo) CreateRun(ctx context.Context, campaignID string) (*domain.CampaignRun, error) {
	run := &domain.CampaignRun{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Status:     domain.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, campaign_id, status, started_at)
		VALUES ($1,$2,$3,$4)
	`, run.ID, run.CampaignID, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (r *CampaignRepo) CreateRunLeads(ctx context.Context, runID string, leadIDs []string) error {
	if len(leadIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_run_leads (id, run_id, lead_id, status)
		SELECT gen_random_uuid(), $1, unnest($2::text[]), 'PENDING'
	`, runID, pq.Array(leadIDs))
	if err != nil {
		return fmt.Errorf("create run leads: %w", err)
	}
	return nil
}

func (r *CampaignRepo) StopLiveRuns(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_runs SET status = 'STOPPED', finished_at = NOW()
		WHERE campaign_id = $1 AND status IN ('RUNNING','PAUSED')
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("stop live runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stop live runs: %w", err)
	}
	return int(n), nil
}

// MarkRunLeadSent transitions the run lead PENDING -> SENT. The WHERE
// clause keeps an already SENT row from regressing or re-stamping.
func (r *CampaignRepo) MarkRunLeadSent(ctx context.Context, runID, leadID string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_run_leads SET status = 'SENT', sent_at = $3
		WHERE run_id = $1 AND lead_id = $2 AND status = 'PENDING'
	`, runID, leadID, sentAt)
	if err != nil {
		return fmt.Errorf("mark run lead sent: %w", err)
	}
	return nil
}

// RunCounts aggregates lead totals across all runs of the campaign.
func (r *CampaignRepo) RunCounts(ctx context.Context, campaignID string) (*analytics.RunCounts, error) {
	c := &analytics.RunCounts{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE rl.status = 'PENDING'),
		       COUNT(*) FILTER (WHERE rl.status = 'SENT')
		FROM campaign_run_leads rl
		JOIN campaign_runs cr ON cr.id = rl.run_id
		WHERE cr.campaign_id = $1
	`, campaignID).Scan(&c.TotalLeads, &c.PendingLeads, &c.SentLeads)
	if err != nil {
		return nil, fmt.Errorf("run counts: %w", err)
	}
	return c, nil
}
