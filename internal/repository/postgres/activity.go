package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/analytics"
	"github.com/ignite/outreach/internal/domain"
)

// ActivityRepo implements the append-only activity log plus the tracking
// event tables.
type ActivityRepo struct{ db *sql.DB }

func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{db: db} }

func (r *ActivityRepo) RecordActivity(ctx context.Context, a *domain.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var metadata any
	if a.Metadata != nil {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		metadata = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, lead_id, campaign_id, step_id, type, metadata, created_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,NOW())
	`, a.ID, a.LeadID, a.CampaignID, a.StepID, a.Type, metadata)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (r *ActivityRepo) HasOpenActivity(ctx context.Context, leadID, campaignID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activities
			WHERE lead_id = $1 AND campaign_id = $2 AND type = 'OPEN'
		)
	`, leadID, campaignID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has open activity: %w", err)
	}
	return exists, nil
}

// RecordOpen stores the pixel hit and its OPEN activity. The raw hit and
// the activity row land together or not at all.
func (r *ActivityRepo) RecordOpen(ctx context.Context, open *domain.TrackingOpen) error {
	if open.ID == "" {
		open.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_opens (id, lead_id, campaign_id, step_id, ip, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
	`, open.ID, open.LeadID, open.CampaignID, open.StepID, open.IP, open.UserAgent); err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, lead_id, campaign_id, step_id, type, metadata, created_at)
		VALUES ($1,$2,$3,$4,'OPEN',NULL,NOW())
	`, uuid.NewString(), open.LeadID, open.CampaignID, open.StepID); err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return tx.Commit()
}

// RecordClick stores the redirect hit and its CLICK activity atomically.
func (r *ActivityRepo) RecordClick(ctx context.Context, click *domain.TrackingClick) error {
	if click.ID == "" {
		click.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_clicks (id, lead_id, campaign_id, step_id, url, ip, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
	`, click.ID, click.LeadID, click.CampaignID, click.StepID, click.URL, click.IP, click.UserAgent); err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	metadata, _ := json.Marshal(map[string]string{"url": click.URL})
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, lead_id, campaign_id, step_id, type, metadata, created_at)
		VALUES ($1,$2,$3,$4,'CLICK',$5,NOW())
	`, uuid.NewString(), click.LeadID, click.CampaignID, click.StepID, metadata); err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return tx.Commit()
}

// ActivityCounts aggregates per-type totals for a campaign.
func (r *ActivityRepo) ActivityCounts(ctx context.Context, campaignID string) (*analytics.ActivityCounts, error) {
	c := &analytics.ActivityCounts{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE type = 'SENT'),
		       COUNT(*) FILTER (WHERE type = 'DELIVERED'),
		       COUNT(*) FILTER (WHERE type = 'OPEN'),
		       COUNT(*) FILTER (WHERE type = 'CLICK'),
		       COUNT(*) FILTER (WHERE type = 'BOUNCE')
		FROM activities
		WHERE campaign_id = $1
	`, campaignID).Scan(&c.Sent, &c.Delivered, &c.Opens, &c.Clicks, &c.Bounces)
	if err != nil {
		return nil, fmt.Errorf("activity counts: %w", err)
	}
	return c, nil
}
