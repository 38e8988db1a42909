// Package postgres implements the data access interfaces against
// PostgreSQL with hand-written SQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/domain"
)

// LeadRepo implements lead reads and bounce/contact bookkeeping.
type LeadRepo struct{ db *sql.DB }

func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

const leadColumns = `id, user_id, name, email, category, address, city, region,
	country, phone, website, rating, reviews_count, source, bounced,
	last_contacted, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	err := row.Scan(
		&l.ID, &l.UserID, &l.Name, &l.Email, &l.Category, &l.Address, &l.City,
		&l.Region, &l.Country, &l.Phone, &l.Website, &l.Rating, &l.ReviewsCount,
		&l.Source, &l.Bounced, &l.LastContacted, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LeadRepo) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *LeadRepo) CreateLead(ctx context.Context, l *domain.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (id, user_id, name, email, category, address, city,
			region, country, phone, website, rating, reviews_count, source,
			bounced, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false,$15,$15)
	`, l.ID, l.UserID, l.Name, l.Email, l.Category, l.Address, l.City,
		l.Region, l.Country, l.Phone, l.Website, l.Rating, l.ReviewsCount,
		l.Source, now)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// ListLeads returns the user's leads newest first.
func (r *LeadRepo) ListLeads(ctx context.Context, userID string, limit, offset int) ([]domain.Lead, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	leads, err := collectLeads(rows)
	if err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// FilterLeads evaluates the targeting predicate over the user's non-bounced
// leads. Filter fields are AND-combined; a nil filter matches every
// non-bounced lead of the user.
func (r *LeadRepo) FilterLeads(ctx context.Context, userID string, f *domain.LeadFilter, limit int) ([]domain.Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE user_id = $1 AND bounced = false`
	args := []any{userID}
	idx := 2

	if f != nil {
		if len(f.Countries) > 0 {
			q += fmt.Sprintf(" AND country = ANY($%d)", idx)
			args = append(args, pq.Array(f.Countries))
			idx++
		}
		if len(f.Categories) > 0 {
			q += fmt.Sprintf(" AND category = ANY($%d)", idx)
			args = append(args, pq.Array(f.Categories))
			idx++
		}
		if f.HasWebsite != nil {
			if *f.HasWebsite {
				q += " AND website IS NOT NULL AND website <> ''"
			} else {
				q += " AND (website IS NULL OR website = '')"
			}
		}
		if f.HasEmail != nil {
			if *f.HasEmail {
				q += " AND email IS NOT NULL AND email <> ''"
			} else {
				q += " AND (email IS NULL OR email = '')"
			}
		}
		if f.RatingMin > 0 {
			q += fmt.Sprintf(" AND rating >= $%d", idx)
			args = append(args, f.RatingMin)
			idx++
		}
		if f.LastContactedDays > 0 {
			q += fmt.Sprintf(" AND (last_contacted IS NULL OR last_contacted < NOW() - $%d * INTERVAL '1 day')", idx)
			args = append(args, f.LastContactedDays)
			idx++
		}
	}

	q += fmt.Sprintf(" ORDER BY created_at LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("filter leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

// PackLeads returns the pack's membership. Pack targeting bypasses the
// attribute filter entirely; only the bounce flag still applies.
func (r *LeadRepo) PackLeads(ctx context.Context, packID string, limit int) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixColumns("l", leadColumns)+`
		FROM leads l
		JOIN lead_pack_members m ON m.lead_id = l.id
		WHERE m.pack_id = $1 AND l.bounced = false
		ORDER BY l.created_at
		LIMIT $2
	`, packID, limit)
	if err != nil {
		return nil, fmt.Errorf("pack leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (r *LeadRepo) TouchLeadContacted(ctx context.Context, leadID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE leads SET last_contacted = $2, updated_at = NOW() WHERE id = $1
	`, leadID, at)
	if err != nil {
		return fmt.Errorf("touch lead contacted: %w", err)
	}
	return nil
}

// MarkLeadsBounced flags every lead of the user matching the address and
// returns the affected lead IDs. Matching is case-insensitive.
func (r *LeadRepo) MarkLeadsBounced(ctx context.Context, userID, email string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE leads SET bounced = true, updated_at = NOW()
		WHERE user_id = $1 AND LOWER(email) = LOWER($2) AND bounced = false
		RETURNING id
	`, userID, email)
	if err != nil {
		return nil, fmt.Errorf("mark leads bounced: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mark leads bounced: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectLeads(rows *sql.Rows) ([]domain.Lead, error) {
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// prefixColumns qualifies every column in a comma-joined list with a table
// alias, for join queries.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
