package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// AccountRepo implements sending-account access and token persistence.
type AccountRepo struct{ db *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, user_id, email, access_token, refresh_token,
	expires_at, is_active, daily_limit, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.EmailAccount, error) {
	a := &domain.EmailAccount{}
	err := row.Scan(
		&a.ID, &a.UserID, &a.Email, &a.AccessToken, &a.RefreshToken,
		&a.ExpiresAt, &a.IsActive, &a.DailyLimit, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, accountID string) (*domain.EmailAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE id = $1`, accountID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) FirstActiveAccount(ctx context.Context, userID string) (*domain.EmailAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM email_accounts
		WHERE user_id = $1 AND is_active = true
		ORDER BY created_at
		LIMIT 1
	`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first active account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) ActiveAccounts(ctx context.Context) ([]*domain.EmailAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE is_active = true ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListAccounts returns the user's accounts newest first. Tokens stay out of
// API responses via the domain type's json tags.
func (r *AccountRepo) ListAccounts(ctx context.Context, userID string) ([]*domain.EmailAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM email_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepo) UpdateToken(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`, accountID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}
