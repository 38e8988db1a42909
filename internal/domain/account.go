package domain

import "time"

// EmailAccount is a sending identity with OAuth credentials. All campaigns
// for a user share the user's active accounts; DailyLimit bounds dispatch
// volume per account per calendar day.
type EmailAccount struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Email        string     `json:"email" db:"email"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at" db:"expires_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	DailyLimit   int        `json:"daily_limit" db:"daily_limit"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// TokenExpired reports whether the access token needs a refresh before use.
func (a *EmailAccount) TokenExpired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}
