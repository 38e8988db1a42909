package domain

import (
	"regexp"
	"strings"
	"time"
)

// Lead represents a prospect contact record owned by a user. The email
// address may be absent until enrichment fills it in.
type Lead struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Name         string     `json:"name" db:"name"`
	Email        *string    `json:"email" db:"email"`
	Category     string     `json:"category" db:"category"`
	Address      string     `json:"address" db:"address"`
	City         string     `json:"city" db:"city"`
	Region       string     `json:"region" db:"region"`
	Country      string     `json:"country" db:"country"`
	Phone        string     `json:"phone" db:"phone"`
	Website      *string    `json:"website" db:"website"`
	Rating       float64    `json:"rating" db:"rating"`
	ReviewsCount int        `json:"reviews_count" db:"reviews_count"`
	Source       string     `json:"source" db:"source"`
	Bounced      bool       `json:"bounced" db:"bounced"`
	LastContacted *time.Time `json:"last_contacted" db:"last_contacted"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// HasEmail reports whether the lead has a non-empty email address.
func (l *Lead) HasEmail() bool {
	return l.Email != nil && *l.Email != ""
}

// Sendable reports whether the lead may receive email right now.
// Bounce state and address presence are both re-checked at dispatch time.
func (l *Lead) Sendable() bool {
	return l.HasEmail() && !l.Bounced
}

// TemplateData returns the lead's attributes as merge data for subject and
// body templates. The company key aliases the lead name, matching the
// placeholder vocabulary exposed to campaign authors.
func (l *Lead) TemplateData() map[string]any {
	email := ""
	if l.Email != nil {
		email = *l.Email
	}
	website := ""
	if l.Website != nil {
		website = *l.Website
	}
	return map[string]any{
		"name":     l.Name,
		"email":    email,
		"company":  l.Name,
		"category": l.Category,
		"city":     l.City,
		"region":   l.Region,
		"country":  l.Country,
		"website":  website,
		"phone":    l.Phone,
		"rating":   l.Rating,
	}
}

// LeadPack is a named, manually curated subset of a user's leads.
type LeadPack struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether the address has a plausible mailbox@domain shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// EmailDomain extracts the domain part of an email address, or "" if the
// address has no @.
func EmailDomain(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return email[idx+1:]
}
