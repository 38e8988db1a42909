package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound is returned when a tracking or link token is unknown or
// has expired out of the cache.
var ErrTokenNotFound = errors.New("tracking token not found")

// Token correlates a tracking identifier back to the send that produced it.
type Token struct {
	LeadID     string `json:"leadId"`
	CampaignID string `json:"campaignId"`
	StepID     string `json:"stepId,omitempty"`
}

// LinkToken correlates a link hash back to the original URL and the send.
type LinkToken struct {
	OriginalURL string `json:"originalUrl"`
	LeadID      string `json:"leadId"`
	CampaignID  string `json:"campaignId"`
	StepID      string `json:"stepId,omitempty"`
}

// Store persists tracking correlation tokens in Redis with a short TTL.
// Tokens are throwaway correlation state, not durable records; the durable
// open/click rows live in Postgres.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a tracking token store. ttlSeconds <= 0 defaults to 24h.
func NewStore(client *redis.Client, ttlSeconds int) *Store {
	if ttlSeconds <= 0 {
		ttlSeconds = 86400
	}
	return &Store{client: client, ttl: time.Duration(ttlSeconds) * time.Second}
}

// PutToken stores the correlation payload for a tracking identifier.
func (s *Store) PutToken(ctx context.Context, trackingID string, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, "tracking:"+trackingID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store tracking token: %w", err)
	}
	return nil
}

// GetToken resolves a tracking identifier. Returns ErrTokenNotFound on miss.
func (s *Store) GetToken(ctx context.Context, trackingID string) (*Token, error) {
	data, err := s.client.Get(ctx, "tracking:"+trackingID).Bytes()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking token: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode tracking token: %w", err)
	}
	return &tok, nil
}

// PutLink stores the correlation payload for a link hash.
func (s *Store) PutLink(ctx context.Context, hash string, tok LinkToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, "link:"+hash, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store link token: %w", err)
	}
	return nil
}

// GetLink resolves a link hash. Returns ErrTokenNotFound on miss.
func (s *Store) GetLink(ctx context.Context, hash string) (*LinkToken, error) {
	data, err := s.client.Get(ctx, "link:"+hash).Bytes()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link token: %w", err)
	}
	var tok LinkToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode link token: %w", err)
	}
	return &tok, nil
}
