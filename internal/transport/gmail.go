// Package transport implements the outbound mail transport: a Gmail-style
// raw-MIME send API with OAuth2 token refresh, plus the mailbox query the
// bounce reconciliation loop uses.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
)

const defaultBaseURL = "https://gmail.googleapis.com"

// AccountStore is the slice of account persistence the transport needs to
// keep refreshed tokens durable.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*domain.EmailAccount, error)
	UpdateToken(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt *time.Time) error
}

// LockFactory builds a distributed lock for a key. Token refresh for one
// account is a critical section across worker processes: concurrent
// refreshes race on the stored refresh token.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// BounceMessage is one mailbox message that matched the bounce heuristics.
type BounceMessage struct {
	ID      string
	Subject string
	From    string
}

// Gmail sends raw MIME messages through a Gmail-like REST API.
type Gmail struct {
	httpClient *http.Client
	oauth      *oauth2.Config
	accounts   AccountStore
	newLock    LockFactory
	baseURL    string
}

// NewGmail creates the transport. newLock may be nil when running
// single-process (refresh then relies on database last-write-wins).
func NewGmail(clientID, clientSecret, redirectURL string, accounts AccountStore, newLock LockFactory) *Gmail {
	return &Gmail{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/gmail.readonly",
			},
		},
		accounts: accounts,
		newLock:  newLock,
		baseURL:  defaultBaseURL,
	}
}

// SetBaseURL overrides the API endpoint (used by tests).
func (g *Gmail) SetBaseURL(u string) { g.baseURL = u }

// RefreshIfExpired returns an account with a usable access token,
// refreshing and persisting it if the stored one has expired. Refresh is
// serialized per account via a distributed lock; a process that loses the
// race re-reads the token the winner stored.
func (g *Gmail) RefreshIfExpired(ctx context.Context, account *domain.EmailAccount) (*domain.EmailAccount, error) {
	if !account.TokenExpired(time.Now()) {
		return account, nil
	}

	if g.newLock != nil {
		lock := g.newLock("account-refresh:"+account.ID, 30*time.Second)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire refresh lock: %w", err)
		}
		if !acquired {
			// Another process is refreshing; wait briefly and pick up
			// its result.
			return g.waitForRefresh(ctx, account)
		}
		defer lock.Release(ctx)

		// Re-read under the lock: the previous holder may have already
		// refreshed.
		fresh, err := g.accounts.GetAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("reload account: %w", err)
		}
		if !fresh.TokenExpired(time.Now()) {
			return fresh, nil
		}
		account = fresh
	}

	return g.refresh(ctx, account)
}

func (g *Gmail) refresh(ctx context.Context, account *domain.EmailAccount) (*domain.EmailAccount, error) {
	tok := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}
	if account.ExpiresAt != nil {
		tok.Expiry = *account.ExpiresAt
	}

	refreshed, err := g.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for account %s: %w", account.ID, err)
	}

	updated := *account
	updated.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		updated.RefreshToken = refreshed.RefreshToken
	}
	if !refreshed.Expiry.IsZero() {
		expiry := refreshed.Expiry
		updated.ExpiresAt = &expiry
	}

	if err := g.accounts.UpdateToken(ctx, updated.ID, updated.AccessToken, updated.RefreshToken, updated.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	logger.Info("access token refreshed", "account", account.ID)
	return &updated, nil
}

func (g *Gmail) waitForRefresh(ctx context.Context, account *domain.EmailAccount) (*domain.EmailAccount, error) {
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		fresh, err := g.accounts.GetAccount(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if !fresh.TokenExpired(time.Now()) {
			return fresh, nil
		}
	}
	return nil, fmt.Errorf("refresh for account %s did not complete", account.ID)
}

// SendRawMIME submits a raw MIME message and returns the provider message
// ID. Errors are transient from the queue's perspective; the retry policy
// decides their fate.
func (g *Gmail) SendRawMIME(ctx context.Context, account *domain.EmailAccount, raw []byte) (string, error) {
	body, err := json.Marshal(map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("send message: status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.ID, nil
}

// bounceQuery mirrors the subject-line heuristics used to spot delivery
// failure reports. Best effort: false negatives are expected.
const bounceQuery = "is:unread subject:(bounced|undelivered|delivery failed|returned mail)"

// ListBounceCandidates returns up to max unread mailbox messages whose
// subjects look like bounce reports, with Subject and From headers resolved.
func (g *Gmail) ListBounceCandidates(ctx context.Context, account *domain.EmailAccount, max int) ([]BounceMessage, error) {
	if max <= 0 {
		max = 10
	}

	listURL := fmt.Sprintf("%s/gmail/v1/users/me/messages?q=%s&maxResults=%d",
		g.baseURL, url.QueryEscape(bounceQuery), max)
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.getJSON(ctx, account, listURL, &list); err != nil {
		return nil, fmt.Errorf("list bounce candidates: %w", err)
	}

	var out []BounceMessage
	for _, m := range list.Messages {
		msgURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=metadata&metadataHeaders=Subject&metadataHeaders=From",
			g.baseURL, m.ID)
		var msg struct {
			Payload struct {
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"payload"`
		}
		if err := g.getJSON(ctx, account, msgURL, &msg); err != nil {
			logger.Warn("bounce candidate fetch failed", "message", m.ID, "error", err)
			continue
		}

		bm := BounceMessage{ID: m.ID}
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				bm.Subject = h.Value
			case "From":
				bm.From = h.Value
			}
		}
		out = append(out, bm)
	}
	return out, nil
}

func (g *Gmail) getJSON(ctx context.Context, account *domain.EmailAccount, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
