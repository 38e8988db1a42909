package worker

import (
	"context"
	"regexp"
	"strings"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/transport"
)

// BounceStore is the data access for bounce reconciliation.
type BounceStore interface {
	ActiveAccounts(ctx context.Context) ([]*domain.EmailAccount, error)

	// MarkLeadsBounced flags every lead of the user that matches the
	// address and returns the affected lead IDs.
	MarkLeadsBounced(ctx context.Context, userID, email string) ([]string, error)
	RecordActivity(ctx context.Context, a *domain.Activity) error
}

// BounceTransport is the inbox-side mail interface the checker reads from.
type BounceTransport interface {
	RefreshIfExpired(ctx context.Context, account *domain.EmailAccount) (*domain.EmailAccount, error)
	ListBounceCandidates(ctx context.Context, account *domain.EmailAccount, max int) ([]transport.BounceMessage, error)
}

// BounceChecker scans each active account's inbox for delivery-failure
// notifications and flags the corresponding leads. One account failing
// never blocks the rest of the sweep.
type BounceChecker struct {
	store       BounceStore
	transport   BounceTransport
	maxMessages int
}

func NewBounceChecker(store BounceStore, tr BounceTransport, maxMessages int) *BounceChecker {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	return &BounceChecker{store: store, transport: tr, maxMessages: maxMessages}
}

// Run performs one full sweep across all active accounts.
func (c *BounceChecker) Run(ctx context.Context) error {
	accounts, err := c.store.ActiveAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.checkAccount(ctx, account); err != nil {
			logger.Error("bounce check failed", "account", account.ID, "error", err)
		}
	}
	return nil
}

func (c *BounceChecker) checkAccount(ctx context.Context, account *domain.EmailAccount) error {
	account, err := c.transport.RefreshIfExpired(ctx, account)
	if err != nil {
		return err
	}

	messages, err := c.transport.ListBounceCandidates(ctx, account, c.maxMessages)
	if err != nil {
		return err
	}

	flagged := 0
	for _, msg := range messages {
		addr := ExtractBouncedAddress(msg.Subject)
		if addr == "" {
			continue
		}
		leadIDs, err := c.store.MarkLeadsBounced(ctx, account.UserID, addr)
		if err != nil {
			logger.Error("mark bounced failed", "account", account.ID, "error", err)
			continue
		}
		for _, leadID := range leadIDs {
			if err := c.store.RecordActivity(ctx, &domain.Activity{
				LeadID: leadID,
				Type:   domain.ActivityBounce,
				Metadata: map[string]any{
					"messageId": msg.ID,
					"subject":   msg.Subject,
				},
			}); err != nil {
				logger.Error("record BOUNCE activity failed", "lead", leadID, "error", err)
			}
		}
		flagged += len(leadIDs)
	}

	if flagged > 0 {
		logger.Info("bounce sweep flagged leads", "account", account.ID, "leads", flagged)
	}
	return nil
}

var (
	angleAddrRe = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>`)
	bareAddrRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ExtractBouncedAddress pulls the failed recipient out of a bounce
// notification subject. Angle-bracketed addresses win over bare tokens
// since providers usually quote the recipient that way.
func ExtractBouncedAddress(subject string) string {
	if m := angleAddrRe.FindStringSubmatch(subject); m != nil {
		return strings.ToLower(m[1])
	}
	if m := bareAddrRe.FindString(subject); m != "" {
		return strings.ToLower(m)
	}
	return ""
}
