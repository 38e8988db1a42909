// Package worker implements the queue consumers: the send/follow-up
// dispatch loop and the bounce reconciliation sweep.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach/internal/compose"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/scheduler"
	"github.com/ignite/outreach/internal/template"
	"github.com/ignite/outreach/internal/tracking"
)

// Store is the dispatch loop's data access. Every read happens fresh at
// dispatch time; queued jobs may be minutes or days old and carry only IDs.
type Store interface {
	GetLead(ctx context.Context, leadID string) (*domain.Lead, error)
	GetRun(ctx context.Context, runID string) (*domain.CampaignRun, error)
	GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error)
	GetAccount(ctx context.Context, accountID string) (*domain.EmailAccount, error)

	// MarkRunLeadSent transitions the run-lead row PENDING -> SENT.
	// Implementations must not regress a row that is already SENT.
	MarkRunLeadSent(ctx context.Context, runID, leadID string, sentAt time.Time) error
	TouchLeadContacted(ctx context.Context, leadID string, at time.Time) error
	RecordActivity(ctx context.Context, a *domain.Activity) error

	// HasOpenActivity reports whether any OPEN activity exists for the
	// lead within the campaign.
	HasOpenActivity(ctx context.Context, leadID, campaignID string) (bool, error)
}

// Transport is the outbound mail interface the dispatcher invokes.
type Transport interface {
	RefreshIfExpired(ctx context.Context, account *domain.EmailAccount) (*domain.EmailAccount, error)
	SendRawMIME(ctx context.Context, account *domain.EmailAccount, raw []byte) (string, error)
}

// Dispatcher processes send and follow-up jobs. Safe for concurrent use by
// multiple queue workers.
type Dispatcher struct {
	store     Store
	transport Transport
	sched     *scheduler.Scheduler
	tokens    *tracking.Store
	limiter   *Limiter
	appURL    string
	secret    string

	sent    int64
	skipped int64
	failed  int64
}

// NewDispatcher creates a dispatcher. limiter may be nil to disable the
// daily-limit and dedupe guards (tests).
func NewDispatcher(store Store, tr Transport, sched *scheduler.Scheduler, tokens *tracking.Store, limiter *Limiter, appURL, secret string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: tr,
		sched:     sched,
		tokens:    tokens,
		limiter:   limiter,
		appURL:    appURL,
		secret:    secret,
	}
}

// Stats returns cumulative dispatch counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    atomic.LoadInt64(&d.sent),
		"skipped": atomic.LoadInt64(&d.skipped),
		"failed":  atomic.LoadInt64(&d.failed),
	}
}

// HandleSendJob is the queue handler for both the email-sending and
// campaign-followup queues. Eligibility is decided here, at dispatch time,
// never at enqueue time: lead bounce state, run state, and account state
// can all change while a job sits in the queue.
func (d *Dispatcher) HandleSendJob(ctx context.Context, job *queue.Job) queue.Result {
	var sj scheduler.SendJob
	if err := json.Unmarshal(job.Payload, &sj); err != nil {
		// A payload that never decodes will never decode; don't retry.
		return queue.Skip("malformed payload: " + err.Error())
	}

	res := d.process(ctx, sj)
	switch res.Outcome {
	case queue.OutcomeSkip:
		atomic.AddInt64(&d.skipped, 1)
		logger.Info("send skipped", "lead", sj.LeadID, "campaign", sj.CampaignID, "reason", res.Reason)
	case queue.OutcomeRetry:
		atomic.AddInt64(&d.failed, 1)
		logger.Warn("send failed", "lead", sj.LeadID, "campaign", sj.CampaignID,
			"attempt", job.Attempt, "error", res.Err)
	}
	return res
}

func (d *Dispatcher) process(ctx context.Context, sj scheduler.SendJob) queue.Result {
	lead, err := d.store.GetLead(ctx, sj.LeadID)
	if err != nil {
		return queue.Retry(fmt.Errorf("load lead: %w", err))
	}
	if lead == nil {
		return queue.Skip("lead not found")
	}
	if !lead.HasEmail() {
		return queue.Skip("lead has no email")
	}
	if lead.Bounced {
		return queue.Skip("lead bounced")
	}

	run, err := d.store.GetRun(ctx, sj.RunID)
	if err != nil {
		return queue.Retry(fmt.Errorf("load run: %w", err))
	}
	if run == nil || run.Status != domain.RunRunning {
		return queue.Skip("run not running")
	}

	account, err := d.store.GetAccount(ctx, sj.AccountID)
	if err != nil {
		return queue.Retry(fmt.Errorf("load account: %w", err))
	}
	if account == nil || !account.IsActive {
		return queue.Skip("account inactive")
	}

	// no_open follow-ups re-check the condition at dispatch: an open that
	// arrived during the wait suppresses the send entirely.
	if sj.CheckNoOpen {
		opened, err := d.store.HasOpenActivity(ctx, sj.LeadID, sj.CampaignID)
		if err != nil {
			return queue.Retry(fmt.Errorf("check opens: %w", err))
		}
		if opened {
			return queue.Skip("lead opened, follow-up suppressed")
		}
	}

	step, err := d.store.GetStep(ctx, sj.StepID)
	if err != nil {
		return queue.Retry(fmt.Errorf("load step: %w", err))
	}
	if step == nil {
		return queue.Skip("step not found")
	}

	if d.limiter != nil {
		dup, err := d.limiter.AlreadySent(ctx, sj.RunID, sj.StepID, sj.LeadID)
		if err != nil {
			logger.Warn("dedupe check unavailable", "error", err)
		} else if dup {
			return queue.Skip("duplicate delivery")
		}

		ok, err := d.limiter.ReserveDailySlot(ctx, account.ID, account.DailyLimit)
		if err != nil {
			logger.Warn("daily limit check unavailable", "error", err)
		} else if !ok {
			return queue.Retry(fmt.Errorf("account %s daily limit reached", account.ID))
		}
	}

	account, err = d.transport.RefreshIfExpired(ctx, account)
	if err != nil {
		return queue.Retry(fmt.Errorf("refresh token: %w", err))
	}

	raw, err := d.buildMessage(ctx, account, lead, step, sj)
	if err != nil {
		return queue.Retry(fmt.Errorf("build message: %w", err))
	}

	messageID, err := d.transport.SendRawMIME(ctx, account, raw.mime)
	if err != nil {
		return queue.Retry(err)
	}

	// Past this point the email is out the door. Recording failures are
	// logged, not retried: a retry would send the email again just to fix
	// bookkeeping.
	d.recordSuccess(ctx, lead, step, sj, raw.subject, messageID)

	atomic.AddInt64(&d.sent, 1)
	logger.Info("email sent", "lead", lead.ID, "campaign", sj.CampaignID,
		"step", step.ID, "message_id", messageID)
	return queue.Done()
}

type builtMessage struct {
	mime    []byte
	subject string
}

// buildMessage renders the step templates for the lead, mints fresh
// tracking state (every send gets its own tracking ID), and composes the
// final MIME body.
func (d *Dispatcher) buildMessage(ctx context.Context, account *domain.EmailAccount, lead *domain.Lead, step *domain.CampaignStep, sj scheduler.SendJob) (*builtMessage, error) {
	data := lead.TemplateData()
	subject := template.Render(step.SubjectTemplate, data)
	body := template.Render(step.BodyTemplate, data)

	trackingID := tracking.NewTrackingID()
	sig := tracking.Sign(trackingID, lead.ID, d.secret)
	if err := d.tokens.PutToken(ctx, trackingID, tracking.Token{
		LeadID:     lead.ID,
		CampaignID: sj.CampaignID,
		StepID:     sj.StepID,
	}); err != nil {
		return nil, err
	}
	pixelURL := fmt.Sprintf("%s/api/track/open?id=%s&sig=%s", d.appURL, trackingID, sig)

	linkMap := make(map[string]string)
	for _, u := range compose.ExtractLinks(body) {
		hash := tracking.LinkHash(u)
		if err := d.tokens.PutLink(ctx, hash, tracking.LinkToken{
			OriginalURL: u,
			LeadID:      lead.ID,
			CampaignID:  sj.CampaignID,
			StepID:      sj.StepID,
		}); err != nil {
			return nil, err
		}
		linkMap[u] = fmt.Sprintf("%s/r/%s", d.appURL, hash)
	}

	unsubscribeURL := fmt.Sprintf("%s/unsubscribe?token=%s", d.appURL, tracking.NewTrackingID())
	html := compose.Compose(body, pixelURL, unsubscribeURL, linkMap)

	mime := compose.BuildMIME(account.Email, *lead.Email, subject, html)
	return &builtMessage{mime: mime, subject: subject}, nil
}

func (d *Dispatcher) recordSuccess(ctx context.Context, lead *domain.Lead, step *domain.CampaignStep, sj scheduler.SendJob, subject, messageID string) {
	now := time.Now().UTC()

	if d.limiter != nil {
		if err := d.limiter.MarkSent(ctx, sj.RunID, sj.StepID, sj.LeadID); err != nil {
			logger.Warn("dedupe mark failed", "error", err)
		}
	}

	stepID := sj.StepID
	if err := d.store.RecordActivity(ctx, &domain.Activity{
		LeadID:     lead.ID,
		CampaignID: sj.CampaignID,
		StepID:     &stepID,
		Type:       domain.ActivitySent,
		Metadata: map[string]any{
			"messageId": messageID,
			"to":        *lead.Email,
			"subject":   subject,
		},
	}); err != nil {
		logger.Error("record SENT activity failed", "lead", lead.ID, "error", err)
	}

	if err := d.store.MarkRunLeadSent(ctx, sj.RunID, lead.ID, now); err != nil {
		logger.Error("mark run lead sent failed", "lead", lead.ID, "run", sj.RunID, "error", err)
	}
	if err := d.store.TouchLeadContacted(ctx, lead.ID, now); err != nil {
		logger.Error("touch lead contacted failed", "lead", lead.ID, "error", err)
	}

	if err := d.sched.Advance(ctx, sj, step); err != nil {
		logger.Error("advance failed", "lead", lead.ID, "campaign", sj.CampaignID, "error", err)
	}
}
