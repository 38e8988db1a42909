package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/queue"
)

const (
	// MaxRunLeads caps the resolved audience per run. Leads beyond the cap
	// are excluded; the operator starts additional runs for the remainder.
	MaxRunLeads = 1000
	// InitialBatch bounds how many first-step sends StartRun enqueues.
	InitialBatch = 50
	// MaxJitter spreads the initial batch to avoid a thundering-herd burst
	// against the transport and receiving servers' spam heuristics.
	MaxJitter = 60 * time.Second
)

// RunHandle summarizes a freshly started run.
type RunHandle struct {
	RunID       string `json:"campaignRunId"`
	LeadCount   int    `json:"leadCount"`
	QueuedCount int    `json:"leadsQueued"`
}

// Scheduler starts and stops campaign runs and advances leads through steps.
type Scheduler struct {
	repo Repository
	jobs queue.Enqueuer

	jitter func() time.Duration
}

// New creates a scheduler.
func New(repo Repository, jobs queue.Enqueuer) *Scheduler {
	return &Scheduler{
		repo:   repo,
		jobs:   jobs,
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(MaxJitter))) },
	}
}

// StartRun resolves the campaign's audience, creates a run with one PENDING
// row per targeted lead, and enqueues the first step for an initial bounded
// batch. Validation failures surface synchronously; nothing is created
// unless the campaign has steps, an active account, and a non-empty
// audience.
func (s *Scheduler) StartRun(ctx context.Context, userID, campaignID string) (*RunHandle, error) {
	c, err := s.repo.GetCampaign(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}

	steps, err := s.repo.GetSteps(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	if live, err := s.repo.LiveRun(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("check live run: %w", err)
	} else if live != nil {
		return nil, ErrRunActive
	}

	account, err := s.repo.FirstActiveAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrNoActiveAccount
	}

	leads, err := s.resolveLeads(ctx, userID, c)
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, ErrNoLeads
	}

	run, err := s.repo.CreateRun(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := s.repo.SetCampaignActive(ctx, c.ID, true); err != nil {
		return nil, fmt.Errorf("activate campaign: %w", err)
	}

	leadIDs := make([]string, len(leads))
	for i, l := range leads {
		leadIDs[i] = l.ID
	}
	if err := s.repo.CreateRunLeads(ctx, run.ID, leadIDs); err != nil {
		return nil, fmt.Errorf("create run leads: %w", err)
	}

	// First step goes to the initial batch only. Advancing the remainder
	// of a >InitialBatch audience is an operator workflow, not automatic.
	first := steps[0]
	queued := 0
	for _, lead := range leads {
		if queued >= InitialBatch {
			break
		}
		if !lead.HasEmail() {
			continue
		}
		job := SendJob{
			LeadID:     lead.ID,
			CampaignID: c.ID,
			StepID:     first.ID,
			AccountID:  account.ID,
			RunID:      run.ID,
		}
		if _, err := s.jobs.Enqueue(ctx, queue.QueueSend, job, queue.Options{
			Delay:       s.jitter(),
			MaxAttempts: 3,
			Backoff:     2 * time.Second,
		}); err != nil {
			return nil, fmt.Errorf("enqueue initial send: %w", err)
		}
		queued++
	}

	logger.Info("campaign run started",
		"campaign", c.ID, "run", run.ID,
		"leads", len(leads), "queued", queued)

	return &RunHandle{RunID: run.ID, LeadCount: len(leads), QueuedCount: queued}, nil
}

// StopRun marks the campaign inactive and transitions its live runs to
// STOPPED. Already-queued delayed jobs are deliberately left in the queue;
// they become no-ops at dispatch because the worker re-checks run state.
func (s *Scheduler) StopRun(ctx context.Context, userID, campaignID string) error {
	c, err := s.repo.GetCampaign(ctx, userID, campaignID)
	if err != nil {
		return err
	}

	if err := s.repo.SetCampaignActive(ctx, c.ID, false); err != nil {
		return fmt.Errorf("deactivate campaign: %w", err)
	}

	stopped, err := s.repo.StopLiveRuns(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("stop runs: %w", err)
	}

	logger.Info("campaign stopped", "campaign", c.ID, "runs_stopped", stopped)
	return nil
}

// Advance schedules the step after completedStep for the lead named in the
// completed job, applying the completed step's condition. A lead whose
// campaign has no further steps simply ends its journey; its run-lead row
// stays SENT.
func (s *Scheduler) Advance(ctx context.Context, completed SendJob, completedStep *domain.CampaignStep) error {
	next, err := s.repo.NextStep(ctx, completedStep.CampaignID, completedStep.Order)
	if err != nil {
		return fmt.Errorf("look up next step: %w", err)
	}
	if next == nil {
		return nil
	}

	job := SendJob{
		LeadID:     completed.LeadID,
		CampaignID: completed.CampaignID,
		StepID:     next.ID,
		AccountID:  completed.AccountID,
		RunID:      completed.RunID,
	}

	var delay time.Duration
	switch completedStep.Condition {
	case domain.ConditionAlways:
		delay = next.WaitDuration()
	case domain.ConditionNoOpen:
		if completedStep.ConditionValue <= 0 {
			return nil
		}
		delay = time.Duration(completedStep.ConditionValue) * 24 * time.Hour
		job.CheckNoOpen = true
	default:
		// Steps beyond the first require an explicit condition to fire.
		return nil
	}

	if _, err := s.jobs.Enqueue(ctx, queue.QueueFollowUp, job, queue.Options{
		Delay:       delay,
		MaxAttempts: 3,
		Backoff:     3 * time.Second,
	}); err != nil {
		return fmt.Errorf("enqueue follow-up: %w", err)
	}

	logger.Debug("follow-up scheduled",
		"campaign", job.CampaignID, "lead", job.LeadID,
		"step", next.ID, "delay", delay.String())
	return nil
}

func (s *Scheduler) resolveLeads(ctx context.Context, userID string, c *domain.Campaign) ([]domain.Lead, error) {
	if c.LeadPackID != nil && *c.LeadPackID != "" {
		leads, err := s.repo.PackLeads(ctx, *c.LeadPackID, MaxRunLeads)
		if err != nil {
			return nil, fmt.Errorf("resolve pack leads: %w", err)
		}
		return leads, nil
	}
	leads, err := s.repo.FilterLeads(ctx, userID, c.Filters, MaxRunLeads)
	if err != nil {
		return nil, fmt.Errorf("resolve filtered leads: %w", err)
	}
	return leads, nil
}
