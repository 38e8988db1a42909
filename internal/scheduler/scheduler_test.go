package scheduler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/scheduler"
)

// memRepo is an in-memory scheduler repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	steps     map[string][]domain.CampaignStep // by campaign id
	runs      []*domain.CampaignRun
	runLeads  map[string][]string // run id -> lead ids
	leads     []domain.Lead
	packs     map[string][]domain.Lead
	accounts  []domain.EmailAccount
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns: make(map[string]*domain.Campaign),
		steps:     make(map[string][]domain.CampaignStep),
		runLeads:  make(map[string][]string),
		packs:     make(map[string][]domain.Lead),
	}
}

func (m *memRepo) GetCampaign(_ context.Context, userID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, scheduler.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetSteps(_ context.Context, campaignID string) ([]domain.CampaignStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[campaignID], nil
}

func (m *memRepo) NextStep(_ context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps[campaignID] {
		if s.Order > afterOrder {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) SetCampaignActive(_ context.Context, campaignID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[campaignID]; ok {
		c.IsActive = active
	}
	return nil
}

func (m *memRepo) LiveRun(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.CampaignID == campaignID && r.Live() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) CreateRun(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &domain.CampaignRun{
		ID:         fmt.Sprintf("run-%d", len(m.runs)+1),
		CampaignID: campaignID,
		Status:     domain.RunRunning,
		StartedAt:  time.Now(),
	}
	m.runs = append(m.runs, run)
	cp := *run
	return &cp, nil
}

func (m *memRepo) CreateRunLeads(_ context.Context, runID string, leadIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runLeads[runID] = append(m.runLeads[runID], leadIDs...)
	return nil
}

func (m *memRepo) StopLiveRuns(_ context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now()
	for _, r := range m.runs {
		if r.CampaignID == campaignID && r.Live() {
			r.Status = domain.RunStopped
			r.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memRepo) FilterLeads(_ context.Context, userID string, _ *domain.LeadFilter, limit int) ([]domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Lead
	for _, l := range m.leads {
		if l.UserID == userID && !l.Bounced {
			out = append(out, l)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) PackLeads(_ context.Context, packID string, limit int) ([]domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leads := m.packs[packID]
	if len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

func (m *memRepo) FirstActiveAccount(_ context.Context, userID string) (*domain.EmailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.UserID == userID && a.IsActive {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

// memQueue captures enqueued jobs without a real queue backend.
type memQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

type enqueued struct {
	queue   string
	payload scheduler.SendJob
	opts    queue.Options
}

func (m *memQueue) Enqueue(_ context.Context, q string, payload any, opts queue.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var job scheduler.SendJob
	if err := json.Unmarshal(data, &job); err != nil {
		return "", err
	}
	m.jobs = append(m.jobs, enqueued{queue: q, payload: job, opts: opts})
	return fmt.Sprintf("job-%d", len(m.jobs)), nil
}

const (
	testUser = "user-1"
	testCamp = "camp-1"
)

func strptr(s string) *string { return &s }

func fixture(leadCount int) (*memRepo, *memQueue, *scheduler.Scheduler) {
	repo := newMemRepo()
	repo.campaigns[testCamp] = &domain.Campaign{
		ID: testCamp, UserID: testUser, Name: "Outreach", IsActive: true,
	}
	repo.steps[testCamp] = []domain.CampaignStep{
		{ID: "step-1", CampaignID: testCamp, Order: 1, Condition: domain.ConditionAlways,
			WaitUnit: domain.WaitDays, WaitValue: 1},
		{ID: "step-2", CampaignID: testCamp, Order: 2,
			WaitUnit: domain.WaitHours, WaitValue: 6},
	}
	repo.accounts = []domain.EmailAccount{
		{ID: "acct-1", UserID: testUser, Email: "sender@example.com", IsActive: true, DailyLimit: 500},
	}
	for i := 0; i < leadCount; i++ {
		repo.leads = append(repo.leads, domain.Lead{
			ID:     fmt.Sprintf("lead-%d", i+1),
			UserID: testUser,
			Name:   fmt.Sprintf("Company %d", i+1),
			Email:  strptr(fmt.Sprintf("contact%d@example.com", i+1)),
		})
	}
	q := &memQueue{}
	return repo, q, scheduler.New(repo, q)
}

func TestStartRunValidation(t *testing.T) {
	t.Run("zero steps", func(t *testing.T) {
		repo, _, s := fixture(3)
		repo.steps[testCamp] = nil
		_, err := s.StartRun(context.Background(), testUser, testCamp)
		assert.ErrorIs(t, err, scheduler.ErrNoSteps)
		assert.True(t, scheduler.IsValidation(err))
	})

	t.Run("no active account", func(t *testing.T) {
		repo, _, s := fixture(3)
		repo.accounts[0].IsActive = false
		_, err := s.StartRun(context.Background(), testUser, testCamp)
		assert.ErrorIs(t, err, scheduler.ErrNoActiveAccount)
	})

	t.Run("empty audience", func(t *testing.T) {
		_, _, s := fixture(0)
		_, err := s.StartRun(context.Background(), testUser, testCamp)
		assert.ErrorIs(t, err, scheduler.ErrNoLeads)
	})

	t.Run("bounced leads excluded from audience", func(t *testing.T) {
		repo, _, s := fixture(1)
		repo.leads[0].Bounced = true
		_, err := s.StartRun(context.Background(), testUser, testCamp)
		assert.ErrorIs(t, err, scheduler.ErrNoLeads)
	})

	t.Run("unknown campaign", func(t *testing.T) {
		_, _, s := fixture(3)
		_, err := s.StartRun(context.Background(), testUser, "nope")
		assert.ErrorIs(t, err, scheduler.ErrCampaignNotFound)
	})
}

func TestStartRunConflict(t *testing.T) {
	repo, q, s := fixture(3)

	_, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)

	_, err = s.StartRun(context.Background(), testUser, testCamp)
	assert.ErrorIs(t, err, scheduler.ErrRunActive)
	assert.False(t, scheduler.IsValidation(err))

	// The failed start must not have enqueued anything extra.
	assert.Len(t, q.jobs, 3)
	_ = repo
}

func TestStartRunEnqueuesInitialBatch(t *testing.T) {
	repo, q, s := fixture(3)

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)

	assert.Equal(t, 3, h.LeadCount)
	assert.Equal(t, 3, h.QueuedCount)
	assert.True(t, repo.campaigns[testCamp].IsActive)
	assert.Len(t, repo.runLeads[h.RunID], 3, "one PENDING row per targeted lead")

	require.Len(t, q.jobs, 3)
	for _, j := range q.jobs {
		assert.Equal(t, queue.QueueSend, j.queue)
		assert.Equal(t, "step-1", j.payload.StepID)
		assert.Equal(t, "acct-1", j.payload.AccountID)
		assert.Equal(t, h.RunID, j.payload.RunID)
		assert.GreaterOrEqual(t, j.opts.Delay, time.Duration(0))
		assert.LessOrEqual(t, j.opts.Delay, scheduler.MaxJitter, "dispatch jitter capped at 60s")
	}
}

func TestStartRunCapsInitialBatchAtFifty(t *testing.T) {
	repo, q, s := fixture(80)

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)

	assert.Equal(t, 80, h.LeadCount)
	assert.Equal(t, scheduler.InitialBatch, h.QueuedCount)
	assert.Len(t, repo.runLeads[h.RunID], 80, "all leads get run rows, only the batch is queued")
	assert.Len(t, q.jobs, scheduler.InitialBatch)
}

func TestStartRunCapsAudience(t *testing.T) {
	_, _, s := fixture(scheduler.MaxRunLeads + 200)

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)
	assert.Equal(t, scheduler.MaxRunLeads, h.LeadCount, "audience capped at the safety ceiling")
}

func TestStartRunSkipsLeadsWithoutEmail(t *testing.T) {
	repo, q, s := fixture(3)
	repo.leads[1].Email = nil

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)

	assert.Equal(t, 3, h.LeadCount, "address-less leads still join the run for later enrichment")
	assert.Equal(t, 2, h.QueuedCount)
	assert.Len(t, q.jobs, 2)
}

func TestStartRunWithLeadPack(t *testing.T) {
	repo, q, s := fixture(0)
	repo.campaigns[testCamp].LeadPackID = strptr("pack-1")
	// Pack membership is taken as-is; a bounced member is only filtered at
	// dispatch time.
	repo.packs["pack-1"] = []domain.Lead{
		{ID: "p-lead-1", UserID: testUser, Email: strptr("a@example.com")},
		{ID: "p-lead-2", UserID: testUser, Email: strptr("b@example.com")},
	}

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)
	assert.Equal(t, 2, h.LeadCount)
	assert.Len(t, q.jobs, 2)
}

func TestStopRun(t *testing.T) {
	repo, _, s := fixture(3)

	h, err := s.StartRun(context.Background(), testUser, testCamp)
	require.NoError(t, err)

	require.NoError(t, s.StopRun(context.Background(), testUser, testCamp))

	assert.False(t, repo.campaigns[testCamp].IsActive)
	for _, r := range repo.runs {
		if r.ID == h.RunID {
			assert.Equal(t, domain.RunStopped, r.Status)
			assert.NotNil(t, r.FinishedAt)
		}
	}

	// With the run stopped, a new start succeeds again.
	_, err = s.StartRun(context.Background(), testUser, testCamp)
	assert.NoError(t, err)
}

func TestAdvance(t *testing.T) {
	completed := scheduler.SendJob{
		LeadID: "lead-1", CampaignID: testCamp, StepID: "step-1",
		AccountID: "acct-1", RunID: "run-1",
	}

	t.Run("always schedules next step after its wait", func(t *testing.T) {
		repo, q, s := fixture(1)
		step := &repo.steps[testCamp][0] // condition: always

		require.NoError(t, s.Advance(context.Background(), completed, step))

		require.Len(t, q.jobs, 1)
		j := q.jobs[0]
		assert.Equal(t, queue.QueueFollowUp, j.queue)
		assert.Equal(t, "step-2", j.payload.StepID)
		assert.False(t, j.payload.CheckNoOpen)
		assert.Equal(t, 6*time.Hour, j.opts.Delay, "delay comes from the next step's wait spec")
	})

	t.Run("no_open schedules dispatch-time re-check", func(t *testing.T) {
		repo, q, s := fixture(1)
		repo.steps[testCamp][0].Condition = domain.ConditionNoOpen
		repo.steps[testCamp][0].ConditionValue = 3
		step := &repo.steps[testCamp][0]

		require.NoError(t, s.Advance(context.Background(), completed, step))

		require.Len(t, q.jobs, 1)
		j := q.jobs[0]
		assert.True(t, j.payload.CheckNoOpen)
		assert.Equal(t, 3*24*time.Hour, j.opts.Delay)
	})

	t.Run("absent condition schedules nothing", func(t *testing.T) {
		repo, q, s := fixture(1)
		repo.steps[testCamp][0].Condition = ""
		step := &repo.steps[testCamp][0]

		require.NoError(t, s.Advance(context.Background(), completed, step))
		assert.Empty(t, q.jobs)
	})

	t.Run("last step ends the journey", func(t *testing.T) {
		repo, q, s := fixture(1)
		last := &repo.steps[testCamp][1]
		lastJob := completed
		lastJob.StepID = last.ID

		require.NoError(t, s.Advance(context.Background(), lastJob, last))
		assert.Empty(t, q.jobs)
	})
}

func TestWaitDuration(t *testing.T) {
	tests := []struct {
		unit     domain.WaitUnit
		value    int
		expected time.Duration
	}{
		{domain.WaitMinutes, 30, 30 * time.Minute},
		{domain.WaitHours, 6, 6 * time.Hour},
		{domain.WaitDays, 2, 48 * time.Hour},
		{"bogus", 1, 24 * time.Hour},
	}

	for _, tt := range tests {
		s := domain.CampaignStep{WaitUnit: tt.unit, WaitValue: tt.value}
		assert.Equal(t, tt.expected, s.WaitDuration())
	}
}
