package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/analytics"
	"github.com/ignite/outreach/internal/api"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/scheduler"
	"github.com/ignite/outreach/internal/template"
)

// memBackend implements api.Repository, scheduler.Repository, and
// analytics.Repository over maps.
type memBackend struct {
	mu        sync.Mutex
	leads     map[string]*domain.Lead
	campaigns map[string]*domain.Campaign
	steps     map[string][]domain.CampaignStep
	runs      map[string]*domain.CampaignRun
	accounts  []*domain.EmailAccount
	activity  analytics.ActivityCounts
	runCounts analytics.RunCounts
}

func newMemBackend() *memBackend {
	return &memBackend{
		leads:     make(map[string]*domain.Lead),
		campaigns: make(map[string]*domain.Campaign),
		steps:     make(map[string][]domain.CampaignStep),
		runs:      make(map[string]*domain.CampaignRun),
	}
}

func (m *memBackend) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id], nil
}

func (m *memBackend) CreateLead(_ context.Context, l *domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = "lead-new"
	}
	m.leads[l.ID] = l
	return nil
}

func (m *memBackend) ListLeads(_ context.Context, userID string, _, _ int) ([]domain.Lead, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Lead
	for _, l := range m.leads {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	return out, len(out), nil
}

func (m *memBackend) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = "camp-new"
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *memBackend) CreateSteps(_ context.Context, campaignID string, steps []domain.CampaignStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range steps {
		steps[i].CampaignID = campaignID
		steps[i].Order = i + 1
	}
	m.steps[campaignID] = steps
	return nil
}

func (m *memBackend) GetCampaign(_ context.Context, userID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil || c.UserID != userID {
		return nil, scheduler.ErrCampaignNotFound
	}
	return c, nil
}

func (m *memBackend) GetSteps(_ context.Context, campaignID string) ([]domain.CampaignStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[campaignID], nil
}

func (m *memBackend) NextStep(_ context.Context, campaignID string, after int) (*domain.CampaignStep, error) {
	return nil, nil
}

func (m *memBackend) SetCampaignActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.campaigns[id]; c != nil {
		c.IsActive = active
	}
	return nil
}

func (m *memBackend) LiveRun(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.CampaignID == campaignID && r.Live() {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memBackend) CreateRun(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &domain.CampaignRun{ID: "run-new", CampaignID: campaignID, Status: domain.RunRunning}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memBackend) CreateRunLeads(context.Context, string, []string) error { return nil }

func (m *memBackend) StopLiveRuns(_ context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.CampaignID == campaignID && r.Live() {
			r.Status = domain.RunStopped
			n++
		}
	}
	return n, nil
}

func (m *memBackend) FilterLeads(_ context.Context, userID string, _ *domain.LeadFilter, limit int) ([]domain.Lead, error) {
	leads, _, _ := m.ListLeads(context.Background(), userID, limit, 0)
	return leads, nil
}

func (m *memBackend) PackLeads(context.Context, string, int) ([]domain.Lead, error) {
	return nil, nil
}

func (m *memBackend) FirstActiveAccount(_ context.Context, userID string) (*domain.EmailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.UserID == userID && a.IsActive {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memBackend) ListAccounts(_ context.Context, userID string) ([]*domain.EmailAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.EmailAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memBackend) ActivityCounts(context.Context, string) (*analytics.ActivityCounts, error) {
	return &m.activity, nil
}

func (m *memBackend) RunCounts(context.Context, string) (*analytics.RunCounts, error) {
	return &m.runCounts, nil
}

type noQueue struct{}

func (noQueue) Enqueue(context.Context, string, any, queue.Options) (string, error) {
	return "job-1", nil
}

func newTestServer(backend *memBackend) *httptest.Server {
	sched := scheduler.New(backend, noQueue{})
	h := api.NewHandlers(backend, sched, analytics.NewService(backend))
	return httptest.NewServer(api.SetupRoutes(h, nil))
}

func email(s string) *string { return &s }

func seedCampaign(b *memBackend) {
	b.campaigns["camp-1"] = &domain.Campaign{ID: "camp-1", UserID: "default", Name: "Bakeries"}
	b.steps["camp-1"] = []domain.CampaignStep{{
		ID: "step-1", CampaignID: "camp-1", Order: 1,
		SubjectTemplate: "Hi {{name}}", BodyTemplate: "<p>Hello</p>",
	}}
	b.accounts = []*domain.EmailAccount{{ID: "acct-1", UserID: "default", IsActive: true, DailyLimit: 100}}
	b.leads["lead-1"] = &domain.Lead{ID: "lead-1", UserID: "default", Name: "Acme", Email: email("a@b.co")}
}

func TestStartCampaignOK(t *testing.T) {
	b := newMemBackend()
	seedCampaign(b)
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/campaigns/camp-1/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var handle scheduler.RunHandle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&handle))
	assert.Equal(t, "run-new", handle.RunID)
	assert.Equal(t, 1, handle.LeadCount)
}

func TestStartCampaignNotFound(t *testing.T) {
	b := newMemBackend()
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/campaigns/nope/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartCampaignValidationErrors(t *testing.T) {
	b := newMemBackend()
	seedCampaign(b)
	b.steps["camp-1"] = nil
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/campaigns/camp-1/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "no steps")
}

func TestStartCampaignConflict(t *testing.T) {
	b := newMemBackend()
	seedCampaign(b)
	b.runs["run-live"] = &domain.CampaignRun{ID: "run-live", CampaignID: "camp-1", Status: domain.RunRunning}
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/campaigns/camp-1/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStopCampaign(t *testing.T) {
	b := newMemBackend()
	seedCampaign(b)
	b.runs["run-live"] = &domain.CampaignRun{ID: "run-live", CampaignID: "camp-1", Status: domain.RunRunning}
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/campaigns/camp-1/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.RunStopped, b.runs["run-live"].Status)
}

func TestCampaignAnalytics(t *testing.T) {
	b := newMemBackend()
	seedCampaign(b)
	b.activity = analytics.ActivityCounts{Sent: 100, Opens: 25, Clicks: 5}
	b.runCounts = analytics.RunCounts{TotalLeads: 120, SentLeads: 100, PendingLeads: 20}
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/campaigns/camp-1/analytics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sum analytics.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, 25.0, sum.OpenRate)
	assert.Equal(t, 20.0, sum.CTR)
	assert.Equal(t, 120, sum.Runs.TotalLeads)
}

func TestCreateCampaignSeedsDefaultStep(t *testing.T) {
	b := newMemBackend()
	srv := newTestServer(b)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"name": "Plumbers NL"})
	resp, err := http.Post(srv.URL+"/api/campaigns/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var c domain.Campaign
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	steps, _ := b.GetSteps(context.Background(), c.ID)
	require.Len(t, steps, 1)
	assert.Equal(t, template.DefaultSubject, steps[0].SubjectTemplate)
	assert.Equal(t, domain.ConditionAlways, steps[0].Condition)
}

func TestCreateCampaignKeepsProvidedSteps(t *testing.T) {
	b := newMemBackend()
	srv := newTestServer(b)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{
		"name": "Plumbers NL",
		"steps": []map[string]any{
			{"subject_template": "Hi {{name}}", "body_template": "<p>Hello</p>"},
			{"subject_template": "Re: Hi {{name}}", "body_template": "<p>Bump</p>", "condition": "no_open", "condition_value": 3},
		},
	})
	resp, err := http.Post(srv.URL+"/api/campaigns/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var c domain.Campaign
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	steps, _ := b.GetSteps(context.Background(), c.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, 2, steps[1].Order)
	assert.Equal(t, domain.ConditionNoOpen, steps[1].Condition)
}

func TestCreateLeadValidation(t *testing.T) {
	b := newMemBackend()
	srv := newTestServer(b)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"name": "Acme", "email": "not-an-email"})
	resp, err := http.Post(srv.URL+"/api/leads/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndListLeads(t *testing.T) {
	b := newMemBackend()
	srv := newTestServer(b)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"name": "Acme", "email": "a@b.co", "country": "PT"})
	resp, err := http.Post(srv.URL+"/api/leads/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/leads/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Leads []domain.Lead `json:"leads"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, "Acme", out.Leads[0].Name)
}

func TestGetLeadScopedToOwner(t *testing.T) {
	b := newMemBackend()
	b.leads["lead-1"] = &domain.Lead{ID: "lead-1", UserID: "default", Name: "Acme"}
	b.leads["lead-2"] = &domain.Lead{ID: "lead-2", UserID: "someone-else", Name: "Hidden"}
	srv := newTestServer(b)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/leads/lead-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var l domain.Lead
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	assert.Equal(t, "Acme", l.Name)

	resp, err = http.Get(srv.URL + "/api/leads/lead-2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(newMemBackend())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
