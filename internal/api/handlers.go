// Package api exposes the admin HTTP surface: campaign control, leads,
// accounts and analytics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/analytics"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/scheduler"
	"github.com/ignite/outreach/internal/template"
)

// Repository is the read/write surface the admin handlers need beyond the
// scheduler.
type Repository interface {
	GetLead(ctx context.Context, leadID string) (*domain.Lead, error)
	CreateLead(ctx context.Context, l *domain.Lead) error
	ListLeads(ctx context.Context, userID string, limit, offset int) ([]domain.Lead, int, error)
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	CreateSteps(ctx context.Context, campaignID string, steps []domain.CampaignStep) error
	GetCampaign(ctx context.Context, userID, campaignID string) (*domain.Campaign, error)
	GetSteps(ctx context.Context, campaignID string) ([]domain.CampaignStep, error)
	ListAccounts(ctx context.Context, userID string) ([]*domain.EmailAccount, error)
}

// Handlers carries the admin endpoint dependencies.
type Handlers struct {
	repo      Repository
	sched     *scheduler.Scheduler
	analytics *analytics.Service
}

func NewHandlers(repo Repository, sched *scheduler.Scheduler, svc *analytics.Service) *Handlers {
	return &Handlers{repo: repo, sched: sched, analytics: svc}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// userID resolves the acting user. Auth middleware is out of scope here;
// callers identify themselves with a header, defaulting to the single
// seeded user.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "default"
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	handle, err := h.sched.StartRun(r.Context(), userID(r), campaignID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, handle)
	case errors.Is(err, scheduler.ErrCampaignNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, scheduler.ErrRunActive):
		respondError(w, http.StatusConflict, "campaign already has an active run")
	case scheduler.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("start campaign failed", "campaign", campaignID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to start campaign")
	}
}

func (h *Handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	err := h.sched.StopRun(r.Context(), userID(r), campaignID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	case errors.Is(err, scheduler.ErrCampaignNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	default:
		logger.Error("stop campaign failed", "campaign", campaignID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to stop campaign")
	}
}

func (h *Handlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	// Ownership check before aggregating.
	if _, err := h.repo.GetCampaign(r.Context(), userID(r), campaignID); err != nil {
		if errors.Is(err, scheduler.ErrCampaignNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		logger.Error("load campaign failed", "campaign", campaignID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}

	summary, err := h.analytics.CampaignSummary(r.Context(), campaignID)
	if err != nil {
		logger.Error("campaign analytics failed", "campaign", campaignID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	c, err := h.repo.GetCampaign(r.Context(), userID(r), campaignID)
	if err != nil {
		if errors.Is(err, scheduler.ErrCampaignNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	steps, err := h.repo.GetSteps(r.Context(), campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load steps")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": c,
		"steps":    steps,
	})
}

type createCampaignRequest struct {
	Name       string                `json:"name"`
	Filters    *domain.LeadFilter    `json:"filters"`
	LeadPackID *string               `json:"leadPackId"`
	Steps      []domain.CampaignStep `json:"steps"`
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &domain.Campaign{
		UserID:     userID(r),
		Name:       req.Name,
		Filters:    req.Filters,
		LeadPackID: req.LeadPackID,
	}
	if err := h.repo.CreateCampaign(r.Context(), c); err != nil {
		logger.Error("create campaign failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	steps := req.Steps
	if len(steps) == 0 {
		steps = []domain.CampaignStep{{
			SubjectTemplate: template.DefaultSubject,
			BodyTemplate:    template.DefaultBody,
			Condition:       domain.ConditionAlways,
		}}
	}
	if err := h.repo.CreateSteps(r.Context(), c.ID, steps); err != nil {
		logger.Error("create campaign steps failed", "campaignId", c.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.repo.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logger.Error("get lead failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	if l == nil || l.UserID != userID(r) {
		respondError(w, http.StatusNotFound, "lead not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	leads, total, err := h.repo.ListLeads(r.Context(), userID(r), limit, offset)
	if err != nil {
		logger.Error("list leads failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"leads": leads,
		"total": total,
	})
}

type createLeadRequest struct {
	Name     string  `json:"name"`
	Email    *string `json:"email"`
	Category string  `json:"category"`
	City     string  `json:"city"`
	Region   string  `json:"region"`
	Country  string  `json:"country"`
	Phone    string  `json:"phone"`
	Website  *string `json:"website"`
	Rating   float64 `json:"rating"`
	Source   string  `json:"source"`
}

func (h *Handlers) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Email != nil && !domain.ValidEmail(*req.Email) {
		respondError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	lead := &domain.Lead{
		UserID:   userID(r),
		Name:     req.Name,
		Email:    req.Email,
		Category: req.Category,
		City:     req.City,
		Region:   req.Region,
		Country:  req.Country,
		Phone:    req.Phone,
		Website:  req.Website,
		Rating:   req.Rating,
		Source:   req.Source,
	}
	if err := h.repo.CreateLead(r.Context(), lead); err != nil {
		logger.Error("create lead failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create lead")
		return
	}
	respondJSON(w, http.StatusCreated, lead)
}

func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListAccounts(r.Context(), userID(r))
	if err != nil {
		logger.Error("list accounts failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*domain.EmailAccount{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}
