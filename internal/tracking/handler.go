package tracking

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// 1x1 transparent PNG, served for every open-tracking request. The literal
// bytes matter: recipients' mail clients render this image inline, so the
// endpoint must return a valid image even when validation fails.
var pixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8/5+hHgAHggJ/PchI7wAAAABJRU5ErkJggg==")

// Recorder persists tracking events and their activity-log entries.
type Recorder interface {
	RecordOpen(ctx context.Context, open *domain.TrackingOpen) error
	RecordClick(ctx context.Context, click *domain.TrackingClick) error
}

// Handler serves the inbound tracking endpoints.
type Handler struct {
	store    *Store
	recorder Recorder
	secret   string
}

// NewHandler creates a tracking HTTP handler.
func NewHandler(store *Store, recorder Recorder, secret string) *Handler {
	return &Handler{store: store, recorder: recorder, secret: secret}
}

// Routes returns the tracking router. Open tracking lives under /api/track
// and click redirects under /r to keep redirect URLs short.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/api/track/open", h.HandleOpen)
	r.Get("/r/{hash}", h.HandleClick)
	r.Get("/unsubscribe", h.HandleUnsubscribe)
	return r
}

// HandleOpen records an email open. Every failure path still serves the
// pixel with HTTP 200: a broken image in the recipient's client is worse
// than a lost data point.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := r.URL.Query().Get("id")
	sig := r.URL.Query().Get("sig")
	if trackingID == "" || sig == "" {
		h.servePixel(w)
		return
	}

	tok, err := h.store.GetToken(r.Context(), trackingID)
	if err != nil {
		h.servePixel(w)
		return
	}

	if !Verify(trackingID, tok.LeadID, sig, h.secret) {
		logger.Warn("open tracking signature rejected", "tracking_id", trackingID)
		h.servePixel(w)
		return
	}

	open := &domain.TrackingOpen{
		LeadID:     tok.LeadID,
		CampaignID: tok.CampaignID,
		IP:         realIP(r),
		UserAgent:  r.UserAgent(),
	}
	if tok.StepID != "" {
		open.StepID = &tok.StepID
	}
	if err := h.recorder.RecordOpen(r.Context(), open); err != nil {
		logger.Error("record open failed", "error", err, "campaign", tok.CampaignID)
	}

	h.servePixel(w)
}

// HandleClick resolves a link hash, records the click, and redirects to the
// original URL. Unknown hashes get a 404 with no redirect.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	tok, err := h.store.GetLink(r.Context(), hash)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	click := &domain.TrackingClick{
		LeadID:     tok.LeadID,
		CampaignID: tok.CampaignID,
		URL:        tok.OriginalURL,
		IP:         realIP(r),
		UserAgent:  r.UserAgent(),
	}
	if tok.StepID != "" {
		click.StepID = &tok.StepID
	}
	if err := h.recorder.RecordClick(r.Context(), click); err != nil {
		logger.Error("record click failed", "error", err, "campaign", tok.CampaignID)
	}

	http.Redirect(w, r, tok.OriginalURL, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe serves the unsubscribe confirmation page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelPNG)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
