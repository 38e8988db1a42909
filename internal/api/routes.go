package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach/internal/tracking"
)

// SetupRoutes assembles the full HTTP surface: admin API, tracking
// endpoints and health check. The tracking handler mounts at the root so
// pixel and redirect URLs stay short.
func SetupRoutes(h *Handlers, th *tracking.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Tracking endpoints are unauthenticated: they are hit from email
	// clients. The signature on the pixel URL is their access control.
	if th != nil {
		r.Get("/r/{hash}", th.HandleClick)
		r.Get("/unsubscribe", th.HandleUnsubscribe)
	}

	r.Route("/api", func(r chi.Router) {
		if th != nil {
			r.Get("/track/open", th.HandleOpen)
		}
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Post("/{id}/start", h.StartCampaign)
			r.Post("/{id}/stop", h.StopCampaign)
			r.Get("/{id}/analytics", h.CampaignAnalytics)
		})
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", h.CreateLead)
			r.Get("/{id}", h.GetLead)
		})
		r.Get("/accounts", h.ListAccounts)
	})

	return r
}

// Server wraps the assembled router for the server binary.
type Server struct {
	handler http.Handler
}

func NewServer(h *Handlers, th *tracking.Handler) *Server {
	return &Server{handler: SetupRoutes(h, th)}
}

func (s *Server) Handler() http.Handler { return s.handler }
