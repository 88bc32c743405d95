package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the HTTP router. Tenant routes sit behind the
// organization middleware; health, metrics, and provider webhooks do not.
func SetupRoutes(h *Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Organization-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate by gateway message id, not tenant header
	r.Post("/webhooks/delivery", h.DeliveryWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(tenantMiddleware)

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.SaveWorkflow)
			r.Get("/", h.ListWorkflows)
			r.Get("/{id}", h.GetWorkflow)
			r.Post("/{id}/activate", h.ActivateWorkflow)
			r.Post("/{id}/deactivate", h.DeactivateWorkflow)
			r.Get("/{id}/stats", h.WorkflowStats)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/{id}", h.GetInstance)
			r.Post("/{id}/cancel", h.CancelInstance)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Put("/{id}/status", h.UpdateCampaignStatus)
			r.Get("/{id}/analytics", h.CampaignAnalytics)
		})

		r.Route("/abtests", func(r chi.Router) {
			r.Post("/", h.CreateABTest)
			r.Get("/{id}", h.GetABTest)
			r.Post("/{id}/start", h.StartABTest)
		})

		r.Post("/events", h.IngestEvent)

		r.Route("/segments/{id}", func(r chi.Router) {
			r.Post("/entries", h.NotifySegmentEntry)
			r.Post("/exits", h.NotifySegmentExit)
		})
	})

	return r
}
