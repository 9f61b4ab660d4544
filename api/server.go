/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to
  handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

SECURITY NOTE:
  No authentication middleware currently. The server is meant to bind
  to localhost and serve the on-device dashboard and bridge only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// App routes
		r.Route("/apps", func(r chi.Router) {
			r.Get("/", h.ListApps)
			r.Post("/", h.UpsertApp)
			r.Get("/{id}", h.GetApp)
			r.Delete("/{id}", h.RemoveApp)
			r.Post("/{id}/redeem", h.Redeem)
			r.Post("/{id}/relock", h.Relock)
		})

		// Monitoring bridge routes
		r.Post("/events", h.PostEvent)
		r.Post("/monitoring/restarted", h.MonitoringRestarted)
		r.Post("/day-changed", h.DayChanged)

		// Ledger routes
		r.Get("/balance", h.GetBalance)
		r.Get("/unlocked", h.ListUnlocked)
		r.Get("/restricted", h.GetRestricted)
		r.Get("/report", h.GetReport)

		// Sync routes
		r.Route("/sync", func(r chi.Router) {
			r.Get("/snapshot", h.GetSnapshot)
			r.Post("/config", h.ApplyRemoteConfig)
		})
	})

	return r
}
