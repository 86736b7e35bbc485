/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front desk UI

ROUTE GROUPS:
  /api/room-types/*     Room type capacity
  /api/reservations/*   Reservation lifecycle
  /api/inventory/*      Buckets, rate codes, dashboard, population
  /api/jobs/*           Background jobs
  /api/audit/*          Business date and night audit
  /api/events           Progress stream (SSE)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
// An empty allowedOrigins allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/room-types", func(r chi.Router) {
			r.Get("/", h.ListRoomTypes)
			r.Post("/", h.CreateRoomType)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/submit", h.SubmitReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/check-in", h.CheckIn)
			r.Post("/{id}/inventory", h.ApplyInventory)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListInventory)
			r.Get("/dashboard", h.Dashboard)
			r.Get("/rates", h.ListRates)
			r.Post("/rates", h.SeedRates)
			r.Post("/populate", h.Populate)
		})

		r.Get("/jobs/{id}", h.GetJob)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/business-date", h.GetBusinessDate)
			r.Put("/business-date", h.SetBusinessDate)
			r.Get("/candidates", h.AuditCandidates)
			r.Post("/run", h.RunAudit)
			r.Get("/runs", h.ListAuditRuns)
		})

		r.Get("/events", h.Events)
	})

	return r
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("request")
		})
	}
}
