package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const userHeader = "X-User-ID"

// callerID returns the authenticated caller. RequireUser guarantees it is
// non-empty on every route behind it.
func callerID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// RequireUser rejects requests without a caller identity. Validating the
// identity itself is the upstream auth proxy's job.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(userHeader) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing ` + userHeader + ` header"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires all routes with the standard middleware stack.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", userHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireUser)

		r.Route("/extractions", func(r chi.Router) {
			r.Post("/", h.CreateExtraction)
			r.Get("/", h.ListExtractions)
			r.Route("/{extractionID}", func(r chi.Router) {
				r.Get("/", h.GetExtraction)
				r.Put("/", h.UpdateExtraction)
				r.Delete("/", h.DeleteExtraction)
				r.Post("/schedule", h.ScheduleExtraction)
				r.Delete("/schedule", h.UnscheduleExtraction)
			})
		})

		r.Get("/run", h.RunNow)
		r.Get("/credits", h.GetCredits)
	})

	return r
}
