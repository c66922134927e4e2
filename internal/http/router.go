package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/timetable/internal/auth"
	"github.com/jw6ventures/timetable/internal/config"
	"github.com/jw6ventures/timetable/internal/http/ratelimit"
	"github.com/jw6ventures/timetable/internal/metrics"
	"github.com/jw6ventures/timetable/internal/store"
)

// RequesterKey buckets authenticated callers by user and leaves the rest to
// the limiter's address fallback.
func RequesterKey(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(user.ID, 10)
	}
	return ""
}

// NewRouter wires the health, metrics and timetable API routes.
func NewRouter(cfg *config.Config, store *store.Store, authService *auth.Service, ranges RangeService, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	timetableHandler := NewTimetableHandler(ranges, cfg.Location)
	r.Route("/api", func(r chi.Router) {
		r.Use(authService.RequireBearer)
		r.Use(limiter.Middleware())
		r.Get("/timetable", timetableHandler.GetRange)
	})

	return r
}
