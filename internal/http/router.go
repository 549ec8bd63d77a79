package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/config"
	"github.com/jw6ventures/calstore/internal/dav"
	"github.com/jw6ventures/calstore/internal/http/ratelimit"
	"github.com/jw6ventures/calstore/internal/metrics"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter wires the probe, metrics and DAV routes. The returned function
// stops the rate limiters.
func NewRouter(cfg *config.Config, health HealthChecker, requireAuth func(http.Handler) http.Handler, davHandler *dav.Handler) (http.Handler, func()) {
	r := chi.NewRouter()

	// every DAV request: 20 per second, burst of 50, keyed by client IP
	davRateLimiter := ratelimit.New(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)
	// writes: per principal, from configuration
	writeRateLimiter := ratelimit.New(rate.Limit(cfg.DAV.WriteRate), cfg.DAV.WriteBurst, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
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

	r.Route("/dav", func(r chi.Router) {
		r.Use(davRateLimiter.Middleware(nil))

		// OPTIONS must be reachable without authentication for client discovery
		r.MethodFunc(http.MethodOptions, "/*", davHandler.Options)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(writeRateLimiter.Middleware(principalKey, http.MethodPut, http.MethodDelete))
			davHandler.Routes(r)
		})
	})

	return r, func() {
		davRateLimiter.Stop()
		writeRateLimiter.Stop()
	}
}

func principalKey(r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return "", false
	}
	return "user:" + strconv.FormatInt(user.ID, 10), true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
