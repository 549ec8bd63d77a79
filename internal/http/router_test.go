package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/config"
	"github.com/jw6ventures/calstore/internal/dav"
	"github.com/jw6ventures/calstore/internal/objects"
	"github.com/jw6ventures/calstore/internal/store"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// headerAuth admits requests carrying X-Test-User.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-User") == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := auth.WithUser(r.Context(), &store.User{ID: 9, Username: r.Header.Get("X-Test-User")})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.DAV.MaxBodyBytes = 1 << 10
	cfg.DAV.WriteRate = 1
	cfg.DAV.WriteBurst = 1
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, health error) http.Handler {
	t.Helper()
	// an empty service: only routing and middleware are under test
	svc := objects.NewService(nil, nil, nil, "-//test//EN", nil)
	h, stop := NewRouter(cfg, healthFunc(func(context.Context) error { return health }), headerAuth, dav.NewHandler(cfg, svc, nil))
	t.Cleanup(stop)
	return h
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestProbes(t *testing.T) {
	h := newTestRouter(t, testConfig(), nil)
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(h, "/readyz").Code)

	h = newTestRouter(t, testConfig(), errors.New("db down"))
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/readyz").Code)
}

func TestMetricsEndpointToggle(t *testing.T) {
	h := newTestRouter(t, testConfig(), nil)
	assert.Equal(t, http.StatusNotFound, get(h, "/metrics").Code)

	cfg := testConfig()
	cfg.PrometheusEnabled = true
	h = newTestRouter(t, cfg, nil)
	get(h, "/healthz")
	rr := get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "calstore_http_requests_total")
}

func TestDAVRequiresAuthExceptOptions(t *testing.T) {
	h := newTestRouter(t, testConfig(), nil)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/dav/calendars/1/a.ics").Code)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/dav/calendars/1/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("DAV"), "calendar-access")
}

func TestWritesAreRateLimitedPerPrincipal(t *testing.T) {
	h := newTestRouter(t, testConfig(), nil)

	put := func(user string) int {
		// an empty body fails decoding before the store is reached
		req := httptest.NewRequest(http.MethodPut, "/dav/calendars/1/a.ics", strings.NewReader(""))
		req.Header.Set("X-Test-User", user)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusUnsupportedMediaType, put("jane"))
	assert.Equal(t, http.StatusTooManyRequests, put("jane"))
}
