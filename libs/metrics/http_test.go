package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/doctors/12/":                               "/api/doctors/{id}/",
		"/api/admin/doctors/7/schedule/":                 "/api/admin/doctors/{id}/schedule/",
		"/api/available-slots/":                          "/api/available-slots/",
		"/x/6f1c2a9e-3b4d-4c5e-8f7a-1b2c3d4e5f60/detail": "/x/{id}/detail",
	}
	for in, want := range cases {
		if got := RouteLabel(in); got != want {
			t.Fatalf("RouteLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPMetricsMiddlewareCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg, "booking-service")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/book-appointment/", nil))

	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/book-appointment/", http.MethodPost, "201"))
	if got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestHTTPMetricsNilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Observe("/", http.MethodGet, 200, 0)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", rw.Code)
	}
}
