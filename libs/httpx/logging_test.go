package httpx

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDRejectsMalformedHeader(t *testing.T) {
	h := WithRequestID(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nlevel=ERROR")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if got := rw.Header().Get(RequestIDHeader); len(got) != 32 || !ValidRequestID(got) {
		t.Fatalf("expected a fresh id, got %q", got)
	}
	if ValidRequestID(strings.Repeat("a", 129)) {
		t.Fatal("overlong id accepted")
	}
}

func TestAccessLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	status := http.StatusInternalServerError
	h := WithAccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/appointments", nil))
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "status=500") {
		t.Fatalf("unexpected log %q", buf.String())
	}

	buf.Reset()
	status = http.StatusNotFound
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/appointments", nil))
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Fatalf("unexpected log %q", buf.String())
	}

	buf.Reset()
	status = http.StatusOK
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("probe should not be logged: %q", buf.String())
	}
}

func TestTimeoutWritesJSON(t *testing.T) {
	h := WithTimeout(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable || rw.Body.String() != timeoutBody {
		t.Fatalf("unexpected response %d %q", rw.Code, rw.Body.String())
	}
	if rw.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", rw.Header().Get("Content-Type"))
	}
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	h := WithBodyLimit(4)(okHandler())
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	if rw.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rw.Code)
	}
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
