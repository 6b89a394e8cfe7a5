package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err == nil {
		t.Error("second Register on the same registry should fail")
	}
}

func TestMiddlewareCountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(RequestCounter.WithLabelValues(http.MethodGet, "/items/{id}", "418"))
	for _, p := range []string{"/items/1", "/items/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

	if got := testutil.ToFloat64(RequestCounter.WithLabelValues(http.MethodGet, "/items/{id}", "418")) - before; got != 2 {
		t.Errorf("items counter grew by %v, want 2", got)
	}
	if got := testutil.ToFloat64(RequestCounter.WithLabelValues(http.MethodGet, "/plain", "200")); got < 1 {
		t.Errorf("plain counter = %v, want implicit 200 counted", got)
	}
}

func TestObserveBackendCall(t *testing.T) {
	before := testutil.ToFloat64(BackendCalls.WithLabelValues("/getFreeScore", OutcomeFormatError))
	ObserveBackendCall("/getFreeScore", OutcomeFormatError, 120*time.Millisecond)
	after := testutil.ToFloat64(BackendCalls.WithLabelValues("/getFreeScore", OutcomeFormatError))
	if after-before != 1 {
		t.Errorf("backend counter grew by %v, want 1", after-before)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	QuestionsFallback.Set(1)
	t.Cleanup(func() { QuestionsFallback.Set(0) })

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fluency_questions_fallback 1") {
		t.Errorf("gauge not exposed:\n%s", rec.Body.String())
	}
}
