package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pavelanni/fluency/internal/handler"
	appI18n "github.com/pavelanni/fluency/internal/i18n"
	"github.com/pavelanni/fluency/internal/metrics"
	"github.com/pavelanni/fluency/internal/model"
	"github.com/pavelanni/fluency/internal/questions"
)

func writeReferences(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "references.csv")
	data := "TestQuestion__Level\nFirst question?__B1\nSecond question?__B2\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write references: %v", err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQuestionsCommand(t *testing.T) {
	out, err := execute(t, "", "questions", "--references", writeReferences(t), "--log-level", "error")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	want := "1. First question?\n2. Second question?\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestQuestionsCommandFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.csv")

	out, err := execute(t, "", "questions", "--references", missing, "--log-level", "error")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if !strings.Contains(out, "warning: ") || !strings.Contains(out, "2. Write an email to a friend") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := execute(t, "", "questions", "--references", missing, "--strict-questions", "--log-level", "error"); err == nil {
		t.Error("strict mode should fail on a missing file")
	}
}

func TestScoreCommand(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"OK": 1.5, "GOOD": 2.25, "verdict": "Pass", "speaker text": "hi"}`))
	}))
	defer srv.Close()
	refs := writeReferences(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"flag", "", []string{"--response", "hi"}},
		{"stdin", "  hi\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"score",
				"--references", refs,
				"--backend-url", srv.URL + "/",
				"--question-index", "2",
				"--endpoint", "/getHybridFreeScore",
				"--log-level", "error",
			}, tt.args...)
			out, err := execute(t, tt.stdin, args...)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			want := "OK=1.50  GOOD=2.25  BAD=0.00\nVerdict: Pass\nSpeaker Text: hi\n"
			if out != want {
				t.Errorf("output = %q, want %q", out, want)
			}
			if gotPath != "/getHybridFreeScore" {
				t.Errorf("path = %q", gotPath)
			}
		})
	}
}

func TestScoreCommandRejects(t *testing.T) {
	refs := writeReferences(t)
	tests := []struct {
		name string
		args []string
	}{
		{"blank response", []string{"--response", "   "}},
		{"unknown question", []string{"--question", "Other?", "--response", "hi"}},
		{"index out of range", []string{"--question-index", "3", "--response", "hi"}},
		{"unknown endpoint", []string{"--endpoint", "/nope", "--response", "hi"}},
		{"bad backend url", []string{"--backend-url", "localhost:8100", "--response", "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"score", "--references", refs, "--log-level", "error"}, tt.args...)
			if _, err := execute(t, "", args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// countingBackend answers every scoring call with body and counts the calls.
func countingBackend(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestScoreCommandBackendURLFromEnv(t *testing.T) {
	const body = `{"OK": 1, "GOOD": 2, "BAD": 3, "verdict": "Fine", "speaker text": "hi"}`
	refs := writeReferences(t)

	t.Run("legacy variable", func(t *testing.T) {
		srv, calls := countingBackend(t, body)
		t.Setenv("FLUENCY_BACKEND_URL", "")
		t.Setenv("BACKEND_URL", srv.URL)

		if _, err := execute(t, "", "score", "--references", refs, "--response", "hi", "--log-level", "error"); err != nil {
			t.Fatalf("score: %v", err)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("backend calls = %d, want 1", n)
		}
	})

	t.Run("prefixed variable wins", func(t *testing.T) {
		legacy, legacyCalls := countingBackend(t, body)
		prefixed, prefixedCalls := countingBackend(t, body)
		t.Setenv("BACKEND_URL", legacy.URL)
		t.Setenv("FLUENCY_BACKEND_URL", prefixed.URL)

		if _, err := execute(t, "", "score", "--references", refs, "--response", "hi", "--log-level", "error"); err != nil {
			t.Fatalf("score: %v", err)
		}
		if prefixedCalls.Load() != 1 || legacyCalls.Load() != 0 {
			t.Errorf("calls: FLUENCY_BACKEND_URL=%d BACKEND_URL=%d, want 1 and 0",
				prefixedCalls.Load(), legacyCalls.Load())
		}
	})

	t.Run("flag wins", func(t *testing.T) {
		env, envCalls := countingBackend(t, body)
		flag, flagCalls := countingBackend(t, body)
		t.Setenv("BACKEND_URL", env.URL)

		if _, err := execute(t, "", "score", "--references", refs, "--response", "hi",
			"--backend-url", flag.URL, "--log-level", "error"); err != nil {
			t.Fatalf("score: %v", err)
		}
		if flagCalls.Load() != 1 || envCalls.Load() != 0 {
			t.Errorf("calls: flag=%d env=%d, want 1 and 0", flagCalls.Load(), envCalls.Load())
		}
	})
}

// submitAll loads the page once, then posts n submissions from one peer,
// each with a different forwarded-for address. It returns the status codes.
func submitAll(t *testing.T, router http.Handler, n int) []int {
	t.Helper()
	const peer = "198.51.100.7:50000"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = peer
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no csrf cookie issued")
	}

	codes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		form := url.Values{
			"question":   {"First question?"},
			"response":   {"hi"},
			"endpoint":   {string(model.EndpointFree)},
			"csrf_token": {cookie.Value},
		}
		req := httptest.NewRequest(http.MethodPost, "/score", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		req.RemoteAddr = peer
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	return codes
}

func TestRouterRateLimitIgnoresForwardedFor(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	refs := writeReferences(t)

	tests := []struct {
		name       string
		trustProxy bool
		wantCalls  int32
	}{
		{"untrusted headers", false, 1},
		{"trusted proxy", true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := countingBackend(t, `{"OK": 1}`)
			cfg := model.Config{
				BackendURL:     srv.URL,
				ReferencesPath: refs,
				RateLimit:      1,
				TrustProxy:     tt.trustProxy,
				Metrics:        true,
			}
			catalog, err := questions.NewCatalog(refs, true)
			if err != nil {
				t.Fatalf("NewCatalog: %v", err)
			}
			client, err := newScoringClient(cfg)
			if err != nil {
				t.Fatalf("newScoringClient: %v", err)
			}
			h, err := handler.New(catalog, client, cfg)
			if err != nil {
				t.Fatalf("handler.New: %v", err)
			}
			reg := prometheus.NewRegistry()
			if err := metrics.Register(reg); err != nil {
				t.Fatalf("register metrics: %v", err)
			}

			codes := submitAll(t, newRouter(h, cfg, reg), 5)

			if n := calls.Load(); n != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d (codes %v)", n, tt.wantCalls, codes)
			}
			if !tt.trustProxy {
				for i, code := range codes[1:] {
					if code != http.StatusTooManyRequests {
						t.Errorf("submission %d status = %d, want 429", i+2, code)
					}
				}
			}
		})
	}
}
