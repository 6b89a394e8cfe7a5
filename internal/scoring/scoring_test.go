package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/fluency/internal/model"
)

func TestBuildPayload(t *testing.T) {
	p := BuildPayload("Describe your town.", "It is small and quiet.")

	got, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"test_question":"Describe your town.","use_comprehend":"1","use_doc2vec":"1","results":{"transcripts":[{"transcript":"It is small and quiet."}]}}`
	if string(got) != want {
		t.Errorf("payload JSON =\n%s\nwant\n%s", got, want)
	}
}

func TestNewNormalizesBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", DefaultBaseURL, false},
		{"http://scorer:8100/", "http://scorer:8100", false},
		{"https://scorer.example.com/api//", "https://scorer.example.com/api", false},
		{"  http://localhost:9000  ", "http://localhost:9000", false},
		{"localhost:8100", "", true},
		{"ftp://scorer", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := New(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q): %v", tt.in, err)
			}
			if c.BaseURL() != tt.want {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.want)
			}
		})
	}

	c, _ := New("http://scorer:8100/")
	if got := c.URL(model.EndpointML); got != "http://scorer:8100/getMLFreeScore" {
		t.Errorf("URL() = %q", got)
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.ScoreResult
	}{
		{
			"complete",
			`{"OK": 1.5, "GOOD": 2.25, "BAD": 0.0, "verdict": "Pass", "speaker text": "hi", "extra": [1,2]}`,
			model.ScoreResult{OK: 1.5, Good: 2.25, Bad: 0, Verdict: "Pass", SpeakerText: "hi"},
		},
		{
			"missing fields",
			`{"OK": 3, "GOOD": 1}`,
			model.ScoreResult{OK: 3, Good: 1, Bad: 0, Verdict: model.NotAvailable, SpeakerText: model.NotAvailable},
		},
		{
			"numeric strings",
			`{"OK": "0.75", "GOOD": " 2 ", "BAD": "1e-1", "verdict": "Fail", "speaker text": ""}`,
			model.ScoreResult{OK: 0.75, Good: 2, Bad: 0.1, Verdict: "Fail", SpeakerText: ""},
		},
		{
			"non-numeric scores",
			`{"OK": "high", "GOOD": true, "BAD": null, "verdict": null, "speaker text": 42}`,
			model.ScoreResult{OK: 0, Good: 0, Bad: 0, Verdict: model.NotAvailable, SpeakerText: "42"},
		},
		{
			"nan string",
			`{"OK": "NaN", "GOOD": "Inf", "BAD": {"x": 1}}`,
			model.ScoreResult{Verdict: model.NotAvailable, SpeakerText: model.NotAvailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("ParseResult() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseResultFormatErrors(t *testing.T) {
	for _, body := range []string{"not json", "", `{"OK": 1`, `"not json"`, `[1, 2]`, `3.5`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseResult([]byte(body))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FormatError, got %v", err)
			}
			if fe.Snippet != body {
				t.Errorf("Snippet = %q, want %q", fe.Snippet, body)
			}
		})
	}
}

func TestScore(t *testing.T) {
	var gotPath, gotCT string
	var gotBody model.SubmissionPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"OK": 1.5, "GOOD": 2.25, "BAD": 0.0, "verdict": "Pass", "speaker text": "hi"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := BuildPayload("Q?", "answer")
	res, err := c.Score(context.Background(), model.EndpointHybrid, payload)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if gotPath != "/getHybridFreeScore" {
		t.Errorf("path = %q, want /getHybridFreeScore", gotPath)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if !reflect.DeepEqual(gotBody, payload) {
		t.Errorf("backend received %+v, want %+v", gotBody, payload)
	}
	want := model.ScoreResult{OK: 1.5, Good: 2.25, Bad: 0, Verdict: "Pass", SpeakerText: "hi"}
	if *res != want {
		t.Errorf("Score() = %+v, want %+v", *res, want)
	}
}

func TestScoreHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model not loaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Score(context.Background(), model.EndpointFree, BuildPayload("Q", "A"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", te.StatusCode)
	}
	if !strings.Contains(err.Error(), "503 Service Unavailable for url: "+srv.URL+"/getFreeScore") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestScoreConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, _ := New(addr)
	_, err := c.Score(context.Background(), model.EndpointFree, BuildPayload("Q", "A"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", te.StatusCode)
	}
}

func TestScoreInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Score(context.Background(), model.EndpointML, BuildPayload("Q", "A"))

	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Error("format error must not also be a transport error")
	}
}

func TestScoreTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Score(context.Background(), model.EndpointFree, BuildPayload("Q", "A"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
}

func TestWithTimeoutAnyOrder(t *testing.T) {
	const d = 3 * time.Second
	tests := []struct {
		name string
		opts func(hc *http.Client) []Option
	}{
		{"timeout first", func(hc *http.Client) []Option { return []Option{WithTimeout(d), WithHTTPClient(hc)} }},
		{"timeout last", func(hc *http.Client) []Option { return []Option{WithHTTPClient(hc), WithTimeout(d)} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &http.Client{}
			c, err := New("http://scorer.test", tt.opts(hc)...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if c.http.Timeout != d {
				t.Errorf("Timeout = %v, want %v", c.http.Timeout, d)
			}
			if hc.Timeout != 0 {
				t.Error("caller's http.Client was modified")
			}
		})
	}
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", maxSnippet-1) + strings.Repeat("é", 10)

	got := snippet([]byte(body))

	if !utf8.ValidString(got) {
		t.Errorf("snippet is not valid UTF-8: %q", got)
	}
	want := strings.Repeat("a", maxSnippet-1) + "..."
	if got != want {
		t.Errorf("snippet = %q, want %q", got, want)
	}
	if short := snippet([]byte("é!")); short != "é!" {
		t.Errorf("snippet(short) = %q", short)
	}
}
