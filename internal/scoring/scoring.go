// Package scoring talks to the remote fluency scoring service.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/pavelanni/fluency/internal/metrics"
	"github.com/pavelanni/fluency/internal/model"
)

// DefaultBaseURL is used when no backend URL is configured.
const DefaultBaseURL = "http://localhost:8100"

// Both feature flags are always enabled and sent as strings.
const flagEnabled = "1"

// maxSnippet bounds how much of a bad reply is kept in a FormatError.
const maxSnippet = 200

// TransportError covers connection failures and non-2xx replies.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%d %s for url: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	}
	return fmt.Sprintf("post %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FormatError means the backend replied but the body is not a JSON object.
type FormatError struct {
	Snippet string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid JSON response: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// BuildPayload assembles the request body for question and response.
// The caller must pass a non-blank, trimmed response.
func BuildPayload(question, response string) model.SubmissionPayload {
	return model.SubmissionPayload{
		TestQuestion:  question,
		UseComprehend: flagEnabled,
		UseDoc2Vec:    flagEnabled,
		Results: model.TranscriptResults{
			Transcripts: []model.Transcript{{Transcript: response}},
		},
	}
}

// Client posts payloads to the scoring backend.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds each call. Zero leaves the transport default in place.
// It applies to the client given by WithHTTPClient regardless of order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the backend at baseURL (DefaultBaseURL if empty).
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrapf(err, "parse backend URL %q", baseURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("backend URL %q must be an absolute http(s) URL", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c, nil
}

// BaseURL returns the normalized backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL returns the full address of endpoint.
func (c *Client) URL(endpoint model.Endpoint) string {
	return c.baseURL + string(endpoint)
}

// Score sends payload to endpoint and returns the parsed reply.
// Errors are *TransportError or *FormatError.
func (c *Client) Score(ctx context.Context, endpoint model.Endpoint, payload model.SubmissionPayload) (*model.ScoreResult, error) {
	target := c.URL(endpoint)
	start := time.Now()

	result, err := c.post(ctx, target, payload)

	outcome := metrics.OutcomeOK
	var fe *FormatError
	switch {
	case errors.As(err, &fe):
		outcome = metrics.OutcomeFormatError
	case err != nil:
		outcome = metrics.OutcomeTransportError
	}
	elapsed := time.Since(start)
	metrics.ObserveBackendCall(string(endpoint), outcome, elapsed)
	slog.Debug("backend call", "url", target, "outcome", outcome, "elapsed", elapsed)

	return result, err
}

func (c *Client) post(ctx context.Context, target string, payload model.SubmissionPayload) (*model.ScoreResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{URL: target, Err: errors.Wrap(err, "encode payload")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: target, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{URL: target, Err: errors.Wrap(err, "read response")}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &TransportError{
			URL:        target,
			StatusCode: res.StatusCode,
			Err:        errors.Errorf("backend replied %s", res.Status),
		}
	}

	return ParseResult(data)
}

// ParseResult extracts the displayed fields from a backend reply. Missing or
// non-numeric scores become 0 and missing text fields become model.NotAvailable.
func ParseResult(body []byte) (*model.ScoreResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &FormatError{Snippet: snippet(body), Err: errors.New("body is not valid JSON")}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &FormatError{Snippet: snippet(body), Err: errors.Errorf("expected a JSON object, got %s", doc.Type)}
	}

	return &model.ScoreResult{
		OK:          number(doc.Get("OK")),
		Good:        number(doc.Get("GOOD")),
		Bad:         number(doc.Get("BAD")),
		Verdict:     text(doc.Get("verdict")),
		SpeakerText: text(doc.Get("speaker text")),
	}, nil
}

func number(r gjson.Result) float64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		f = v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func text(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return model.NotAvailable
	}
	return r.String()
}

func snippet(body []byte) string {
	if len(body) <= maxSnippet {
		return string(body)
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
