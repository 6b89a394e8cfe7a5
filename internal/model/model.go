package model

import (
	"context"
	"time"
)

// Endpoint is one of the scoring routes exposed by the backend.
type Endpoint string

const (
	// EndpointFree scores by corpus similarity (statistical).
	EndpointFree Endpoint = "/getFreeScore"
	// EndpointML scores with the machine-learning classifiers.
	EndpointML Endpoint = "/getMLFreeScore"
	// EndpointHybrid combines both approaches.
	EndpointHybrid Endpoint = "/getHybridFreeScore"
)

// Endpoints lists the selectable endpoints in display order.
var Endpoints = []Endpoint{EndpointFree, EndpointML, EndpointHybrid}

// ParseEndpoint returns the endpoint matching s, or false if s is not one of Endpoints.
func ParseEndpoint(s string) (Endpoint, bool) {
	for _, e := range Endpoints {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

// Transcript is a single free-text response.
type Transcript struct {
	Transcript string `json:"transcript"`
}

// TranscriptResults wraps the transcripts the way the backend expects them.
type TranscriptResults struct {
	Transcripts []Transcript `json:"transcripts"`
}

// SubmissionPayload is the JSON body posted to a scoring endpoint.
type SubmissionPayload struct {
	TestQuestion  string            `json:"test_question"`
	UseComprehend string            `json:"use_comprehend"`
	UseDoc2Vec    string            `json:"use_doc2vec"`
	Results       TranscriptResults `json:"results"`
}

// NotAvailable is shown in place of a text field the backend did not return.
const NotAvailable = "N/A"

// ScoreResult holds the fields of a backend reply that the UI displays.
type ScoreResult struct {
	OK          float64
	Good        float64
	Bad         float64
	Verdict     string
	SpeakerText string
}

// Phase is the controller state of one page render. PhaseSubmitting only
// exists in the browser, shown by the htmx request indicator while the
// server waits on the backend; the server never renders it.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseSubmitting    Phase = "submitting"
	PhaseShowingResult Phase = "showing_result"
	PhaseShowingError  Phase = "showing_error"
)

// AlertLevel selects the banner style.
type AlertLevel string

const (
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert is a banner message. MessageID is a translation key rendered with
// Data; Detail is appended verbatim when set.
type Alert struct {
	Level     AlertLevel
	MessageID string
	Data      map[string]any
	Detail    string
}

// PageState is everything a render of the scoring page needs.
type PageState struct {
	Phase     Phase
	Questions []string
	Question  string
	Response  string
	Endpoint  Endpoint
	Result    *ScoreResult
	Alert     *Alert
	// LoadAlert reports a reference-file problem; it is independent of Alert.
	LoadAlert *Alert
}

// Config holds runtime parameters set via CLI flags, environment or config file.
type Config struct {
	BackendURL      string
	BackendTimeout  time.Duration // 0 keeps the transport default
	ReferencesPath  string
	StrictQuestions bool
	BasePath        string // URL prefix for sub-path deployments (e.g. "/fluency")
	SecureCookies   bool
	TrustProxy      bool // honour X-Forwarded-For/X-Real-IP
	RateLimit       int // submissions per minute per client, 0 disables
	Metrics         bool
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
