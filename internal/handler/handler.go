package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/fluency/internal/handler/views"
	"github.com/pavelanni/fluency/internal/model"
	"github.com/pavelanni/fluency/internal/questions"
	"github.com/pavelanni/fluency/internal/ratelimit"
	"github.com/pavelanni/fluency/internal/scoring"
)

// Scorer sends one submission to the scoring backend.
type Scorer interface {
	Score(ctx context.Context, endpoint model.Endpoint, payload model.SubmissionPayload) (*model.ScoreResult, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	catalog *questions.Catalog
	scorer  Scorer
	config  model.Config
	limiter *ratelimit.Limiter
}

// New creates a new Handler.
func New(c *questions.Catalog, s Scorer, cfg model.Config) (*Handler, error) {
	if c == nil {
		return nil, errors.New("question catalog is required")
	}
	if s == nil {
		return nil, errors.New("scorer is required")
	}
	h := &Handler{catalog: c, scorer: s, config: cfg}
	if cfg.RateLimit > 0 {
		h.limiter = ratelimit.New(cfg.RateLimit)
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		if h.limiter != nil {
			r.With(h.limiter.Middleware(http.HandlerFunc(h.handleRateLimited))).Post("/score", h.handleScore)
		} else {
			r.Post("/score", h.handleScore)
		}
	})
}

// BasePathMiddleware makes the configured base path available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidationError rejects a submission before anything is sent to the backend.
type ValidationError struct {
	Field     string
	MessageID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s", e.Field)
}

// Submission is the raw form input of one scoring request.
type Submission struct {
	Question string
	Response string
	Endpoint string
}

// initialState is the page as first shown: first question and endpoint
// preselected, plus a banner when the reference file could not be used.
func (h *Handler) initialState() model.PageState {
	s := model.PageState{
		Phase:     model.PhaseIdle,
		Questions: h.catalog.Questions(),
		Endpoint:  model.Endpoints[0],
	}
	if len(s.Questions) > 0 {
		s.Question = s.Questions[0]
	}
	if err := h.catalog.LoadErr(); err != nil {
		detail := err.Error()
		var le *questions.LoadError
		if errors.As(err, &le) {
			detail = le.Err.Error()
		}
		s.LoadAlert = &model.Alert{
			Level:     model.AlertWarning,
			MessageID: "ReferencesLoadError",
			Data:      map[string]any{"Path": h.catalog.Source()},
			Detail:    detail,
		}
	}
	return s
}

// validate checks a submission and returns the endpoint and trimmed response.
func (h *Handler) validate(sub Submission) (model.Endpoint, string, *ValidationError) {
	response := strings.TrimSpace(sub.Response)
	if response == "" {
		return "", "", &ValidationError{Field: "response", MessageID: "EmptyResponse"}
	}
	if !h.catalog.Contains(sub.Question) {
		return "", "", &ValidationError{Field: "question", MessageID: "UnknownQuestion"}
	}
	endpoint, ok := model.ParseEndpoint(sub.Endpoint)
	if !ok {
		return "", "", &ValidationError{Field: "endpoint", MessageID: "UnknownEndpoint"}
	}
	return endpoint, response, nil
}

// Submit runs one submission through validation, the backend call and
// result classification, and returns the state to render.
func (h *Handler) Submit(ctx context.Context, sub Submission) model.PageState {
	s := h.initialState()
	s.Question = sub.Question
	s.Response = sub.Response
	s.Endpoint = model.Endpoint(sub.Endpoint)

	endpoint, response, verr := h.validate(sub)
	if verr != nil {
		slog.Info("submission rejected", "field", verr.Field)
		s.Phase = model.PhaseAwaitingInput
		s.Alert = &model.Alert{Level: model.AlertWarning, MessageID: verr.MessageID}
		return s
	}

	result, err := h.scorer.Score(ctx, endpoint, scoring.BuildPayload(sub.Question, response))
	if err != nil {
		var fe *scoring.FormatError
		if errors.As(err, &fe) {
			slog.Error("scoring failed", "endpoint", endpoint, "error", err, "body", fe.Snippet)
		} else {
			slog.Error("scoring failed", "endpoint", endpoint, "error", err)
		}
		s.Phase = model.PhaseShowingError
		s.Alert = scoreAlert(err)
		return s
	}

	s.Phase = model.PhaseShowingResult
	s.Result = result
	return s
}

func scoreAlert(err error) *model.Alert {
	var fe *scoring.FormatError
	if errors.As(err, &fe) {
		return &model.Alert{Level: model.AlertError, MessageID: "InvalidResponse"}
	}
	return &model.Alert{Level: model.AlertError, MessageID: "BackendError", Detail: err.Error()}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, views.IndexPage(h.initialState()))
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	s := h.Submit(r.Context(), Submission{
		Question: r.FormValue("question"),
		Response: r.FormValue("response"),
		Endpoint: r.FormValue("endpoint"),
	})
	h.respond(w, r, http.StatusOK, s)
}

func (h *Handler) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	slog.Warn("submission rate limited", "client", ratelimit.ClientKey(r))
	s := h.initialState()
	s.Phase = model.PhaseAwaitingInput
	s.Alert = &model.Alert{Level: model.AlertWarning, MessageID: "RateLimited"}
	h.respond(w, r, http.StatusTooManyRequests, s)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// respond renders s as a fragment for htmx requests and as the full page
// otherwise. htmx does not swap error responses, so fragments are always 200.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, s model.PageState) {
	if isHTMX(r) {
		h.render(w, r, http.StatusOK, views.ResultPanel(s))
		return
	}
	h.render(w, r, status, views.IndexPage(s))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
