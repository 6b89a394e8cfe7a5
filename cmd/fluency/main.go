package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/fluency/internal/handler"
	appI18n "github.com/pavelanni/fluency/internal/i18n"
	"github.com/pavelanni/fluency/internal/metrics"
	"github.com/pavelanni/fluency/internal/model"
	"github.com/pavelanni/fluency/internal/questions"
	"github.com/pavelanni/fluency/internal/render"
	"github.com/pavelanni/fluency/internal/scoring"
)

//go:generate templ generate

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fluency",
		Short: "Web front-end for the fluency scoring service",
	}

	serve := serveCmd()
	root.AddCommand(serve, questionsCmd(), scoreCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `fluency --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP front-end",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8501", "HTTP listen address")
	addQuestionFlags(cmd)
	addBackendFlags(cmd)
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /fluency)")
	f.Bool("secure-cookies", true, "Set Secure flag on the CSRF cookie (disable for plain-HTTP deployments other than localhost, or every submit is rejected)")
	f.Bool("trust-proxy", false, "Take client addresses from X-Forwarded-For/X-Real-IP (only behind a trusted reverse proxy)")
	f.Int("rate-limit", 30, "Submissions per minute per client (0 = unlimited)")
	f.Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	addLogFlags(cmd)
	return cmd
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Print the sample questions offered on the scoring page",
		RunE:  runQuestions,
	}
	addQuestionFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one response from the command line",
		Long: "Score one response from the command line. The response is read from\n" +
			"--response, or from standard input when the flag is not given.",
		RunE: runScore,
	}
	f := cmd.Flags()
	addQuestionFlags(cmd)
	addBackendFlags(cmd)
	f.String("question", "", "Question text (must be one of the sample questions)")
	f.IntP("question-index", "i", 1, "1-based position of the sample question, used when --question is empty")
	f.StringP("response", "r", "", "Response text (default: read stdin)")
	f.StringP("endpoint", "e", string(model.EndpointFree), "Scoring endpoint (/getFreeScore, /getMLFreeScore, /getHybridFreeScore)")
	addLogFlags(cmd)
	return cmd
}

func addQuestionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("references", "references.csv", "Reference file with the TestQuestion column")
	f.Bool("strict-questions", false, "Fail instead of using the built-in questions when the reference file is unusable")
}

func addBackendFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-url", scoring.DefaultBaseURL, "Scoring service base URL (or set BACKEND_URL)")
	f.Duration("backend-timeout", 0, "Timeout for one scoring call (0 = no timeout)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("FLUENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Deployments of the previous front-end set the unprefixed variable.
	_ = v.BindEnv("backend-url", "FLUENCY_BACKEND_URL", "BACKEND_URL")

	v.SetConfigName("fluency")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/fluency")
	v.AddConfigPath("/etc/fluency")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func configFromViper(v *viper.Viper) model.Config {
	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return model.Config{
		BackendURL:      v.GetString("backend-url"),
		BackendTimeout:  v.GetDuration("backend-timeout"),
		ReferencesPath:  v.GetString("references"),
		StrictQuestions: v.GetBool("strict-questions"),
		BasePath:        basePath,
		SecureCookies:   v.GetBool("secure-cookies"),
		TrustProxy:      v.GetBool("trust-proxy"),
		RateLimit:       v.GetInt("rate-limit"),
		Metrics:         v.GetBool("metrics"),
	}
}

func newScoringClient(cfg model.Config) (*scoring.Client, error) {
	var opts []scoring.Option
	if cfg.BackendTimeout > 0 {
		opts = append(opts, scoring.WithTimeout(cfg.BackendTimeout))
	}
	client, err := scoring.New(cfg.BackendURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create scoring client: %w", err)
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFromViper(v)

	catalog, err := questions.NewCatalog(cfg.ReferencesPath, cfg.StrictQuestions)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	client, err := newScoringClient(cfg)
	if err != nil {
		return err
	}

	h, err := handler.New(catalog, client, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	var reg *prometheus.Registry
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if catalog.LoadErr() != nil {
			metrics.QuestionsFallback.Set(1)
		}
	}
	r := newRouter(h, cfg, reg)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"backend_url", client.BaseURL(),
		"backend_timeout", cfg.BackendTimeout,
		"references", cfg.ReferencesPath,
		"questions", len(catalog.Questions()),
		"fallback_questions", catalog.LoadErr() != nil,
		"lang", lang,
		"base_path", cfg.BasePath,
		"trust_proxy", cfg.TrustProxy,
		"rate_limit", cfg.RateLimit,
		"metrics", cfg.Metrics,
	)
	return http.ListenAndServe(addr, r)
}

// newRouter wires the middleware stack and routes. reg is nil when metrics
// are disabled.
func newRouter(h *handler.Handler, cfg model.Config, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// RealIP rewrites RemoteAddr from client-supplied headers, which the
	// rate limiter keys on; only honour them behind a trusted proxy.
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if reg != nil {
		r.Use(metrics.Middleware)
	}
	r.Use(appI18n.Middleware)

	basePath := cfg.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	}
	return r
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	cfg := configFromViper(viperForCmd(cmd))

	catalog, err := questions.NewCatalog(cfg.ReferencesPath, cfg.StrictQuestions)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	if err := catalog.LoadErr(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; showing built-in questions\n", err)
	}
	for i, q := range catalog.Questions() {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, q)
	}
	return nil
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFromViper(v)

	catalog, err := questions.NewCatalog(cfg.ReferencesPath, cfg.StrictQuestions)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	question := v.GetString("question")
	if question == "" {
		var ok bool
		question, ok = catalog.At(v.GetInt("question-index"))
		if !ok {
			return fmt.Errorf("question index %d out of range 1..%d", v.GetInt("question-index"), len(catalog.Questions()))
		}
	} else if !catalog.Contains(question) {
		return fmt.Errorf("question %q is not one of the sample questions", question)
	}

	endpoint, ok := model.ParseEndpoint(v.GetString("endpoint"))
	if !ok {
		return fmt.Errorf("unknown endpoint %q", v.GetString("endpoint"))
	}

	response := v.GetString("response")
	if !cmd.Flags().Changed("response") && response == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read response from stdin: %w", err)
		}
		response = string(data)
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return fmt.Errorf("response is empty")
	}

	client, err := newScoringClient(cfg)
	if err != nil {
		return err
	}
	result, err := client.Score(context.Background(), endpoint, scoring.BuildPayload(question, response))
	if err != nil {
		return err
	}
	return render.Text(cmd.OutOrStdout(), *result)
}
