// Package api serves the engine's output tables over a read-only JSON API.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"querypulse/internal/domain"
	"querypulse/internal/etl"
	"querypulse/internal/middleware"
	"querypulse/internal/score"
)

// Engine is the part of the runner the API reads from.
type Engine interface {
	Health(ctx context.Context) (*etl.HealthReport, error)
	// Scorer derives pattern category and priority with the live settings.
	Scorer() *score.Scorer
}

// Deps are the read-side dependencies of the API.
type Deps struct {
	Patterns  domain.PatternRepository
	Baselines domain.BaselineRepository
	Alerts    domain.AlertRepository
	Runs      domain.RunRepository
	Engine    Engine
}

// Handler implements the read API.
type Handler struct {
	patterns  domain.PatternRepository
	baselines domain.BaselineRepository
	alerts    domain.AlertRepository
	runs      domain.RunRepository
	engine    Engine
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		patterns:  deps.Patterns,
		baselines: deps.Baselines,
		alerts:    deps.Alerts,
		runs:      deps.Runs,
		engine:    deps.Engine,
		logger:    logger,
	}
}

// RouterConfig configures cross-cutting HTTP behaviour.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimit          middleware.RateLimitConfig
}

// NewRouter mounts the API, /healthz and /metrics. ctx bounds background
// work owned by the middleware.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Observe(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		r.Get("/patterns", h.listPatterns)
		r.Get("/patterns/{hash}", h.getPattern)
		r.Get("/baselines", h.listBaselines)
		r.Get("/alerts", h.listAlerts)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, domain.ErrNotFound("no route for %s", r.URL.Path))
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthToAPI(report))
}

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := domain.PatternFilter{
		SeenFrom: q.time("seen_from"),
		Page:     q.page(),
	}
	if v := q.oneOf("structural_category", patternCategories); v != nil {
		c := domain.PatternCategory(*v)
		filter.Structural = &c
	}
	if err := q.err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	patterns, err := h.patterns.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scorer := h.engine.Scorer()
	items := make([]Pattern, 0, len(patterns))
	for i := range patterns {
		scorer.Annotate(&patterns[i])
		items = append(items, patternToAPI(&patterns[i]))
	}
	writeJSON(w, http.StatusOK, List[Pattern]{Items: items, NextPageToken: filter.Page.Next(len(patterns))})
}

func (h *Handler) getPattern(w http.ResponseWriter, r *http.Request) {
	p, err := h.patterns.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.engine.Scorer().Annotate(p)
	writeJSON(w, http.StatusOK, patternToAPI(p))
}

func (h *Handler) listBaselines(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := domain.BaselineFilter{
		PatternHash: q.str("pattern_hash"),
		Workspace:   q.str("workspace"),
		User:        q.str("user"),
		Page:        q.page(),
	}
	if err := q.err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	baselines, err := h.baselines.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]Baseline, 0, len(baselines))
	for i := range baselines {
		items = append(items, baselineToAPI(&baselines[i]))
	}
	writeJSON(w, http.StatusOK, List[Baseline]{Items: items, NextPageToken: filter.Page.Next(len(baselines))})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := domain.AlertFilter{
		Workspace: q.str("workspace"),
		From:      q.time("from"),
		To:        q.time("to"),
		Page:      q.page(),
	}
	if v := q.oneOf("category", alertCategories); v != nil {
		c := domain.AlertCategory(*v)
		filter.Category = &c
	}
	if v := q.str("severity"); v != nil {
		sev, err := domain.ParseSeverity(*v)
		if err != nil {
			q.fail(err)
		}
		filter.Severity = &sev
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		q.fail(domain.ErrValidation("from must be before to"))
	}
	if err := q.err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]Alert, 0, len(alerts))
	for i := range alerts {
		items = append(items, alertToAPI(&alerts[i]))
	}
	writeJSON(w, http.StatusOK, List[Alert]{Items: items, NextPageToken: filter.Page.Next(len(alerts))})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	filter := domain.RunFilter{
		Kind:   q.oneOf("kind", runKinds),
		Status: q.oneOf("status", runStatuses),
		Page:   q.page(),
	}
	if err := q.err(); err != nil {
		h.writeError(w, r, err)
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]Run, 0, len(runs))
	for i := range runs {
		items = append(items, runToAPI(&runs[i]))
	}
	writeJSON(w, http.StatusOK, List[Run]{Items: items, NextPageToken: filter.Page.Next(len(runs))})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runToAPI(run))
}
