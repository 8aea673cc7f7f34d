package api

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"querypulse/internal/domain"
	"querypulse/internal/etl"
)

var (
	patternCategories = []string{
		string(domain.CategoryUnboundedSort), string(domain.CategorySelectAll),
		string(domain.CategoryCartesianJoin), string(domain.CategoryUnpartitionedFilter),
		string(domain.CategoryRedundantDistinct), string(domain.CategoryUnionOptimization),
		string(domain.CategoryHighComplexity), string(domain.CategoryStandard),
	}
	alertCategories = []string{
		string(domain.AlertSlowQuery), string(domain.AlertExpensiveQuery),
		string(domain.AlertFailedQuery), string(domain.AlertPerformanceAnomaly),
		string(domain.AlertLargeScan), string(domain.AlertResourceUnderutilized),
	}
	runKinds    = []string{domain.RunKindRecordPass, domain.RunKindBaseline, domain.RunKindRetention}
	runStatuses = []string{domain.RunStatusStarted, domain.RunStatusCompleted, domain.RunStatusFailed}
)

// query reads optional query parameters and collects every invalid one, so
// a bad request reports all of its problems.
type query struct {
	values url.Values
	errs   error
}

func newQuery(r *http.Request) *query {
	return &query{values: r.URL.Query()}
}

func (q *query) fail(err error) { q.errs = multierr.Append(q.errs, err) }

// err returns a single ValidationError naming every invalid parameter.
func (q *query) err() error {
	if q.errs == nil {
		return nil
	}
	msgs := make([]string, 0, len(multierr.Errors(q.errs)))
	for _, e := range multierr.Errors(q.errs) {
		msgs = append(msgs, e.Error())
	}
	return domain.ErrValidation("%s", strings.Join(msgs, "; "))
}

func (q *query) str(name string) *string {
	v := strings.TrimSpace(q.values.Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// oneOf is str restricted to allowed values, compared case-insensitively.
func (q *query) oneOf(name string, allowed []string) *string {
	v := q.str(name)
	if v == nil {
		return nil
	}
	upper := strings.ToUpper(*v)
	if !slices.Contains(allowed, upper) {
		q.fail(domain.ErrValidation("%s must be one of %s", name, strings.Join(allowed, ", ")))
		return nil
	}
	return &upper
}

// time accepts RFC 3339 timestamps or unix seconds.
func (q *query) time(name string) *time.Time {
	v := q.str(name)
	if v == nil {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *v); err == nil {
		t = t.UTC()
		return &t
	}
	if secs, err := strconv.ParseInt(*v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	q.fail(domain.ErrValidation("%s must be an RFC 3339 timestamp or unix seconds", name))
	return nil
}

func (q *query) page() domain.Page {
	p := domain.Page{}
	if v := q.str("page_token"); v != nil {
		p.Token = *v
	}
	if v := q.str("max_results"); v != nil {
		n, err := strconv.Atoi(*v)
		if err != nil || n < 1 {
			q.fail(domain.ErrValidation("max_results must be a positive integer"))
		} else {
			p.Size = n
		}
	}
	return p
}

// List is a page of results.
type List[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// Pattern is the JSON form of a query pattern with derived fields.
type Pattern struct {
	PatternHash        string    `json:"pattern_hash"`
	Template           string    `json:"template"`
	StructuralCategory string    `json:"structural_category"`
	Category           string    `json:"category"`
	PriorityTier       string    `json:"priority_tier"`
	OccurrenceCount    int64     `json:"occurrence_count"`
	MeasuredCount      int64     `json:"measured_count"`
	AvgDurationMs      float64   `json:"avg_duration_ms"`
	AvgCost            float64   `json:"avg_cost"`
	AvgBytesRead       float64   `json:"avg_bytes_read"`
	AvgBytesReadHuman  string    `json:"avg_bytes_read_human"`
	AvgComplexity      float64   `json:"avg_complexity"`
	AvgOptimization    float64   `json:"avg_optimization"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
}

func patternToAPI(p *domain.QueryPattern) Pattern {
	return Pattern{
		PatternHash:        p.PatternHash,
		Template:           p.Template,
		StructuralCategory: string(p.StructuralCategory),
		Category:           string(p.Category),
		PriorityTier:       p.PriorityTier,
		OccurrenceCount:    p.OccurrenceCount,
		MeasuredCount:      p.MeasuredCount,
		AvgDurationMs:      p.AvgDurationMs(),
		AvgCost:            p.AvgCost(),
		AvgBytesRead:       p.AvgBytesRead(),
		AvgBytesReadHuman:  humanize.IBytes(uint64(p.AvgBytesRead())),
		AvgComplexity:      p.AvgComplexity(),
		AvgOptimization:    p.AvgOptimization(),
		FirstSeen:          p.FirstSeen,
		LastSeen:           p.LastSeen,
	}
}

// Baseline is the JSON form of a performance baseline.
type Baseline struct {
	ID                  string    `json:"id"`
	PatternHash         string    `json:"pattern_hash"`
	Workspace           string    `json:"workspace"`
	User                string    `json:"user"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	AvgDurationMs       float64   `json:"avg_duration_ms"`
	P95DurationMs       float64   `json:"p95_duration_ms"`
	AvgCost             float64   `json:"avg_cost"`
	P95Cost             float64   `json:"p95_cost"`
	SuccessRate         float64   `json:"success_rate"`
	SampleCount         int64     `json:"sample_count"`
	ThresholdDurationMs float64   `json:"threshold_duration_ms"`
	ThresholdCost       float64   `json:"threshold_cost"`
	ComputedAt          time.Time `json:"computed_at"`
}

func baselineToAPI(b *domain.PerformanceBaseline) Baseline {
	return Baseline{
		ID:                  b.ID,
		PatternHash:         b.PatternHash,
		Workspace:           b.Workspace,
		User:                b.User,
		WindowStart:         b.WindowStart,
		WindowEnd:           b.WindowEnd,
		AvgDurationMs:       b.AvgDurationMs,
		P95DurationMs:       b.P95DurationMs,
		AvgCost:             b.AvgCost,
		P95Cost:             b.P95Cost,
		SuccessRate:         b.SuccessRate,
		SampleCount:         b.SampleCount,
		ThresholdDurationMs: b.ThresholdDurationMs,
		ThresholdCost:       b.ThresholdCost,
		ComputedAt:          b.ComputedAt,
	}
}

// Alert is the JSON form of a persisted alert.
type Alert struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	Severity        string    `json:"severity"`
	PatternHash     string    `json:"pattern_hash"`
	ExecutionID     string    `json:"execution_id"`
	Workspace       string    `json:"workspace"`
	User            string    `json:"user"`
	Subject         string    `json:"subject"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	ObservedValue   float64   `json:"observed_value"`
	ThresholdValue  float64   `json:"threshold_value"`
	OccurredAt      time.Time `json:"occurred_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func alertToAPI(a *domain.Alert) Alert {
	return Alert{
		ID:              a.ID,
		Category:        string(a.Category),
		Severity:        string(a.Severity),
		PatternHash:     a.PatternHash,
		ExecutionID:     a.ExecutionID,
		Workspace:       a.Workspace,
		User:            a.User,
		Subject:         a.Subject,
		Message:         a.Message,
		SuggestedAction: a.SuggestedAction,
		ObservedValue:   a.ObservedValue,
		ThresholdValue:  a.ThresholdValue,
		OccurredAt:      a.OccurredAt,
		CreatedAt:       a.CreatedAt,
	}
}

// RunCounts is the JSON form of a run's record accounting.
type RunCounts struct {
	RecordsRead      int64 `json:"records_read"`
	RecordsProcessed int64 `json:"records_processed"`
	RecordsSkipped   int64 `json:"records_skipped"`
	RecordsDuplicate int64 `json:"records_duplicate"`
	RecordsFailed    int64 `json:"records_failed"`
	AlertsEmitted    int64 `json:"alerts_emitted"`
	AlertsSuppressed int64 `json:"alerts_suppressed"`
}

// Run is the JSON form of an ETL run.
type Run struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Partition    string     `json:"partition,omitempty"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	Status       string     `json:"status"`
	Counts       RunCounts  `json:"counts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func runToAPI(r *domain.ETLRun) Run {
	return Run{
		ID:          r.ID,
		Kind:        r.Kind,
		Partition:   r.Partition,
		WindowStart: r.Window.Start,
		WindowEnd:   r.Window.End,
		Status:      r.Status,
		Counts: RunCounts{
			RecordsRead:      r.Counts.RecordsRead,
			RecordsProcessed: r.Counts.RecordsProcessed,
			RecordsSkipped:   r.Counts.RecordsSkipped,
			RecordsDuplicate: r.Counts.RecordsDuplicate,
			RecordsFailed:    r.Counts.RecordsFailed,
			AlertsEmitted:    r.Counts.AlertsEmitted,
			AlertsSuppressed: r.Counts.AlertsSuppressed,
		},
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

// TableHealth is the JSON form of one table's freshness.
type TableHealth struct {
	Table    string     `json:"table"`
	RowCount int64      `json:"row_count"`
	LatestAt *time.Time `json:"latest_at,omitempty"`
	Stale    bool       `json:"stale"`
}

// Health is the /healthz body.
type Health struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Tables    []TableHealth `json:"tables"`
}

func healthToAPI(h *etl.HealthReport) Health {
	out := Health{Status: "ok", CheckedAt: h.CheckedAt, Tables: make([]TableHealth, 0, len(h.Tables))}
	if !h.Healthy() {
		out.Status = "stale"
	}
	for _, t := range h.Tables {
		out.Tables = append(out.Tables, TableHealth{
			Table:    t.Table,
			RowCount: t.RowCount,
			LatestAt: t.LatestAt,
			Stale:    slices.Contains(h.Stale, t.Table),
		})
	}
	return out
}
