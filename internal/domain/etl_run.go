package domain

import (
	"fmt"
	"time"
)

// ETL run kinds.
const (
	RunKindRecordPass = "RECORD_PASS"
	RunKindBaseline   = "BASELINE"
	RunKindRetention  = "RETENTION"
)

// ETL run status constants. STARTED is the only non-terminal state.
const (
	RunStatusStarted   = "STARTED"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates and normalizes a window to UTC.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, ErrValidation("window bounds are required")
	}
	if !start.Before(end) {
		return Window{}, ErrValidation("window start %s must precede end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// RunCounts accounts for every record pulled by a pass.
type RunCounts struct {
	RecordsRead      int64
	RecordsProcessed int64
	RecordsSkipped   int64
	RecordsDuplicate int64
	RecordsFailed    int64
	AlertsEmitted    int64
	AlertsSuppressed int64
}

// ETLRun is the audit record of one orchestrator pass.
type ETLRun struct {
	ID           string
	Kind         string
	Partition    string
	Window       Window
	Status       string
	Counts       RunCounts
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Terminal reports whether the run reached COMPLETED or FAILED.
func (r *ETLRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RunFilter holds filter parameters for listing runs.
type RunFilter struct {
	Kind   *string
	Status *string
	Page   Page
}
