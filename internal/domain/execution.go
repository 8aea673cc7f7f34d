package domain

import (
	"math"
	"strings"
	"time"
)

// Execution status constants as reported by the telemetry source.
const (
	ExecutionStatusSuccess  = "SUCCESS"
	ExecutionStatusFailed   = "FAILED"
	ExecutionStatusCanceled = "CANCELED"
	ExecutionStatusRunning  = "RUNNING"
	ExecutionStatusOther    = "OTHER"
)

// NormalizeExecutionStatus maps source-specific status spellings onto the
// engine's closed set.
func NormalizeExecutionStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUCCEEDED", "FINISHED", "OK":
		return ExecutionStatusSuccess
	case "FAILED", "FAILURE", "ERROR":
		return ExecutionStatusFailed
	case "CANCELED", "CANCELLED":
		return ExecutionStatusCanceled
	case "RUNNING", "QUEUED", "STARTED":
		return ExecutionStatusRunning
	default:
		return ExecutionStatusOther
	}
}

// RawExecutionRecord is one observed query execution as emitted by the
// telemetry source. It is never modified after ingestion.
type RawExecutionRecord struct {
	ID         string
	Workspace  string
	User       string
	QueryText  string
	StartTime  time.Time
	EndTime    time.Time
	DurationMs int64
	BytesRead  int64
	RowsRead   int64
	CostUnits  float64
	Status     string
	ErrorText  string
}

// Terminal reports whether the execution finished or failed, the only
// states that feed baselines and anomaly detection.
func (r *RawExecutionRecord) Terminal() bool {
	return r.Status == ExecutionStatusSuccess || r.Status == ExecutionStatusFailed
}

// Validate checks the fields the engine relies on.
func (r *RawExecutionRecord) Validate() error {
	if r.ID == "" {
		return ErrInvalidInput("", "record id is required")
	}
	if strings.TrimSpace(r.QueryText) == "" {
		return ErrInvalidInput(r.ID, "query text is empty")
	}
	if r.StartTime.IsZero() {
		return ErrInvalidInput(r.ID, "start time is required")
	}
	if r.DurationMs < 0 || r.BytesRead < 0 || r.RowsRead < 0 || r.CostUnits < 0 {
		return ErrInvalidInput(r.ID, "metrics must be non-negative")
	}
	if math.IsNaN(r.CostUnits) || math.IsInf(r.CostUnits, 0) {
		return ErrInvalidInput(r.ID, "cost units must be finite")
	}
	if !r.EndTime.IsZero() && r.EndTime.Before(r.StartTime) {
		return ErrInvalidInput(r.ID, "end time precedes start time")
	}
	return nil
}

// AnnotatedExecution is a raw record plus its pattern identity and scores.
type AnnotatedExecution struct {
	RawExecutionRecord
	PatternHash       string
	Template          string
	ComplexityScore   float64
	OptimizationScore float64
	// Category considers this execution's metrics; StructuralCategory is
	// implied by the query text alone and is shared by the whole pattern.
	Category           PatternCategory
	StructuralCategory PatternCategory
}

// ScopeKey identifies the (pattern, workspace, user) baseline key.
type ScopeKey struct {
	PatternHash string
	Workspace   string
	User        string
}

// Key returns the scope key for this execution.
func (e *AnnotatedExecution) Key() ScopeKey {
	return ScopeKey{PatternHash: e.PatternHash, Workspace: e.Workspace, User: e.User}
}

// Subject is the alert subject for this execution's scope.
func (k ScopeKey) Subject() string {
	return k.Workspace + "/" + k.User + "/" + k.PatternHash
}

// ExecutionSample is the slice of an execution the baseline calculator needs.
type ExecutionSample struct {
	Key        ScopeKey
	StartTime  time.Time
	DurationMs int64
	CostUnits  float64
	Status     string
}
