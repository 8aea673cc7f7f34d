package domain

import (
	"strings"
	"time"
)

// AlertCategory classifies a finding.
type AlertCategory string

// Alert categories.
const (
	AlertSlowQuery             AlertCategory = "SLOW_QUERY"
	AlertExpensiveQuery        AlertCategory = "EXPENSIVE_QUERY"
	AlertFailedQuery           AlertCategory = "FAILED_QUERY"
	AlertPerformanceAnomaly    AlertCategory = "PERFORMANCE_ANOMALY"
	AlertLargeScan             AlertCategory = "LARGE_SCAN"
	AlertResourceUnderutilized AlertCategory = "RESOURCE_UNDERUTILIZED"
)

// Severity is an ordered tier: MEDIUM < HIGH < CRITICAL.
type Severity string

// Severity tiers.
const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank below MEDIUM.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", ErrValidation("unknown severity %q", s)
	}
	return sev, nil
}

// AlertCandidate is a finding produced by the anomaly detector before
// deduplication.
type AlertCandidate struct {
	Category       AlertCategory
	Severity       Severity
	Key            ScopeKey
	ExecutionID    string
	Message        string
	ObservedValue  float64
	ThresholdValue float64
	OccurredAt     time.Time
}

// Alert is a persisted, immutable finding.
type Alert struct {
	ID              string
	DedupKey        string
	Category        AlertCategory
	Severity        Severity
	PatternHash     string
	ExecutionID     string
	Workspace       string
	User            string
	Subject         string
	Message         string
	SuggestedAction string
	ObservedValue   float64
	ThresholdValue  float64
	OccurredAt      time.Time
	CreatedAt       time.Time
}

// AlertFilter holds filter parameters for listing alerts.
type AlertFilter struct {
	Category  *AlertCategory
	Severity  *Severity
	Workspace *string
	From      *time.Time
	To        *time.Time
	Page      Page
}
