// Package detect classifies finished executions into alert candidates.
//
// Baseline comparison and absolute thresholds are evaluated independently:
// a missing baseline means insufficient data and only disables the
// PERFORMANCE_ANOMALY check.
package detect

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"querypulse/internal/domain"
)

// Config holds absolute alerting floors.
type Config struct {
	SlowDurationFloorMs      int64
	ExpensiveCostFloor       float64
	LargeScanByteFloor       int64
	UnderutilizedByteCeiling int64
}

// DefaultConfig returns the stock floors.
func DefaultConfig() Config {
	return Config{
		SlowDurationFloorMs:      60_000,
		ExpensiveCostFloor:       10,
		LargeScanByteFloor:       10 << 30,
		UnderutilizedByteCeiling: 100 << 20,
	}
}

// Detector is stateless and safe for concurrent use.
type Detector struct {
	cfg Config
}

// New creates a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns zero or more candidates for e. baseline is the snapshot in
// force at e's start time, or nil.
func (d *Detector) Detect(e *domain.AnnotatedExecution, baseline *domain.PerformanceBaseline) []domain.AlertCandidate {
	if !e.Terminal() {
		return nil
	}

	var out []domain.AlertCandidate
	add := func(cat domain.AlertCategory, sev domain.Severity, observed, threshold float64, msg string) {
		out = append(out, domain.AlertCandidate{
			Category:       cat,
			Severity:       sev,
			Key:            e.Key(),
			ExecutionID:    e.ID,
			Message:        msg,
			ObservedValue:  observed,
			ThresholdValue: threshold,
			OccurredAt:     e.StartTime,
		})
	}

	if baseline != nil {
		if c, ok := d.anomaly(e, baseline); ok {
			out = append(out, c)
		}
	}

	duration := float64(e.DurationMs)
	if floor := float64(d.cfg.SlowDurationFloorMs); floor > 0 && duration > floor {
		add(domain.AlertSlowQuery, floorSeverity(duration, floor), duration, floor,
			fmt.Sprintf("query ran for %s, above the %s floor", formatMs(duration), formatMs(floor)))
	}

	if floor := d.cfg.ExpensiveCostFloor; floor > 0 && e.CostUnits > floor {
		add(domain.AlertExpensiveQuery, floorSeverity(e.CostUnits, floor), e.CostUnits, floor,
			fmt.Sprintf("query cost %.2f units, above the %.2f floor", e.CostUnits, floor))
	}

	if e.Status == domain.ExecutionStatusFailed {
		msg := "query failed"
		if e.ErrorText != "" {
			msg += ": " + truncate(e.ErrorText, 200)
		}
		add(domain.AlertFailedQuery, domain.SeverityHigh, 0, 0, msg)
	}

	if floor := d.cfg.LargeScanByteFloor; floor > 0 && e.BytesRead > floor {
		sev := domain.SeverityMedium
		if e.BytesRead >= 10*floor {
			sev = domain.SeverityHigh
		}
		add(domain.AlertLargeScan, sev, float64(e.BytesRead), float64(floor),
			fmt.Sprintf("query read %s, above the %s floor",
				humanize.IBytes(uint64(e.BytesRead)), humanize.IBytes(uint64(floor))))
	}

	slowFloor := d.cfg.SlowDurationFloorMs
	if ceiling := d.cfg.UnderutilizedByteCeiling; ceiling > 0 && slowFloor > 0 &&
		e.DurationMs > slowFloor && e.BytesRead < ceiling {
		add(domain.AlertResourceUnderutilized, domain.SeverityMedium, duration, float64(slowFloor),
			fmt.Sprintf("query ran for %s but read only %s", formatMs(duration), humanize.IBytes(uint64(e.BytesRead))))
	}

	return out
}

// anomaly compares e against its baseline on duration and cost and returns
// the worse of the two as one candidate.
func (d *Detector) anomaly(e *domain.AnnotatedExecution, b *domain.PerformanceBaseline) (domain.AlertCandidate, bool) {
	type dimension struct {
		name      string
		observed  float64
		avg       float64
		threshold float64
		format    func(float64) string
	}
	dims := []dimension{
		{"duration", float64(e.DurationMs), b.AvgDurationMs, b.ThresholdDurationMs, formatMs},
		{"cost", e.CostUnits, b.AvgCost, b.ThresholdCost, func(v float64) string { return fmt.Sprintf("%.2f units", v) }},
	}

	var (
		best    domain.AlertCandidate
		found   bool
		bestDim dimension
	)
	for _, dim := range dims {
		sev, ok := AnomalySeverity(dim.observed, dim.threshold)
		if !ok {
			continue
		}
		if found && sev.Rank() <= best.Severity.Rank() {
			continue
		}
		found = true
		bestDim = dim
		best = domain.AlertCandidate{
			Category:       domain.AlertPerformanceAnomaly,
			Severity:       sev,
			Key:            e.Key(),
			ExecutionID:    e.ID,
			ObservedValue:  dim.observed,
			ThresholdValue: dim.threshold,
			OccurredAt:     e.StartTime,
		}
	}
	if !found {
		return domain.AlertCandidate{}, false
	}

	best.Message = fmt.Sprintf("%s %s exceeds baseline threshold %s (avg %s, deviation %+.0f%%)",
		bestDim.name, bestDim.format(bestDim.observed), bestDim.format(bestDim.threshold),
		bestDim.format(bestDim.avg), Deviation(bestDim.observed, bestDim.avg)*100)
	return best, true
}

// AnomalySeverity tiers an observation against a baseline threshold:
// CRITICAL above 2x, HIGH above 1.5x, MEDIUM above 1x. A non-positive
// threshold disables the check.
func AnomalySeverity(observed, threshold float64) (domain.Severity, bool) {
	switch {
	case threshold <= 0:
		return "", false
	case observed > 2*threshold:
		return domain.SeverityCritical, true
	case observed > 1.5*threshold:
		return domain.SeverityHigh, true
	case observed > threshold:
		return domain.SeverityMedium, true
	default:
		return "", false
	}
}

// Deviation is (observed - avg) / avg, or 0 when avg is zero.
func Deviation(observed, avg float64) float64 {
	if avg == 0 {
		return 0
	}
	return (observed - avg) / avg
}

// floorSeverity tiers an observation already above floor by magnitude.
func floorSeverity(observed, floor float64) domain.Severity {
	switch {
	case observed >= 4*floor:
		return domain.SeverityCritical
	case observed >= 2*floor:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func formatMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
