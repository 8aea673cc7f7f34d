// Package alert deduplicates alert candidates, persists them, and forwards
// them to external channels.
package alert

import (
	"context"
	"fmt"
	"time"

	"querypulse/internal/domain"
)

// DefaultSuppressionWindow is the dedup bucket width when none is configured.
const DefaultSuppressionWindow = time.Hour

var suggestedActions = map[domain.AlertCategory]string{
	domain.AlertSlowQuery:             "Review the query plan; add filters on partition columns, prune joined tables, or pre-aggregate the source.",
	domain.AlertExpensiveQuery:        "Reduce scanned data with selective predicates and column pruning, or schedule the query off-peak on a smaller warehouse.",
	domain.AlertFailedQuery:           "Inspect the error text, fix the query or its permissions, and add retries for transient failures.",
	domain.AlertPerformanceAnomaly:    "Compare with recent runs of the same pattern: check for data growth, plan changes, skew or warehouse contention.",
	domain.AlertLargeScan:             "Project only needed columns, filter on partition or clustering keys, and avoid full scans of large tables.",
	domain.AlertResourceUnderutilized: "The query ran long on little data; look for queueing, lock waits or an undersized warehouse, and consider caching.",
}

// SuggestedAction returns the static remediation hint for category.
func SuggestedAction(category domain.AlertCategory) string {
	if a, ok := suggestedActions[category]; ok {
		return a
	}
	return "Investigate the query execution."
}

// DedupKey builds category|subject|bucket, where bucket is occurredAt
// truncated to window.
func DedupKey(category domain.AlertCategory, subject string, occurredAt time.Time, window time.Duration) string {
	bucket := occurredAt.UTC()
	if window > 0 {
		bucket = bucket.Truncate(window)
	}
	return fmt.Sprintf("%s|%s|%s", category, subject, bucket.Format(time.RFC3339))
}

// Outcome reports what one Emit call did.
type Outcome struct {
	Emitted    []domain.Alert
	Suppressed int
}

// Emitter persists candidates that are not duplicates of an earlier alert.
type Emitter struct {
	window time.Duration
	now    func() time.Time
}

// NewEmitter creates an Emitter. A non-positive window selects
// DefaultSuppressionWindow.
func NewEmitter(window time.Duration) *Emitter {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &Emitter{window: window, now: time.Now}
}

// Window returns the suppression window.
func (e *Emitter) Window() time.Duration { return e.window }

// Emit persists each candidate unless an alert with the same dedup key, or
// the same category and subject within the suppression window of the
// candidate's occurrence, already exists.
func (e *Emitter) Emit(ctx context.Context, tx domain.PassTx, candidates []domain.AlertCandidate) (*Outcome, error) {
	out := &Outcome{}
	for _, c := range candidates {
		subject := c.Key.Subject()
		occurred := c.OccurredAt.UTC()
		key := DedupKey(c.Category, subject, occurred, e.window)

		exists, err := tx.AlertExists(ctx, c.Category, subject, key, occurred.Add(-e.window), occurred.Add(e.window))
		if err != nil {
			return nil, fmt.Errorf("check alert %s: %w", key, err)
		}
		if exists {
			out.Suppressed++
			continue
		}

		a := domain.Alert{
			ID:              domain.NewID(),
			DedupKey:        key,
			Category:        c.Category,
			Severity:        c.Severity,
			PatternHash:     c.Key.PatternHash,
			ExecutionID:     c.ExecutionID,
			Workspace:       c.Key.Workspace,
			User:            c.Key.User,
			Subject:         subject,
			Message:         c.Message,
			SuggestedAction: SuggestedAction(c.Category),
			ObservedValue:   c.ObservedValue,
			ThresholdValue:  c.ThresholdValue,
			OccurredAt:      occurred,
			CreatedAt:       e.now().UTC(),
		}
		inserted, err := tx.InsertAlert(ctx, &a)
		if err != nil {
			return nil, fmt.Errorf("insert alert %s: %w", key, err)
		}
		if !inserted {
			out.Suppressed++
			continue
		}
		out.Emitted = append(out.Emitted, a)
	}
	return out, nil
}
