package source

import (
	"context"
	"sort"
	"sync"

	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.TelemetrySource = (*StaticSource)(nil)

// StaticSource serves records held in memory. It is used for replays and
// local runs. It is safe for concurrent use.
type StaticSource struct {
	mu      sync.RWMutex
	records []domain.RawExecutionRecord
}

// NewStatic creates a StaticSource holding records.
func NewStatic(records ...domain.RawExecutionRecord) *StaticSource {
	s := &StaticSource{}
	s.Add(records...)
	return s
}

// Add appends records.
func (s *StaticSource) Add(records ...domain.RawExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Ping always succeeds.
func (s *StaticSource) Ping(context.Context) error { return nil }

// Fetch returns the held records that started in w, ordered by start time.
func (s *StaticSource) Fetch(ctx context.Context, w domain.Window, partition string) ([]domain.RawExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RawExecutionRecord
	for _, r := range s.records {
		if !w.Contains(r.StartTime) {
			continue
		}
		if partition != "" && r.Workspace != partition {
			continue
		}
		r.Status = domain.NormalizeExecutionStatus(r.Status)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
