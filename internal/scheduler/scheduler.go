// Package scheduler triggers the engine's passes on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"querypulse/internal/etl"
)

// Passes is the subset of the runner the scheduler drives.
type Passes interface {
	RunPending(ctx context.Context, now time.Time) ([]*etl.RunResult, error)
	Baseline(ctx context.Context, windowEnd time.Time) (*etl.RunResult, error)
	Retention(ctx context.Context, now time.Time) (*etl.RetentionResult, error)
	Health(ctx context.Context) (*etl.HealthReport, error)
}

// Schedules are cron expressions; an empty expression disables the job.
type Schedules struct {
	RecordPass string
	Baseline   string
	Retention  string
}

// Scheduler manages cron-based pass execution. Each job is skipped while
// its previous invocation is still running.
type Scheduler struct {
	cron    *cron.Cron
	passes  Passes
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cron.EntryID // job name → cron entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Scheduler.
func New(passes Passes, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		passes:  passes,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the schedules and starts the cron scheduler.
func (s *Scheduler) Start(schedules Schedules) error {
	if err := s.Reload(schedules); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("pass scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop cancels running passes and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("pass scheduler stopped")
}

// Reload replaces all cron entries. An invalid expression leaves the
// previous entries in place.
func (s *Scheduler) Reload(schedules Schedules) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"record_pass", schedules.RecordPass, s.runRecordPass},
		{"baseline", schedules.Baseline, s.runBaseline},
		{"retention", schedules.Retention, s.runRetention},
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := parser.Parse(j.spec); err != nil {
			return &InvalidScheduleError{Job: j.name, Spec: j.spec, Err: err}
		}
	}

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[string]cron.EntryID)

	for _, j := range jobs {
		if j.spec == "" {
			s.logger.Info("job disabled", "job", j.name)
			continue
		}
		id, err := s.cron.AddFunc(j.spec, j.run)
		if err != nil {
			return &InvalidScheduleError{Job: j.name, Spec: j.spec, Err: err}
		}
		s.entries[j.name] = id
		s.logger.Info("scheduled job", "job", j.name, "schedule", j.spec)
	}
	return nil
}

// Next returns the next activation time of each scheduled job.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) runRecordPass() {
	results, err := s.passes.RunPending(s.ctx, s.now())
	if err != nil {
		s.logger.Warn("scheduled record pass failed", "windows", len(results), "error", err)
	} else {
		s.logger.Info("scheduled record pass finished", "windows", len(results))
	}
	s.checkHealth()
}

func (s *Scheduler) runBaseline() {
	// Baselines cover whole days: the window ends at the start of today.
	windowEnd := s.now().UTC().Truncate(24 * time.Hour)
	if _, err := s.passes.Baseline(s.ctx, windowEnd); err != nil {
		s.logger.Warn("scheduled baseline pass failed", "window_end", windowEnd, "error", err)
	}
}

func (s *Scheduler) runRetention() {
	if _, err := s.passes.Retention(s.ctx, s.now()); err != nil {
		s.logger.Warn("scheduled retention failed", "error", err)
	}
}

func (s *Scheduler) checkHealth() {
	report, err := s.passes.Health(s.ctx)
	if err != nil {
		s.logger.Warn("health check failed", "error", err)
		return
	}
	if !report.Healthy() {
		s.logger.Warn("stale output tables", "tables", report.Stale)
	}
}

// InvalidScheduleError reports a cron expression that failed to parse.
type InvalidScheduleError struct {
	Job  string
	Spec string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return "invalid schedule for " + e.Job + " (" + e.Spec + "): " + e.Err.Error()
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
