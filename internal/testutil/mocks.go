// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase.
package testutil

import (
	"context"
	"sync"
	"time"

	"querypulse/internal/domain"
)

// === Run Repository Mock ===

// MockRunRepo implements domain.RunRepository for testing.
type MockRunRepo struct {
	CreateFn              func(ctx context.Context, run *domain.ETLRun) (*domain.ETLRun, error)
	CompleteFn            func(ctx context.Context, id string, counts domain.RunCounts) error
	FailFn                func(ctx context.Context, id string, counts domain.RunCounts, errMsg string) error
	GetByIDFn             func(ctx context.Context, id string) (*domain.ETLRun, error)
	FindByWindowFn        func(ctx context.Context, kind, partition string, w domain.Window, status string) (*domain.ETLRun, error)
	WatermarkFn           func(ctx context.Context, kind, partition string) (*time.Time, error)
	CompletedWindowsFn    func(ctx context.Context, kind, partition string, from time.Time) ([]domain.Window, error)
	ListFn                func(ctx context.Context, filter domain.RunFilter) ([]domain.ETLRun, error)
	PurgeFinishedBeforeFn func(ctx context.Context, before time.Time) (int64, error)
}

// Create implements the interface method for testing.
func (m *MockRunRepo) Create(ctx context.Context, run *domain.ETLRun) (*domain.ETLRun, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, run)
	}
	panic("unexpected call to MockRunRepo.Create")
}

// Complete implements the interface method for testing.
func (m *MockRunRepo) Complete(ctx context.Context, id string, counts domain.RunCounts) error {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, id, counts)
	}
	panic("unexpected call to MockRunRepo.Complete")
}

// Fail implements the interface method for testing.
func (m *MockRunRepo) Fail(ctx context.Context, id string, counts domain.RunCounts, errMsg string) error {
	if m.FailFn != nil {
		return m.FailFn(ctx, id, counts, errMsg)
	}
	panic("unexpected call to MockRunRepo.Fail")
}

// GetByID implements the interface method for testing.
func (m *MockRunRepo) GetByID(ctx context.Context, id string) (*domain.ETLRun, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockRunRepo.GetByID")
}

// FindByWindow implements the interface method for testing.
func (m *MockRunRepo) FindByWindow(ctx context.Context, kind, partition string, w domain.Window, status string) (*domain.ETLRun, error) {
	if m.FindByWindowFn != nil {
		return m.FindByWindowFn(ctx, kind, partition, w, status)
	}
	panic("unexpected call to MockRunRepo.FindByWindow")
}

// Watermark implements the interface method for testing.
func (m *MockRunRepo) Watermark(ctx context.Context, kind, partition string) (*time.Time, error) {
	if m.WatermarkFn != nil {
		return m.WatermarkFn(ctx, kind, partition)
	}
	panic("unexpected call to MockRunRepo.Watermark")
}

// CompletedWindows implements the interface method for testing.
func (m *MockRunRepo) CompletedWindows(ctx context.Context, kind, partition string, from time.Time) ([]domain.Window, error) {
	if m.CompletedWindowsFn != nil {
		return m.CompletedWindowsFn(ctx, kind, partition, from)
	}
	panic("unexpected call to MockRunRepo.CompletedWindows")
}

// List implements the interface method for testing.
func (m *MockRunRepo) List(ctx context.Context, filter domain.RunFilter) ([]domain.ETLRun, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockRunRepo.List")
}

// PurgeFinishedBefore implements the interface method for testing.
func (m *MockRunRepo) PurgeFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeFinishedBeforeFn != nil {
		return m.PurgeFinishedBeforeFn(ctx, before)
	}
	panic("unexpected call to MockRunRepo.PurgeFinishedBefore")
}

// === Pattern Repository Mock ===

// MockPatternRepo implements domain.PatternRepository for testing.
type MockPatternRepo struct {
	GetFn              func(ctx context.Context, hash string) (*domain.QueryPattern, error)
	ListFn             func(ctx context.Context, filter domain.PatternFilter) ([]domain.QueryPattern, error)
	PurgeUnseenSinceFn func(ctx context.Context, before time.Time) (int64, error)
}

// Get implements the interface method for testing.
func (m *MockPatternRepo) Get(ctx context.Context, hash string) (*domain.QueryPattern, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, hash)
	}
	panic("unexpected call to MockPatternRepo.Get")
}

// List implements the interface method for testing.
func (m *MockPatternRepo) List(ctx context.Context, filter domain.PatternFilter) ([]domain.QueryPattern, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockPatternRepo.List")
}

// PurgeUnseenSince implements the interface method for testing.
func (m *MockPatternRepo) PurgeUnseenSince(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeUnseenSinceFn != nil {
		return m.PurgeUnseenSinceFn(ctx, before)
	}
	panic("unexpected call to MockPatternRepo.PurgeUnseenSince")
}

// === Baseline Repository Mock ===

// MockBaselineRepo implements domain.BaselineRepository for testing.
type MockBaselineRepo struct {
	SamplesFn                func(ctx context.Context, w domain.Window) ([]domain.ExecutionSample, error)
	UpsertFn                 func(ctx context.Context, baselines []domain.PerformanceBaseline) error
	LatestFn                 func(ctx context.Context, key domain.ScopeKey) (*domain.PerformanceBaseline, error)
	ListFn                   func(ctx context.Context, filter domain.BaselineFilter) ([]domain.PerformanceBaseline, error)
	PurgeWindowEndedBeforeFn func(ctx context.Context, before time.Time) (int64, error)
	Upserted                 []domain.PerformanceBaseline // collected baselines for assertions
}

// Samples implements the interface method for testing.
func (m *MockBaselineRepo) Samples(ctx context.Context, w domain.Window) ([]domain.ExecutionSample, error) {
	if m.SamplesFn != nil {
		return m.SamplesFn(ctx, w)
	}
	panic("unexpected call to MockBaselineRepo.Samples")
}

// Upsert implements the interface method for testing.
func (m *MockBaselineRepo) Upsert(ctx context.Context, baselines []domain.PerformanceBaseline) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(ctx, baselines); err != nil {
			return err
		}
	}
	m.Upserted = append(m.Upserted, baselines...)
	return nil
}

// Latest implements the interface method for testing.
func (m *MockBaselineRepo) Latest(ctx context.Context, key domain.ScopeKey) (*domain.PerformanceBaseline, error) {
	if m.LatestFn != nil {
		return m.LatestFn(ctx, key)
	}
	panic("unexpected call to MockBaselineRepo.Latest")
}

// List implements the interface method for testing.
func (m *MockBaselineRepo) List(ctx context.Context, filter domain.BaselineFilter) ([]domain.PerformanceBaseline, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockBaselineRepo.List")
}

// PurgeWindowEndedBefore implements the interface method for testing.
func (m *MockBaselineRepo) PurgeWindowEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeWindowEndedBeforeFn != nil {
		return m.PurgeWindowEndedBeforeFn(ctx, before)
	}
	panic("unexpected call to MockBaselineRepo.PurgeWindowEndedBefore")
}

// === Alert Repository Mock ===

// MockAlertRepo implements domain.AlertRepository for testing.
type MockAlertRepo struct {
	ListFn                func(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error)
	PurgeOccurredBeforeFn func(ctx context.Context, before time.Time) (int64, error)
}

// List implements the interface method for testing.
func (m *MockAlertRepo) List(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAlertRepo.List")
}

// PurgeOccurredBefore implements the interface method for testing.
func (m *MockAlertRepo) PurgeOccurredBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeOccurredBeforeFn != nil {
		return m.PurgeOccurredBeforeFn(ctx, before)
	}
	panic("unexpected call to MockAlertRepo.PurgeOccurredBefore")
}

// === Execution Repository Mock ===

// MockExecutionRepo implements domain.ExecutionRepository for testing.
type MockExecutionRepo struct {
	PurgeStartedBeforeFn func(ctx context.Context, before time.Time) (int64, error)
}

// PurgeStartedBefore implements the interface method for testing.
func (m *MockExecutionRepo) PurgeStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeStartedBeforeFn != nil {
		return m.PurgeStartedBeforeFn(ctx, before)
	}
	panic("unexpected call to MockExecutionRepo.PurgeStartedBefore")
}

// === Health Repository Mock ===

// MockHealthRepo implements domain.HealthRepository for testing.
type MockHealthRepo struct {
	TableHealthFn func(ctx context.Context) ([]domain.TableHealth, error)
}

// TableHealth implements the interface method for testing.
func (m *MockHealthRepo) TableHealth(ctx context.Context) ([]domain.TableHealth, error) {
	if m.TableHealthFn != nil {
		return m.TableHealthFn(ctx)
	}
	panic("unexpected call to MockHealthRepo.TableHealth")
}

// === Store Maintainer Mock ===

// MockMaintainer implements domain.StoreMaintainer for testing and records
// the vacuum flag of each call.
type MockMaintainer struct {
	OptimizeFn func(ctx context.Context, vacuum bool) error
	Calls      []bool
}

// Optimize implements the interface method for testing.
func (m *MockMaintainer) Optimize(ctx context.Context, vacuum bool) error {
	m.Calls = append(m.Calls, vacuum)
	if m.OptimizeFn != nil {
		return m.OptimizeFn(ctx, vacuum)
	}
	return nil
}

// === Pass Transaction Mock ===

// MockPassTx implements domain.PassTx for testing. With no Fn fields set it
// behaves as an empty in-memory store: every insert succeeds and no
// baselines or prior alerts exist.
type MockPassTx struct {
	InsertExecutionFn func(ctx context.Context, e *domain.AnnotatedExecution) (bool, error)
	MergePatternFn    func(ctx context.Context, d domain.PatternDelta) error
	BaselineAtFn      func(ctx context.Context, key domain.ScopeKey, at time.Time) (*domain.PerformanceBaseline, error)
	AlertExistsFn     func(ctx context.Context, category domain.AlertCategory, subject, dedupKey string, from, to time.Time) (bool, error)
	InsertAlertFn     func(ctx context.Context, a *domain.Alert) (bool, error)

	Executions []*domain.AnnotatedExecution
	Deltas     []domain.PatternDelta
	Alerts     []*domain.Alert
}

// InsertExecution implements the interface method for testing.
func (m *MockPassTx) InsertExecution(ctx context.Context, e *domain.AnnotatedExecution) (bool, error) {
	if m.InsertExecutionFn != nil {
		ok, err := m.InsertExecutionFn(ctx, e)
		if ok && err == nil {
			m.Executions = append(m.Executions, e)
		}
		return ok, err
	}
	m.Executions = append(m.Executions, e)
	return true, nil
}

// MergePattern implements the interface method for testing.
func (m *MockPassTx) MergePattern(ctx context.Context, d domain.PatternDelta) error {
	if m.MergePatternFn != nil {
		if err := m.MergePatternFn(ctx, d); err != nil {
			return err
		}
	}
	m.Deltas = append(m.Deltas, d)
	return nil
}

// BaselineAt implements the interface method for testing.
func (m *MockPassTx) BaselineAt(ctx context.Context, key domain.ScopeKey, at time.Time) (*domain.PerformanceBaseline, error) {
	if m.BaselineAtFn != nil {
		return m.BaselineAtFn(ctx, key, at)
	}
	return nil, nil
}

// AlertExists implements the interface method for testing. Without a Fn it
// checks the alerts inserted through this mock.
func (m *MockPassTx) AlertExists(ctx context.Context, category domain.AlertCategory, subject, dedupKey string, from, to time.Time) (bool, error) {
	if m.AlertExistsFn != nil {
		return m.AlertExistsFn(ctx, category, subject, dedupKey, from, to)
	}
	for _, a := range m.Alerts {
		if a.DedupKey == dedupKey {
			return true, nil
		}
		if a.Category == category && a.Subject == subject && !a.OccurredAt.Before(from) && !a.OccurredAt.After(to) {
			return true, nil
		}
	}
	return false, nil
}

// InsertAlert implements the interface method for testing.
func (m *MockPassTx) InsertAlert(ctx context.Context, a *domain.Alert) (bool, error) {
	if m.InsertAlertFn != nil {
		ok, err := m.InsertAlertFn(ctx, a)
		if ok && err == nil {
			m.Alerts = append(m.Alerts, a)
		}
		return ok, err
	}
	for _, existing := range m.Alerts {
		if existing.DedupKey == a.DedupKey {
			return false, nil
		}
	}
	m.Alerts = append(m.Alerts, a)
	return true, nil
}

// MockPassStore implements domain.PassStore over a MockPassTx.
type MockPassStore struct {
	Tx          *MockPassTx
	InPassTxFn  func(ctx context.Context, fn func(tx domain.PassTx) error) error
	Invocations int
}

// InPassTx implements the interface method for testing.
func (m *MockPassStore) InPassTx(ctx context.Context, fn func(tx domain.PassTx) error) error {
	m.Invocations++
	if m.InPassTxFn != nil {
		return m.InPassTxFn(ctx, fn)
	}
	if m.Tx == nil {
		m.Tx = &MockPassTx{}
	}
	return fn(m.Tx)
}

// === Telemetry Source Mock ===

// MockSource implements domain.TelemetrySource for testing.
type MockSource struct {
	FetchFn func(ctx context.Context, w domain.Window, partition string) ([]domain.RawExecutionRecord, error)
	PingFn  func(ctx context.Context) error

	mu         sync.Mutex
	FetchCalls int
}

// Fetch implements the interface method for testing.
func (m *MockSource) Fetch(ctx context.Context, w domain.Window, partition string) ([]domain.RawExecutionRecord, error) {
	m.mu.Lock()
	m.FetchCalls++
	m.mu.Unlock()
	if m.FetchFn != nil {
		return m.FetchFn(ctx, w, partition)
	}
	panic("unexpected call to MockSource.Fetch")
}

// Ping implements the interface method for testing.
func (m *MockSource) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

// === Notifier Mock ===

// MockNotifier implements domain.Notifier for testing and records calls.
type MockNotifier struct {
	NotifyAlertsFn    func(ctx context.Context, alerts []domain.Alert) error
	NotifyRunFailedFn func(ctx context.Context, run *domain.ETLRun) error

	mu         sync.Mutex
	Alerts     []domain.Alert
	FailedRuns []*domain.ETLRun
}

// NotifyAlerts implements the interface method for testing.
func (m *MockNotifier) NotifyAlerts(ctx context.Context, alerts []domain.Alert) error {
	m.mu.Lock()
	m.Alerts = append(m.Alerts, alerts...)
	m.mu.Unlock()
	if m.NotifyAlertsFn != nil {
		return m.NotifyAlertsFn(ctx, alerts)
	}
	return nil
}

// NotifyRunFailed implements the interface method for testing.
func (m *MockNotifier) NotifyRunFailed(ctx context.Context, run *domain.ETLRun) error {
	m.mu.Lock()
	m.FailedRuns = append(m.FailedRuns, run)
	m.mu.Unlock()
	if m.NotifyRunFailedFn != nil {
		return m.NotifyRunFailedFn(ctx, run)
	}
	return nil
}
