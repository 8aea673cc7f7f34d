package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"querypulse/internal/alert"
	"querypulse/internal/config"
	"querypulse/internal/db"
	"querypulse/internal/db/repository"
	"querypulse/internal/ddl"
	"querypulse/internal/domain"
	"querypulse/internal/etl"
	"querypulse/internal/source"
)

// readPoolSize bounds concurrent readers of the SQLite store.
const readPoolSize = 8

// app holds the process-wide resources of one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

func (a *app) close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errs
}

func (a *app) openStore(ctx context.Context, migrate bool) (*db.Store, error) {
	store, err := db.Open(a.cfg.MetaDBPath, readPoolSize)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.MetaDBPath, err)
	}
	a.closers = append(a.closers, store)
	if migrate {
		if err := db.Migrate(ctx, store.Write); err != nil {
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}
	return store, nil
}

func (a *app) openSource(ctx context.Context) (*source.DuckDBSource, error) {
	sc := a.cfg.Source
	cfg := source.DuckDBConfig{
		DSN:         sc.DSN,
		Query:       sc.Query,
		FilePath:    sc.FilePath,
		FileFormat:  sc.FileFormat,
		FileView:    source.DefaultView,
		MaxMemoryGB: sc.MaxMemoryGB,
	}
	if sc.HasS3Config() {
		secret := &ddl.S3Secret{
			Name:     "querypulse_s3",
			KeyID:    *sc.S3KeyID,
			Secret:   *sc.S3Secret,
			URLStyle: sc.S3URLStyle,
		}
		if sc.S3Endpoint != nil {
			secret.Endpoint = *sc.S3Endpoint
		}
		if sc.S3Region != nil {
			secret.Region = *sc.S3Region
		}
		cfg.S3 = secret
	}
	src, err := source.OpenDuckDB(ctx, cfg, a.logger.With("component", "source"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, src)
	return src, nil
}

func (a *app) notifier() domain.Notifier {
	if !a.cfg.Notify.Enabled() {
		return alert.NewLogNotifier(a.logger.With("component", "notifier"))
	}
	n := a.cfg.Notify
	return alert.NewWebhookNotifier(alert.WebhookConfig{
		URL:         n.WebhookURL,
		Type:        n.WebhookType,
		MinSeverity: n.MinSeverity,
		PerMinute:   n.PerMinute,
		Burst:       n.Burst,
	}, a.logger.With("component", "notifier"))
}

// staleThresholds flags executions older than three windows and baselines
// older than two days when their passes are scheduled.
func (a *app) staleThresholds() map[string]time.Duration {
	out := map[string]time.Duration{}
	if a.cfg.Schedules.RecordPass != "" {
		out["query_executions"] = 3 * a.cfg.Engine.WindowSize
	}
	if a.cfg.Schedules.Baseline != "" {
		out["performance_baselines"] = 48 * time.Hour
	}
	return out
}

// engine is the wired pipeline plus the repositories the read API needs.
type engine struct {
	runner    *etl.Runner
	store     *db.Store
	runs      *repository.RunRepo
	patterns  *repository.PatternRepo
	baselines *repository.BaselineRepo
	alerts    *repository.AlertRepo
}

// openEngine wires the runner. The telemetry source is only opened when
// withSource is set; passes that do not read records run without it.
func (a *app) openEngine(ctx context.Context, withSource, migrate bool) (*engine, error) {
	store, err := a.openStore(ctx, migrate)
	if err != nil {
		return nil, err
	}
	// Fail before a run is recorded; an unmigrated store has no run table.
	if err := storeReady(store)(ctx); err != nil {
		return nil, err
	}

	var src domain.TelemetrySource = unavailableSource{}
	if withSource {
		s, err := a.openSource(ctx)
		if err != nil {
			return nil, err
		}
		src = s
	}

	e := &engine{
		store:     store,
		runs:      repository.NewRunRepo(store),
		patterns:  repository.NewPatternRepo(store),
		baselines: repository.NewBaselineRepo(store),
		alerts:    repository.NewAlertRepo(store),
	}
	e.runner = etl.NewRunner(etl.Deps{
		Source:      src,
		Store:       repository.NewPassStore(store),
		Runs:        e.runs,
		Baselines:   e.baselines,
		Patterns:    e.patterns,
		Alerts:      e.alerts,
		Executions:  repository.NewExecutionRepo(store),
		Health:      repository.NewHealthRepo(store, a.staleThresholds()),
		Notifier:    a.notifier(),
		Maintenance: repository.NewMaintenanceRepo(store),
		Ready:       storeReady(store),
	}, etl.ConfigFromEngine(a.cfg.Engine), a.logger.With("component", "etl"))
	return e, nil
}

// storeReady fails while schema migrations are pending.
func storeReady(store *db.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		version, pending, err := db.MigrationStatus(ctx, store.Write)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		if pending {
			return fmt.Errorf("schema at version %d has pending migrations; run `querypulse migrate`", version)
		}
		return nil
	}
}

var errNoSource = errors.New("telemetry source not opened for this command")

// unavailableSource stands in for the source in commands that never fetch.
type unavailableSource struct{}

func (unavailableSource) Fetch(context.Context, domain.Window, string) ([]domain.RawExecutionRecord, error) {
	return nil, errNoSource
}

func (unavailableSource) Ping(context.Context) error { return errNoSource }
