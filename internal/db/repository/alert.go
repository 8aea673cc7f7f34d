package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.AlertRepository = (*AlertRepo)(nil)

const alertColumns = `id, dedup_key, category, severity, pattern_hash, execution_id, workspace, user_name,
    subject, message, suggested_action, observed_value, threshold_value, occurred_at, created_at`

const insertAlertSQL = `
INSERT INTO alerts (` + alertColumns + `) VALUES (
    :id, :dedup_key, :category, :severity, :pattern_hash, :execution_id, :workspace, :user_name,
    :subject, :message, :suggested_action, :observed_value, :threshold_value, :occurred_at, :created_at
)
ON CONFLICT (dedup_key) DO NOTHING`

type alertRow struct {
	ID              string  `db:"id"`
	DedupKey        string  `db:"dedup_key"`
	Category        string  `db:"category"`
	Severity        string  `db:"severity"`
	PatternHash     string  `db:"pattern_hash"`
	ExecutionID     string  `db:"execution_id"`
	Workspace       string  `db:"workspace"`
	User            string  `db:"user_name"`
	Subject         string  `db:"subject"`
	Message         string  `db:"message"`
	SuggestedAction string  `db:"suggested_action"`
	ObservedValue   float64 `db:"observed_value"`
	ThresholdValue  float64 `db:"threshold_value"`
	OccurredAt      int64   `db:"occurred_at"`
	CreatedAt       int64   `db:"created_at"`
}

func alertRowFromDomain(a *domain.Alert) alertRow {
	row := alertRow{
		ID:              a.ID,
		DedupKey:        a.DedupKey,
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
		OccurredAt:      toMillis(a.OccurredAt),
	}
	if row.ID == "" {
		row.ID = domain.NewID()
	}
	if !a.CreatedAt.IsZero() {
		row.CreatedAt = toMillis(a.CreatedAt)
	}
	return row
}

func (r *alertRow) toDomain() domain.Alert {
	return domain.Alert{
		ID:              r.ID,
		DedupKey:        r.DedupKey,
		Category:        domain.AlertCategory(r.Category),
		Severity:        domain.Severity(r.Severity),
		PatternHash:     r.PatternHash,
		ExecutionID:     r.ExecutionID,
		Workspace:       r.Workspace,
		User:            r.User,
		Subject:         r.Subject,
		Message:         r.Message,
		SuggestedAction: r.SuggestedAction,
		ObservedValue:   r.ObservedValue,
		ThresholdValue:  r.ThresholdValue,
		OccurredAt:      fromMillis(r.OccurredAt),
		CreatedAt:       fromMillis(r.CreatedAt),
	}
}

// AlertRepo implements AlertRepository using SQLite.
type AlertRepo struct {
	write *sqlx.DB
	read  *sqlx.DB
}

// NewAlertRepo creates a new AlertRepo.
func NewAlertRepo(store *db.Store) *AlertRepo {
	return &AlertRepo{write: store.Write, read: store.Read}
}

// List returns alerts newest first.
func (r *AlertRepo) List(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	b := sq.Select(alertColumns).From("alerts")
	if filter.Category != nil {
		b = b.Where(sq.Eq{"category": string(*filter.Category)})
	}
	if filter.Severity != nil {
		b = b.Where(sq.Eq{"severity": string(*filter.Severity)})
	}
	if filter.Workspace != nil {
		b = b.Where(sq.Eq{"workspace": *filter.Workspace})
	}
	if filter.From != nil {
		b = b.Where(sq.GtOrEq{"occurred_at": toMillis(*filter.From)})
	}
	if filter.To != nil {
		b = b.Where(sq.Lt{"occurred_at": toMillis(*filter.To)})
	}
	b = paginate(b.OrderBy("occurred_at DESC", "id"), filter.Page)

	var rows []alertRow
	if err := selectAll(ctx, r.read, &rows, b); err != nil {
		return nil, err
	}
	out := make([]domain.Alert, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// PurgeOccurredBefore deletes alerts that occurred before the cutoff.
func (r *AlertRepo) PurgeOccurredBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r.write, "alerts", "occurred_at", before)
}
