package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"querypulse/internal/domain"
	"querypulse/internal/etl"
)

// timeFlag is a pflag.Value holding an optional RFC 3339 timestamp.
type timeFlag struct {
	t   time.Time
	set bool
}

var _ pflag.Value = (*timeFlag)(nil)

func (f *timeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.t.Format(time.RFC3339)
}

func (f *timeFlag) Set(s string) error {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("expected an RFC 3339 timestamp such as 2024-07-01T10:00:00Z")
	}
	f.t, f.set = t.UTC(), true
	return nil
}

func (f *timeFlag) Type() string { return "timestamp" }

// or returns the flag value, or def when the flag was not given.
func (f *timeFlag) or(def time.Time) time.Time {
	if f.set {
		return f.t
	}
	return def
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		start, end timeFlag
		partition  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the record pass for one explicit window",
		Long: "Fetches every record that started in [start, end), annotates and merges it,\n" +
			"and emits alerts. A window that already completed is not processed again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !start.set || !end.set {
				return errors.New("--start and --end are required")
			}
			w, err := domain.NewWindow(start.t, end.t)
			if err != nil {
				return err
			}
			e, err := opts.app.openEngine(cmd.Context(), true, false)
			if err != nil {
				return err
			}
			res, err := e.runner.RunWindow(cmd.Context(), w, partition)
			if res != nil {
				if perr := printRuns(cmd.OutOrStdout(), opts.output, []*etl.RunResult{res}); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().Var(&start, "start", "Window start, inclusive (RFC 3339)")
	cmd.Flags().Var(&end, "end", "Window end, exclusive (RFC 3339)")
	cmd.Flags().StringVar(&partition, "partition", "", "Workspace to process; empty processes all")
	return cmd
}

func newCatchupCmd(opts *rootOptions) *cobra.Command {
	var now timeFlag
	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Run every pending record-pass window since the watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.app.openEngine(cmd.Context(), true, false)
			if err != nil {
				return err
			}
			results, err := e.runner.RunPending(cmd.Context(), now.or(time.Now()))
			if perr := printRuns(cmd.OutOrStdout(), opts.output, results); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().Var(&now, "now", "Treat this instant as the current time (RFC 3339)")
	return cmd
}

func newBaselineCmd(opts *rootOptions) *cobra.Command {
	var windowEnd timeFlag
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Recompute performance baselines",
		Long: "Recomputes the baseline of every (pattern, workspace, user) key from the\n" +
			"trailing baseline window ending at --window-end (default: start of today, UTC).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.app.openEngine(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			end := windowEnd.or(time.Now().UTC().Truncate(24 * time.Hour))
			res, err := e.runner.Baseline(cmd.Context(), end)
			if res != nil {
				if perr := printRuns(cmd.OutOrStdout(), opts.output, []*etl.RunResult{res}); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().Var(&windowEnd, "window-end", "End of the baseline window (RFC 3339)")
	return cmd
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	var now timeFlag
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete rows older than their retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.app.openEngine(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			res, err := e.runner.Retention(cmd.Context(), now.or(time.Now()))
			if res != nil {
				if perr := printPurge(cmd.OutOrStdout(), opts.output, res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().Var(&now, "now", "Treat this instant as the current time (RFC 3339)")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report row counts and freshness of the output tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.app.openEngine(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			report, err := e.runner.Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := printHealth(cmd.OutOrStdout(), opts.output, report); err != nil {
				return err
			}
			if !report.Healthy() {
				return fmt.Errorf("stale tables: %s", strings.Join(report.Stale, ", "))
			}
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.app.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			ready := storeReady(store)
			if err := ready(cmd.Context()); err != nil {
				return err
			}
			opts.app.logger.Info("store schema is up to date", "path", opts.app.cfg.MetaDBPath)
			return nil
		},
	}
}
