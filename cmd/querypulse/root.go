package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"querypulse/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// rootOptions carries persistent flags and the app built from them.
type rootOptions struct {
	envFile  string
	output   string
	logLevel string
	app      *app
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	if opts.app != nil {
		if cerr := opts.app.close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Error: close: %v\n", cerr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "querypulse",
		Short: "Query telemetry normalization, baselines and anomaly alerts",
		Long: "querypulse reads query execution telemetry, groups it into normalized patterns,\n" +
			"maintains per-scope performance baselines and raises deduplicated alerts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := validateOutputFormat(opts.output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			logger, closer := newLogger(cfg)
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}
			opts.app = &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newCatchupCmd(opts),
		newBaselineCmd(opts),
		newPurgeCmd(opts),
		newHealthCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

func validateOutputFormat(output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": version, "commit": commit})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "querypulse %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
