package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"querypulse/internal/etl"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes tab-separated rows aligned into columns.
func table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeRow := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				_, _ = fmt.Fprint(tw, "\t")
			}
			_, _ = fmt.Fprint(tw, c)
		}
		_, _ = fmt.Fprintln(tw)
	}
	writeRow(header)
	for _, r := range rows {
		writeRow(r)
	}
	return tw.Flush()
}

func count(n int64) string { return humanize.Comma(n) }

func printRuns(w io.Writer, format string, results []*etl.RunResult) error {
	if format == "json" {
		return printJSON(w, results)
	}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		run := res.Run
		status := run.Status
		if res.AlreadyCompleted {
			status += " (already)"
		}
		partition := run.Partition
		if partition == "" {
			partition = "*"
		}
		c := run.Counts
		rows = append(rows, []string{
			run.ID, run.Kind, partition, run.Window.String(), status,
			count(c.RecordsRead), count(c.RecordsProcessed), count(c.RecordsSkipped),
			count(c.RecordsDuplicate), count(c.RecordsFailed),
			count(c.AlertsEmitted), count(c.AlertsSuppressed),
		})
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no pending windows")
		return err
	}
	return table(w, []string{
		"RUN", "KIND", "PARTITION", "WINDOW", "STATUS",
		"READ", "PROCESSED", "SKIPPED", "DUPLICATE", "FAILED", "ALERTS", "SUPPRESSED",
	}, rows)
}

func printPurge(w io.Writer, format string, res *etl.RetentionResult) error {
	if format == "json" {
		return printJSON(w, res)
	}
	tables := make([]string, 0, len(res.Purged))
	for t := range res.Purged {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{t, count(res.Purged[t])})
	}
	if err := table(w, []string{"TABLE", "PURGED"}, rows); err != nil {
		return err
	}
	switch {
	case res.Vacuumed:
		_, err := fmt.Fprintln(w, "store analyzed and vacuumed")
		return err
	case res.Optimized:
		_, err := fmt.Fprintln(w, "store analyzed")
		return err
	}
	return nil
}

func printHealth(w io.Writer, format string, report *etl.HealthReport) error {
	if format == "json" {
		return printJSON(w, report)
	}
	stale := make(map[string]bool, len(report.Stale))
	for _, t := range report.Stale {
		stale[t] = true
	}
	rows := make([][]string, 0, len(report.Tables))
	for _, t := range report.Tables {
		latest := "never"
		if t.LatestAt != nil {
			latest = humanize.RelTime(*t.LatestAt, report.CheckedAt, "ago", "from now")
		}
		state := "ok"
		if stale[t.Table] {
			state = "STALE"
		}
		threshold := "-"
		if t.StaleAfter > 0 {
			threshold = t.StaleAfter.Round(time.Minute).String()
		}
		rows = append(rows, []string{t.Table, count(t.RowCount), latest, threshold, state})
	}
	return table(w, []string{"TABLE", "ROWS", "LATEST", "STALE AFTER", "STATE"}, rows)
}
