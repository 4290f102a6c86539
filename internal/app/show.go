package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"spy-nav-tracker/internal/render"
	"spy-nav-tracker/internal/storage"
)

type historyStore interface {
	storage.SampleStore
	storage.FailureStore
	storage.AlertStore
}

// Show prints recent samples, oldest first, and optionally recent failures and alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}
	return a.showHistory(ctx, store, opts)
}

func (a *App) showHistory(ctx context.Context, store historyStore, opts ShowOptions) error {
	total, err := store.CountSamples(ctx)
	if err != nil {
		return err
	}
	records, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
	} else {
		fmt.Fprintf(a.Out, "showing %d of %d stored samples\n", len(records), total)
		slices.Reverse(records)
		if err := render.WriteTable(a.Out, storage.SamplesFromRecords(records)); err != nil {
			return err
		}
	}

	if opts.Failures {
		failures, err := store.ListRecentFailures(ctx, opts.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out)
		if err := writeFailures(a.Out, failures); err != nil {
			return err
		}
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out)
		if err := writeAlerts(a.Out, alerts); err != nil {
			return err
		}
	}
	return nil
}

func writeFailures(out io.Writer, failures []storage.FailureRecord) error {
	if len(failures) == 0 {
		fmt.Fprintln(out, "no failures recorded")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLegs\tSuppressed\tMessage")
	for _, f := range failures {
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\n",
			f.OccurredAt.UTC().Format(time.RFC3339),
			strings.Join(f.Legs, ","),
			f.Suppressed,
			sanitizeInline(f.Message),
		)
	}
	return writer.Flush()
}

func writeAlerts(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts recorded")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sample (UTC)\tDirection\tDifference\tThreshold\tChannels")
	for _, al := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			al.SampleTS.UTC().Format(time.RFC3339),
			al.Direction,
			al.Difference.StringFixed(2),
			al.Threshold.String(),
			strings.Join(al.Channels, ","),
		)
	}
	return writer.Flush()
}

// pruneAlerts drops alert records older than alerting.retention. Zero keeps everything.
func (a *App) pruneAlerts(ctx context.Context, store storage.AlertStore, now time.Time) {
	retention := a.Config.Alerting.Retention
	if store == nil || retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
		a.Logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune old alerts")
		return
	}
	a.Logger.Debug().Time("cutoff", cutoff).Msg("pruned old alerts")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
