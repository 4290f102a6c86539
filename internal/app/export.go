package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"spy-nav-tracker/internal/render"
	"spy-nav-tracker/internal/storage"
)

// Export renders historical data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	samples := render.Downsample(storage.SamplesFromRecords(records), opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(samples)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(f *os.File) error { return render.WriteCSV(f, samples) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(f *os.File) error { return render.WritePNG(f, samples, "SPY NAV vs Price") }); err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
