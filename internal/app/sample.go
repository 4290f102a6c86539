package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"spy-nav-tracker/internal/collector"
	"spy-nav-tracker/internal/series"
)

// Sample runs exactly one collection cycle and prints the result.
func (a *App) Sample(ctx context.Context, opts SampleOptions) error {
	col := a.newCollector(nil)
	navURL, priceURL := col.URLs()
	a.Logger.Debug().Str("nav_url", navURL).Str("price_url", priceURL).Msg("collecting one sample")

	sample, err := col.Collect(ctx)
	if err != nil {
		a.printFailure(err)
		return fmt.Errorf("sample failed: %s", collector.UserMessage(err))
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		return enc.Encode(map[string]any{
			"timestamp":  sample.Timestamp().UTC(),
			"nav":        json.Number(sample.NAV().String()),
			"price":      json.Number(sample.Price().String()),
			"difference": json.Number(sample.Difference().StringFixed(series.DifferencePlaces)),
		})
	}

	fmt.Fprintf(a.Out, "nav=%s price=%s difference=%s\n",
		sample.NAV().String(),
		sample.Price().String(),
		sample.Difference().StringFixed(series.DifferencePlaces),
	)
	return nil
}

func (a *App) printFailure(err error) {
	var failure *collector.CollectionFailure
	if !errors.As(err, &failure) {
		fmt.Fprintf(a.Out, "error: %v\n", err)
		return
	}
	for _, leg := range []collector.LegOutcome{failure.NAV, failure.Price} {
		if leg.OK() {
			fmt.Fprintf(a.Out, "%-5s ok      %s\n", leg.Leg, leg.URL)
			continue
		}
		fmt.Fprintf(a.Out, "%-5s %s  %s\n", leg.Leg, collector.UserMessage(leg.Err), leg.URL)
	}
}
