package render

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"spy-nav-tracker/internal/series"
)

// ErrTooFewSamples is returned by WritePNG when a line cannot be drawn.
var ErrTooFewSamples = errors.New("render: at least two samples are required for a chart")

// Downsample picks max evenly spaced samples, always keeping the first and last.
func Downsample(samples []series.Sample, max int) []series.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]series.Sample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

// WriteCSV writes one row per sample with a header.
func WriteCSV(w io.Writer, samples []series.Sample) error {
	writer := csv.NewWriter(w)

	header := []string{"timestamp", "nav", "price", "difference", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			s.Timestamp().UTC().Format(time.RFC3339),
			s.NAV().String(),
			s.Price().String(),
			s.Difference().StringFixed(series.DifferencePlaces),
			string(s.Source()),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteTable prints samples as an aligned text table.
func WriteTable(w io.Writer, samples []series.Sample) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tNAV\tPrice\tDifference\tSource")
	for _, s := range samples {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			s.Timestamp().UTC().Format(time.RFC3339),
			s.NAV().StringFixed(2),
			s.Price().StringFixed(2),
			s.Difference().StringFixed(series.DifferencePlaces),
			s.Source(),
		)
	}
	return writer.Flush()
}

// WritePNG draws NAV and price on the primary axis and the difference on the secondary axis.
func WritePNG(w io.Writer, samples []series.Sample, title string) error {
	if len(samples) < 2 {
		return ErrTooFewSamples
	}

	x := make([]time.Time, len(samples))
	nav := make([]float64, len(samples))
	price := make([]float64, len(samples))
	diff := make([]float64, len(samples))

	for i, s := range samples {
		x[i] = s.Timestamp()
		nav[i] = s.NAV().InexactFloat64()
		price[i] = s.Price().InexactFloat64()
		diff[i] = s.Difference().InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  strings.TrimSpace(title),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "NAV / Price (USD)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Difference (USD)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "NAV",
				XValues: x,
				YValues: nav,
			},
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Difference",
				XValues: x,
				YValues: diff,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}
