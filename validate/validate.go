// Package validate inspects the metrics table a trial produces and decides
// whether the trial's output is usable.
//
// Validation failures are deliberately indistinguishable from phase failures
// for retry purposes: the whole trial is retried from the top, never resumed.
package validate

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/zhangjyr/gocsv"

	"github.com/oranbench/gridrunner/iox"
	"github.com/oranbench/gridrunner/trialerr"
)

// DefaultTolerance is the allowed deviation between observed metric span
// and expected traffic duration.
const DefaultTolerance = 10 * time.Second

// metricsRow maps the columns validation cares about; the table carries
// many more metric columns which are ignored here.
type metricsRow struct {
	Timestamp string `csv:"Timestamp"`
}

// Report summarizes a successful validation.
type Report struct {
	// Rows is the number of data rows in the table.
	Rows int
	// Span is the observed duration between earliest and latest timestamps.
	Span time.Duration
}

// MetricsTable validates the metrics table at path against the expected
// traffic-generation duration:
//
//   - the file must exist,
//   - it must contain more than a header row,
//   - it must have a recognizable Timestamp column,
//   - the span between earliest and latest timestamps must fall within
//     tolerance of expected.
//
// Any violation returns ErrValidationFailure.
func MetricsTable(path string, expected, tolerance time.Duration) (*Report, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, trialerr.Wrap(trialerr.ErrValidationFailure, "validate",
			fmt.Errorf("metrics table %s missing", path))
	}
	defer iox.DiscardClose(f)

	var rows []*metricsRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, trialerr.Wrap(trialerr.ErrValidationFailure, "validate",
			fmt.Errorf("parse %s: %w", path, err))
	}
	if len(rows) == 0 {
		return nil, trialerr.Wrap(trialerr.ErrValidationFailure, "validate",
			fmt.Errorf("%s contains only a header row", path))
	}

	var earliest, latest time.Time
	for i, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, trialerr.Wrap(trialerr.ErrValidationFailure, "validate",
				fmt.Errorf("%s row %d: %w", path, i+1, err))
		}
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
		if latest.IsZero() || ts.After(latest) {
			latest = ts
		}
	}

	span := latest.Sub(earliest)
	drift := span - expected
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return nil, trialerr.Wrap(trialerr.ErrValidationFailure, "validate",
			fmt.Errorf("%s spans %s, want %s within %s", path, span, expected, tolerance))
	}

	return &Report{Rows: len(rows), Span: span}, nil
}

// timestampLayouts are the wall-clock layouts the collector may emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts wall-clock layouts and raw Unix seconds
// (integer or fractional).
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		sec, frac := math.Modf(secs)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
