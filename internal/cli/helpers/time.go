package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange is a closed time window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TimeFlags holds the flag values for time range parsing.
type TimeFlags struct {
	Since string
	From  string
	To    string
}

// AddFlags adds time range flags to a FlagSet.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Since, "since", "1h", "Show entries since duration (e.g. 5m, 1h)")
	flags.StringVar(&f.From, "from", "", "Start time (RFC3339 or 'now'); overrides --since")
	flags.StringVar(&f.To, "to", "", "End time (RFC3339 or 'now')")
}

// Parse returns the window selected by the flags. An explicit --from wins
// over --since.
func (f *TimeFlags) Parse(now time.Time) (TimeRange, error) {
	if f.From != "" {
		start, err := parseTime(f.From, now)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --from time: %w", err)
		}
		end := now
		if f.To != "" {
			if end, err = parseTime(f.To, now); err != nil {
				return TimeRange{}, fmt.Errorf("invalid --to time: %w", err)
			}
		}
		if end.Before(start) {
			return TimeRange{}, fmt.Errorf("end time cannot be before start time")
		}
		return TimeRange{Start: start, End: end}, nil
	}

	since := time.Hour
	if f.Since != "" {
		d, err := time.ParseDuration(f.Since)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --since duration: %w", err)
		}
		if d < 0 {
			return TimeRange{}, fmt.Errorf("invalid --since duration: %s is negative", f.Since)
		}
		since = d
	}
	return TimeRange{Start: now.Add(-since), End: now}, nil
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q (use RFC3339)", s)
}
