package snow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSnowThreshold       = 0.5
	DefaultMinConsecutiveDays  = 3
	DefaultElevationBandWidthM = 200.0
	DefaultTrendSlopeThreshold = 1.0 // days per year
)

// MonthDay is a recurring calendar day, used for the season boundary.
type MonthDay struct {
	Month time.Month
	Day   int
}

// DefaultSeasonStart is the start of the hydrologic (water) year.
var DefaultSeasonStart = MonthDay{Month: time.October, Day: 1}

// ParseMonthDay parses "MM-DD" (e.g. "10-01").
func ParseMonthDay(s string) (MonthDay, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("%w: season start %q must be MM-DD", ErrInvalidOptions, s)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthDay{}, fmt.Errorf("%w: season start month %q: %v", ErrInvalidOptions, parts[0], err)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthDay{}, fmt.Errorf("%w: season start day %q: %v", ErrInvalidOptions, parts[1], err)
	}
	md := MonthDay{Month: time.Month(m), Day: d}
	if err := md.validate(); err != nil {
		return MonthDay{}, err
	}
	return md, nil
}

func (md MonthDay) validate() error {
	if md.Month < time.January || md.Month > time.December {
		return fmt.Errorf("%w: season start month %d out of range", ErrInvalidOptions, md.Month)
	}
	// Validate against a leap year so that 02-29 is accepted.
	if md.Day < 1 || md.Day > daysIn(md.Month, 2000) {
		return fmt.Errorf("%w: season start day %d out of range for %s", ErrInvalidOptions, md.Day, md.Month)
	}
	return nil
}

// String formats as MM-DD.
func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

// In returns the boundary date in the given year. A 02-29 boundary falls on
// 02-28 in non-leap years.
func (md MonthDay) In(year int) time.Time {
	day := md.Day
	if n := daysIn(md.Month, year); day > n {
		day = n
	}
	return time.Date(year, md.Month, day, 0, 0, 0, 0, time.UTC)
}

// Options tunes the statistics engine. Zero values are not defaults; use DefaultOptions.
type Options struct {
	SeasonStart         MonthDay
	SnowThreshold       float64
	MinConsecutiveDays  int
	ElevationBandWidthM float64 // whole metres
	TrendSlopeThreshold float64
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		SeasonStart:         DefaultSeasonStart,
		SnowThreshold:       DefaultSnowThreshold,
		MinConsecutiveDays:  DefaultMinConsecutiveDays,
		ElevationBandWidthM: DefaultElevationBandWidthM,
		TrendSlopeThreshold: DefaultTrendSlopeThreshold,
	}
}

// Validate checks option bounds.
func (o Options) Validate() error {
	if err := o.SeasonStart.validate(); err != nil {
		return err
	}
	if math.IsNaN(o.SnowThreshold) || o.SnowThreshold <= 0 || o.SnowThreshold > 1 {
		return fmt.Errorf("%w: snow threshold %v must be in (0, 1]", ErrInvalidOptions, o.SnowThreshold)
	}
	if o.MinConsecutiveDays < 1 {
		return fmt.Errorf("%w: min consecutive days %d must be >= 1", ErrInvalidOptions, o.MinConsecutiveDays)
	}
	// Bands are keyed by their integer lower bound, so widths are whole metres.
	w := o.ElevationBandWidthM
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 1 || w != math.Trunc(w) {
		return fmt.Errorf("%w: elevation band width %v must be a whole number of metres >= 1", ErrInvalidOptions, w)
	}
	if math.IsNaN(o.TrendSlopeThreshold) || o.TrendSlopeThreshold < 0 {
		return fmt.Errorf("%w: trend slope threshold %v must be >= 0", ErrInvalidOptions, o.TrendSlopeThreshold)
	}
	return nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// truncateDay maps t to UTC midnight of its own calendar day.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole days from a to b (both UTC midnight). It counts
// from Unix seconds because time.Duration saturates after about 292 years.
func daysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60
