package snow

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fraction(date time.Time, f float64) models.RawRecord {
	return models.RawRecord{Date: date, SnowCoverFraction: &f}
}

func flag(date time.Time, present bool) models.RawRecord {
	return models.RawRecord{Date: date, SnowPresent: &present}
}

// TestNormalize_InvalidRange verifies that start after end is rejected before computation.
func TestNormalize_InvalidRange(t *testing.T) {
	_, err := Normalize(nil, day(2021, 3, 2), day(2021, 3, 1))
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Normalize() error = %v, want ErrInvalidRange", err)
	}
	var rangeErr *InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("Normalize() error type = %T, want *InvalidRangeError", err)
	}
	if !rangeErr.Start.Equal(day(2021, 3, 2)) {
		t.Errorf("InvalidRangeError.Start = %v, want 2021-03-02", rangeErr.Start)
	}
}

// TestNormalize_LengthAndContiguity verifies one entry per calendar day, in order,
// for a range spanning a leap day, with missing days as explicit gaps.
func TestNormalize_LengthAndContiguity(t *testing.T) {
	start, end := day(2019, 10, 1), day(2020, 9, 30)
	records := []models.RawRecord{
		fraction(day(2020, 2, 29), 0.8),
		fraction(day(2019, 10, 5), 0.1),
		fraction(day(2018, 1, 1), 0.9), // out of range
	}
	series, err := Normalize(records, start, end)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if series.Len() != 366 {
		t.Fatalf("Len() = %d, want 366", series.Len())
	}
	for i := 1; i < series.Len(); i++ {
		if got := series.Days[i].Date.Sub(series.Days[i-1].Date); got != 24*time.Hour {
			t.Fatalf("day %d follows previous by %v, want 24h", i, got)
		}
	}
	gaps := 0
	for _, d := range series.Days {
		if d.IsGap {
			gaps++
		}
	}
	if gaps != 364 {
		t.Errorf("gap days = %d, want 364", gaps)
	}
	if series.Days[4].IsGap || *series.Days[4].SnowCoverFraction != 0.1 {
		t.Errorf("2019-10-05 = %+v, want fraction 0.1", series.Days[4])
	}
}

// TestNormalize_Centuries covers a range longer than time.Duration can hold:
// 1700-01-01..2099-12-31 is one 400-year Gregorian cycle of 146097 days.
func TestNormalize_Centuries(t *testing.T) {
	start, end := day(1700, 1, 1), day(2099, 12, 31)
	if got := daysBetween(start, end) + 1; got != 146097 {
		t.Fatalf("daysBetween()+1 = %d, want 146097", got)
	}
	series, err := Normalize([]models.RawRecord{fraction(end, 0.7)}, start, end)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if series.Len() != 146097 {
		t.Fatalf("Len() = %d, want 146097", series.Len())
	}
	last := series.Days[series.Len()-1]
	if !last.Date.Equal(end) || last.IsGap {
		t.Errorf("last day = %v gap=%v, want %v with data", last.Date, last.IsGap, end)
	}
	if got := daysBetween(end, start); got != -146096 {
		t.Errorf("daysBetween(end, start) = %d, want -146096", got)
	}
}

// TestNormalize_SingleDay verifies that start == end yields exactly one day.
func TestNormalize_SingleDay(t *testing.T) {
	series, err := Normalize(nil, day(2021, 1, 1), day(2021, 1, 1))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if series.Len() != 1 || !series.Days[0].IsGap {
		t.Errorf("Normalize() = %+v, want one gap day", series.Days)
	}
}

// TestNormalize_FractionCleaning verifies out-of-range and non-numeric fractions
// become gaps while rounding noise is clamped.
func TestNormalize_FractionCleaning(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantGap bool
		want    float64
	}{
		{"in range", 0.4, false, 0.4},
		{"zero", 0, false, 0},
		{"one", 1, false, 1},
		{"noise above one", 1 + 1e-12, false, 1},
		{"noise below zero", -1e-12, false, 0},
		{"percent value", 45, true, 0},
		{"negative", -0.2, true, 0},
		{"NaN", math.NaN(), true, 0},
		{"Inf", math.Inf(1), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := day(2021, 1, 1)
			series, err := Normalize([]models.RawRecord{fraction(d, tt.value)}, d, d)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			obs := series.Days[0]
			if obs.IsGap != tt.wantGap {
				t.Fatalf("IsGap = %v, want %v", obs.IsGap, tt.wantGap)
			}
			if !tt.wantGap && *obs.SnowCoverFraction != tt.want {
				t.Errorf("fraction = %v, want %v", *obs.SnowCoverFraction, tt.want)
			}
		})
	}
}

// TestNormalize_PoolsDuplicates verifies same-day records are averaged and flags
// decided by majority, with ties left undetermined.
func TestNormalize_PoolsDuplicates(t *testing.T) {
	d := day(2021, 1, 1)
	swe := 10.0
	badSWE := -5.0
	records := []models.RawRecord{
		fraction(d, 0.2),
		fraction(d, 0.6),
		{Date: d.Add(13 * time.Hour), SWEmm: &swe},
		{Date: d, SWEmm: &badSWE},
		flag(d, true),
		flag(d, false),
	}
	series, err := Normalize(records, d, d)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	obs := series.Days[0]
	if obs.IsGap {
		t.Fatal("IsGap = true, want false")
	}
	if got := *obs.SnowCoverFraction; math.Abs(got-0.4) > 1e-12 {
		t.Errorf("fraction = %v, want 0.4", got)
	}
	if obs.SWEmm == nil || *obs.SWEmm != 10 {
		t.Errorf("SWEmm = %v, want 10", obs.SWEmm)
	}
	if obs.SnowPresent != nil {
		t.Errorf("SnowPresent = %v, want nil on tie", *obs.SnowPresent)
	}
}

// TestNormalize_SWEOnlyIsGap verifies that a day with SWE but no snow signal is a gap.
func TestNormalize_SWEOnlyIsGap(t *testing.T) {
	d := day(2021, 1, 1)
	swe := 3.0
	series, err := Normalize([]models.RawRecord{{Date: d, SWEmm: &swe}}, d, d)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !series.Days[0].IsGap {
		t.Error("IsGap = false, want true")
	}
}
