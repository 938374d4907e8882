package snow

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseMonthDay(t *testing.T) {
	tests := []struct {
		in      string
		want    MonthDay
		wantErr bool
	}{
		{in: "10-01", want: MonthDay{Month: time.October, Day: 1}},
		{in: " 02-29 ", want: MonthDay{Month: time.February, Day: 29}},
		{in: "1-5", want: MonthDay{Month: time.January, Day: 5}},
		{in: "13-01", wantErr: true},
		{in: "04-31", wantErr: true},
		{in: "02-30", wantErr: true},
		{in: "10/01", wantErr: true},
		{in: "oct-01", wantErr: true},
		{in: "00-10", wantErr: true},
		{in: "10", wantErr: true},
		{in: "ab-01", wantErr: true},
		{in: "10-xx", wantErr: true},
		{in: "2021-10-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMonthDay(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("ParseMonthDay(%q) error = %v, want ErrInvalidOptions", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMonthDay(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMonthDay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMonthDay_String(t *testing.T) {
	if got := (MonthDay{Month: time.March, Day: 7}).String(); got != "03-07" {
		t.Errorf("String() = %q, want 03-07", got)
	}
}

func TestMonthDay_In_LeapDayClamp(t *testing.T) {
	md := MonthDay{Month: time.February, Day: 29}
	if got, want := md.In(2021), time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("In(2021) = %v, want %v", got, want)
	}
	if got, want := md.In(2024), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("In(2024) = %v, want %v", got, want)
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("DefaultOptions().Validate() = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero threshold", func(o *Options) { o.SnowThreshold = 0 }},
		{"threshold above one", func(o *Options) { o.SnowThreshold = 1.01 }},
		{"NaN threshold", func(o *Options) { o.SnowThreshold = math.NaN() }},
		{"zero consecutive days", func(o *Options) { o.MinConsecutiveDays = 0 }},
		{"negative band width", func(o *Options) { o.ElevationBandWidthM = -200 }},
		{"infinite band width", func(o *Options) { o.ElevationBandWidthM = math.Inf(1) }},
		{"fractional band width", func(o *Options) { o.ElevationBandWidthM = 150.5 }},
		{"sub-metre band width", func(o *Options) { o.ElevationBandWidthM = 0.5 }},
		{"negative slope threshold", func(o *Options) { o.TrendSlopeThreshold = -1 }},
		{"bad season start", func(o *Options) { o.SeasonStart = MonthDay{Month: time.June, Day: 31} }},
		{"zero season start", func(o *Options) { o.SeasonStart = MonthDay{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if err := o.Validate(); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestOptions_Validate_ThresholdOneAllowed(t *testing.T) {
	o := DefaultOptions()
	o.SnowThreshold = 1
	o.TrendSlopeThreshold = 0
	if err := o.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
