package snow

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DescriptiveStatistics summarizes the distribution of daily snow-cover fractions
// over the whole requested range, independently of season boundaries.
type DescriptiveStatistics struct {
	ValidDays     int                `json:"validDays"`
	GapDays       int                `json:"gapDays"`
	Mean          *float64           `json:"mean"`
	Median        *float64           `json:"median"`
	StdDev        *float64           `json:"stdDev"`
	Min           *float64           `json:"min"`
	Max           *float64           `json:"max"`
	Q25           *float64           `json:"q25"`
	Q75           *float64           `json:"q75"`
	PeakDate      *time.Time         `json:"peakDate"`
	HighSnowDays  int                `json:"highSnowDays"`
	HighSnowRatio *float64           `json:"highSnowRatio"`
	Monthly       []PeriodStatistics `json:"monthly"`
	Annual        []PeriodStatistics `json:"annual"`
}

// PeriodStatistics is the fraction mean/spread over one calendar month (across
// all years) or one calendar year.
type PeriodStatistics struct {
	Period int      `json:"period"` // month 1-12 or calendar year
	Mean   float64  `json:"mean"`
	StdDev *float64 `json:"stdDev"`
	Count  int      `json:"count"`
}

// Describe computes distribution statistics over non-gap days that carry a cover
// fraction. High-snow days are those whose fraction exceeds the snow threshold.
func Describe(series CanonicalSeries, opts Options) DescriptiveStatistics {
	var d DescriptiveStatistics
	var values []float64
	byMonth := make(map[int][]float64)
	byYear := make(map[int][]float64)
	peak := -1

	for i, o := range series.Days {
		if o.IsGap {
			d.GapDays++
			continue
		}
		d.ValidDays++
		if o.SnowCoverFraction == nil {
			continue
		}
		v := *o.SnowCoverFraction
		values = append(values, v)
		byMonth[int(o.Date.Month())] = append(byMonth[int(o.Date.Month())], v)
		byYear[o.Date.Year()] = append(byYear[o.Date.Year()], v)
		if v > opts.SnowThreshold {
			d.HighSnowDays++
		}
		if peak < 0 || v > *series.Days[peak].SnowCoverFraction {
			peak = i
		}
	}
	if len(values) == 0 {
		return d
	}

	mean, std := stat.MeanStdDev(values, nil)
	d.Mean = float64Ptr(mean)
	if len(values) > 1 {
		d.StdDev = float64Ptr(std)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	d.Min = float64Ptr(sorted[0])
	d.Max = float64Ptr(sorted[len(sorted)-1])
	d.Median = float64Ptr(stat.Quantile(0.5, stat.LinInterp, sorted, nil))
	d.Q25 = float64Ptr(stat.Quantile(0.25, stat.LinInterp, sorted, nil))
	d.Q75 = float64Ptr(stat.Quantile(0.75, stat.LinInterp, sorted, nil))
	d.PeakDate = timePtr(series.Days[peak].Date)
	d.HighSnowRatio = float64Ptr(float64(d.HighSnowDays) / float64(len(values)))
	d.Monthly = periodStatistics(byMonth)
	d.Annual = periodStatistics(byYear)
	return d
}

func periodStatistics(groups map[int][]float64) []PeriodStatistics {
	out := make([]PeriodStatistics, 0, len(groups))
	for _, k := range SortedKeys(groups) {
		vals := groups[k]
		mean, std := stat.MeanStdDev(vals, nil)
		ps := PeriodStatistics{Period: k, Mean: mean, Count: len(vals)}
		if len(vals) > 1 {
			ps.StdDev = float64Ptr(std)
		}
		out = append(out, ps)
	}
	return out
}
