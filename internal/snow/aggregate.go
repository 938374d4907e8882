package snow

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minTrendSeasons is the fewest qualifying seasons a trend is fitted on.
const minTrendSeasons = 3

// Aggregate combines per-season statistics into multi-year means, interannual
// variability and timing trends. Only complete and partial seasons enter the
// averages; insufficient seasons stay in PerYear for transparency.
func Aggregate(perYear []SeasonStatistics, opts Options) MultiYearSummary {
	ordered := make([]SeasonStatistics, len(perYear))
	copy(ordered, perYear)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].YearLabel < ordered[j].YearLabel })

	var onset, peakDay, peakVal, melt, persistence series
	qualifying := 0
	for _, s := range ordered {
		if !s.DataQuality.Qualifies() {
			continue
		}
		qualifying++
		year := float64(s.YearLabel)
		onset.addInt(year, s.OnsetDay)
		peakDay.addInt(year, s.PeakDay)
		melt.addInt(year, s.MeltOutDay)
		if s.PeakValue != nil {
			peakVal.add(year, *s.PeakValue)
		}
		if s.OnsetDate != nil {
			persistence.add(year, float64(s.PersistenceDays))
		}
	}

	onsetTrend := onset.trend(opts.TrendSlopeThreshold)
	return MultiYearSummary{
		PerYear:             ordered,
		QualifyingSeasons:   qualifying,
		MeanOnsetDay:        onset.mean(),
		MeanPeakDay:         peakDay.mean(),
		MeanPeakValue:       peakVal.mean(),
		MeanMeltOutDay:      melt.mean(),
		MeanPersistenceDays: persistence.mean(),
		OnsetStdDev:         onset.stdDev(),
		MeltOutStdDev:       melt.stdDev(),
		PersistenceStdDev:   persistence.stdDev(),
		TrendDirection:      onsetTrend.Direction,
		OnsetTrend:          onsetTrend,
		MeltOutTrend:        melt.trend(opts.TrendSlopeThreshold),
	}
}

// series collects (year, value) pairs of one metric.
type series struct {
	years  []float64
	values []float64
}

func (s *series) add(year, v float64) {
	s.years = append(s.years, year)
	s.values = append(s.values, v)
}

func (s *series) addInt(year float64, v *int) {
	if v != nil {
		s.add(year, float64(*v))
	}
}

func (s *series) mean() *float64 {
	if len(s.values) == 0 {
		return nil
	}
	return float64Ptr(stat.Mean(s.values, nil))
}

// stdDev is the sample standard deviation; undefined below two values.
func (s *series) stdDev() *float64 {
	if len(s.values) < 2 {
		return nil
	}
	return float64Ptr(stat.StdDev(s.values, nil))
}

// trend fits value = alpha + beta*year by least squares and classifies beta.
func (s *series) trend(threshold float64) Trend {
	t := Trend{Direction: TrendInsufficientData, Seasons: len(s.values)}
	if len(s.values) < minTrendSeasons {
		return t
	}
	if stat.Variance(s.years, nil) == 0 {
		t.Direction = TrendStable
		return t
	}
	_, beta := stat.LinearRegression(s.years, s.values, nil, false)
	if math.IsNaN(beta) {
		t.Direction = TrendStable
		return t
	}
	t.SlopeDaysPerYear = float64Ptr(beta)
	switch {
	case beta > threshold:
		t.Direction = TrendIncreasing
	case beta < -threshold:
		t.Direction = TrendDecreasing
	default:
		t.Direction = TrendStable
	}
	return t
}
