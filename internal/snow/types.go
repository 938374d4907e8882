// Package snow derives snow-season statistics (onset, peak, melt-out, persistence, trends)
// from daily snow-cover and SWE observations. All functions are pure: they take every input
// explicitly and return freshly built values, so independent analyses may run concurrently.
package snow

import "time"

// DailyObservation is one calendar day of the canonical series.
type DailyObservation struct {
	Date              time.Time `json:"date"`
	SnowPresent       *bool     `json:"snowPresent,omitempty"`
	SnowCoverFraction *float64  `json:"snowCoverFraction,omitempty"`
	SWEmm             *float64  `json:"sweMm,omitempty"`
	ElevationM        *float64  `json:"elevationM,omitempty"`
	IsGap             bool      `json:"isGap"`
}

// CanonicalSeries holds exactly one observation per day in [Start, End].
type CanonicalSeries struct {
	Start time.Time
	End   time.Time
	Days  []DailyObservation
}

// Len returns the number of days in the series.
func (s CanonicalSeries) Len() int {
	return len(s.Days)
}

// SnowSeason is one hydrologic-year window of the canonical series.
type SnowSeason struct {
	YearLabel    int
	Start        time.Time // first day present in the series
	End          time.Time // last day present in the series
	NominalStart time.Time // season boundary
	NominalEnd   time.Time // day before the next boundary
	Partial      bool
	Observations []DailyObservation
}

// DataQuality grades how far a season's metrics can be trusted.
type DataQuality string

const (
	QualityComplete     DataQuality = "complete"
	QualityPartial      DataQuality = "partial"
	QualityInsufficient DataQuality = "insufficient"
)

// Qualifies reports whether a season with this quality enters multi-year averages.
func (q DataQuality) Qualifies() bool {
	return q == QualityComplete || q == QualityPartial
}

// Warning explains a downgraded data quality or an undefined metric.
type Warning string

const (
	WarningLowCoverage          Warning = "low_coverage"
	WarningOnsetUndetermined    Warning = "onset_undetermined"
	WarningMeltOutUndetermined  Warning = "melt_out_undetermined"
	WarningPartialSeason        Warning = "partial_season"
	WarningNoSWE                Warning = "no_swe"
	WarningInsufficientCoverage Warning = "insufficient_coverage"
)

// SeasonStatistics are the per-season metrics. Day fields count days since the
// season's nominal start so that seasons of different years can be averaged.
type SeasonStatistics struct {
	YearLabel           int         `json:"yearLabel"`
	SeasonStart         time.Time   `json:"seasonStart"`
	SeasonEnd           time.Time   `json:"seasonEnd"`
	Partial             bool        `json:"partial"`
	OnsetDate           *time.Time  `json:"onsetDate"`
	OnsetDay            *int        `json:"onsetDay"`
	PeakDate            *time.Time  `json:"peakDate"`
	PeakDay             *int        `json:"peakDay"`
	PeakValue           *float64    `json:"peakValue"`
	MeltOutDate         *time.Time  `json:"meltOutDate"`
	MeltOutDay          *int        `json:"meltOutDay"`
	PersistenceDays     int         `json:"persistenceDays"`
	PersistenceFraction *float64    `json:"persistenceFraction"`
	TotalDays           int         `json:"totalDays"`
	GapDays             int         `json:"gapDays"`
	CoverageFraction    float64     `json:"coverageFraction"`
	DataQuality         DataQuality `json:"dataQuality"`
	Warnings            []Warning   `json:"warnings,omitempty"`
}

// TrendDirection is the sign of a multi-year timing trend.
type TrendDirection string

const (
	TrendIncreasing       TrendDirection = "increasing"
	TrendDecreasing       TrendDirection = "decreasing"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// Trend is a linear trend of a day-of-season metric against the season year.
type Trend struct {
	Direction        TrendDirection `json:"direction"`
	SlopeDaysPerYear *float64       `json:"slopeDaysPerYear"`
	Seasons          int            `json:"seasons"`
}

// MultiYearSummary combines per-season metrics across years.
type MultiYearSummary struct {
	PerYear             []SeasonStatistics `json:"perYear"`
	QualifyingSeasons   int                `json:"qualifyingSeasons"`
	MeanOnsetDay        *float64           `json:"meanOnsetDay"`
	MeanPeakDay         *float64           `json:"meanPeakDay"`
	MeanPeakValue       *float64           `json:"meanPeakValue"`
	MeanMeltOutDay      *float64           `json:"meanMeltOutDay"`
	MeanPersistenceDays *float64           `json:"meanPersistenceDays"`
	OnsetStdDev         *float64           `json:"onsetStdDev"`
	MeltOutStdDev       *float64           `json:"meltOutStdDev"`
	PersistenceStdDev   *float64           `json:"persistenceStdDev"`
	TrendDirection      TrendDirection     `json:"trendDirection"`
	OnsetTrend          Trend              `json:"onsetTrend"`
	MeltOutTrend        Trend              `json:"meltOutTrend"`
}

// ElevationBandStatistics is the analysis of all pixels whose elevation falls in
// [BandLowerM, BandUpperM).
type ElevationBandStatistics struct {
	BandLowerM float64            `json:"bandLowerM"`
	BandUpperM float64            `json:"bandUpperM"`
	PixelCount int                `json:"pixelCount"`
	Seasons    []SeasonStatistics `json:"seasons"`
	Summary    MultiYearSummary   `json:"summary"`
}

// StratifiedAnalysis maps band lower bound (metres) to that band's statistics.
// Bands without pixels are absent.
type StratifiedAnalysis struct {
	BandWidthM     float64                         `json:"bandWidthM"`
	Bands          map[int]ElevationBandStatistics `json:"bands"`
	UnbandedPixels int                             `json:"unbandedPixels"`
}

// Analysis is the full single-series result.
type Analysis struct {
	Start       time.Time             `json:"start"`
	End         time.Time             `json:"end"`
	Summary     MultiYearSummary      `json:"summary"`
	Descriptive DescriptiveStatistics `json:"descriptive"`
}
