package snow

import (
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

// SeasonStatisticsFor segments a canonical series and computes statistics for
// every season, in chronological order.
func SeasonStatisticsFor(series CanonicalSeries, opts Options) []SeasonStatistics {
	seasons := Segment(series, opts.SeasonStart)
	out := make([]SeasonStatistics, 0, len(seasons))
	for _, s := range seasons {
		out = append(out, ComputeSeasonStatistics(s, opts))
	}
	return out
}

// Analyze runs the whole engine over one region's or point's raw records:
// normalize, segment, per-season statistics, multi-year aggregation and
// descriptive statistics. The same input always yields the same output.
func Analyze(records []models.RawRecord, start, end time.Time, opts Options) (Analysis, error) {
	if err := opts.Validate(); err != nil {
		return Analysis{}, err
	}
	canonical, err := Normalize(records, start, end)
	if err != nil {
		return Analysis{}, err
	}
	seasons := SeasonStatisticsFor(canonical, opts)
	return Analysis{
		Start:       canonical.Start,
		End:         canonical.End,
		Summary:     Aggregate(seasons, opts),
		Descriptive: Describe(canonical, opts),
	}, nil
}
