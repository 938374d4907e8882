package snow

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

// BandKey returns the lower bound (metres) of the band containing elevation.
// widthM must be a whole number of metres, as enforced by Options.Validate.
func BandKey(elevationM, widthM float64) int {
	return int(math.Floor(elevationM/widthM) * widthM)
}

// GroupByBand assigns each pixel to an elevation band. A pixel without its own
// elevation uses the mean elevation of its records; pixels with neither are
// counted as unbanded. Bands without pixels never appear in the result.
func GroupByBand(pixels []models.PixelSeries, widthM float64) (map[int][]models.PixelSeries, int) {
	bands := make(map[int][]models.PixelSeries)
	unbanded := 0
	for _, p := range pixels {
		elev, ok := pixelElevation(p)
		if !ok {
			unbanded++
			continue
		}
		k := BandKey(elev, widthM)
		bands[k] = append(bands[k], p)
	}
	return bands, unbanded
}

func pixelElevation(p models.PixelSeries) (float64, bool) {
	if p.ElevationM != nil && isFinite(*p.ElevationM) {
		return *p.ElevationM, true
	}
	var sum float64
	n := 0
	for _, r := range p.Records {
		if r.ElevationM != nil && isFinite(*r.ElevationM) {
			sum += *r.ElevationM
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// AnalyzeBand pools the records of all pixels in one band into a single series
// and runs normalization, segmentation, season statistics and aggregation on it.
func AnalyzeBand(lower int, widthM float64, pixels []models.PixelSeries, start, end time.Time, opts Options) (ElevationBandStatistics, error) {
	total := 0
	for _, p := range pixels {
		total += len(p.Records)
	}
	pooled := make([]models.RawRecord, 0, total)
	for _, p := range pixels {
		pooled = append(pooled, p.Records...)
	}

	canonical, err := Normalize(pooled, start, end)
	if err != nil {
		return ElevationBandStatistics{}, fmt.Errorf("band %d: %w", lower, err)
	}
	seasons := SeasonStatisticsFor(canonical, opts)
	return ElevationBandStatistics{
		BandLowerM: float64(lower),
		BandUpperM: float64(lower) + widthM,
		PixelCount: len(pixels),
		Seasons:    seasons,
		Summary:    Aggregate(seasons, opts),
	}, nil
}

// Stratify analyzes every populated elevation band in turn. Bands are
// independent, so callers may instead fan AnalyzeBand out over GroupByBand.
func Stratify(pixels []models.PixelSeries, start, end time.Time, opts Options) (StratifiedAnalysis, error) {
	if err := opts.Validate(); err != nil {
		return StratifiedAnalysis{}, err
	}
	if truncateDay(start).After(truncateDay(end)) {
		return StratifiedAnalysis{}, &InvalidRangeError{Start: truncateDay(start), End: truncateDay(end)}
	}
	groups, unbanded := GroupByBand(pixels, opts.ElevationBandWidthM)
	out := StratifiedAnalysis{
		BandWidthM:     opts.ElevationBandWidthM,
		Bands:          make(map[int]ElevationBandStatistics, len(groups)),
		UnbandedPixels: unbanded,
	}
	for _, lower := range SortedKeys(groups) {
		band, err := AnalyzeBand(lower, opts.ElevationBandWidthM, groups[lower], start, end, opts)
		if err != nil {
			return StratifiedAnalysis{}, err
		}
		out.Bands[lower] = band
	}
	return out, nil
}

// SortedKeys returns the keys of an int-keyed map in ascending order.
func SortedKeys[V any](bands map[int]V) []int {
	keys := make([]int, 0, len(bands))
	for k := range bands {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
