package snow

import (
	"math"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

// fractionTolerance absorbs floating-point noise around the [0,1] bounds.
const fractionTolerance = 1e-9

// Normalize turns unordered, sparse, possibly duplicated raw records into a
// CanonicalSeries covering [start, end] one day at a time. Days without a usable
// snow signal are kept as explicit gaps. Records outside the range are ignored.
// Several records for the same day are pooled (see pool).
func Normalize(records []models.RawRecord, start, end time.Time) (CanonicalSeries, error) {
	start, end = truncateDay(start), truncateDay(end)
	if start.After(end) {
		return CanonicalSeries{}, &InvalidRangeError{Start: start, End: end}
	}

	n := daysBetween(start, end) + 1
	buckets := make([][]models.RawRecord, n)
	for _, r := range records {
		d := truncateDay(r.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		i := daysBetween(start, d)
		buckets[i] = append(buckets[i], r)
	}

	days := make([]DailyObservation, n)
	for i := range days {
		days[i] = pool(start.AddDate(0, 0, i), buckets[i])
	}
	return CanonicalSeries{Start: start, End: end, Days: days}, nil
}

// pool merges the records of one day: valid fractions, SWE and elevation are
// averaged; snow flags are decided by majority, a tie leaving the flag unset so
// classification falls back to the fraction.
func pool(date time.Time, recs []models.RawRecord) DailyObservation {
	obs := DailyObservation{Date: date}

	var fracSum, sweSum, elevSum float64
	var fracN, sweN, elevN, yes, no int
	for _, r := range recs {
		if f, ok := cleanFraction(r.SnowCoverFraction); ok {
			fracSum += f
			fracN++
		}
		if r.SWEmm != nil && isFinite(*r.SWEmm) && *r.SWEmm >= 0 {
			sweSum += *r.SWEmm
			sweN++
		}
		if r.ElevationM != nil && isFinite(*r.ElevationM) {
			elevSum += *r.ElevationM
			elevN++
		}
		if r.SnowPresent != nil {
			if *r.SnowPresent {
				yes++
			} else {
				no++
			}
		}
	}

	if fracN > 0 {
		obs.SnowCoverFraction = float64Ptr(fracSum / float64(fracN))
	}
	if sweN > 0 {
		obs.SWEmm = float64Ptr(sweSum / float64(sweN))
	}
	if elevN > 0 {
		obs.ElevationM = float64Ptr(elevSum / float64(elevN))
	}
	if yes != no {
		obs.SnowPresent = boolPtr(yes > no)
	}
	obs.IsGap = obs.SnowPresent == nil && obs.SnowCoverFraction == nil
	return obs
}

// cleanFraction returns a usable fraction. Values within tolerance of [0,1] are
// clamped; non-finite or clearly out-of-range values are unusable.
func cleanFraction(f *float64) (float64, bool) {
	if f == nil || !isFinite(*f) {
		return 0, false
	}
	v := *f
	if v < -fractionTolerance || v > 1+fractionTolerance {
		return 0, false
	}
	return math.Min(1, math.Max(0, v)), true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func float64Ptr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
