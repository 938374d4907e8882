package snow

import "time"

// Segment partitions the series into seasons bounded by seasonStart each year.
// Seasons are ordered, never overlap, and together cover every day of the series
// exactly once. The first and last seasons are Partial when the series does not
// reach their nominal bounds. A non-empty series always yields at least one season.
func Segment(series CanonicalSeries, seasonStart MonthDay) []SnowSeason {
	if len(series.Days) == 0 {
		return nil
	}

	var seasons []SnowSeason
	nominal := seasonBoundaryOnOrBefore(series.Start, seasonStart)
	offset := 0
	for offset < len(series.Days) {
		next := seasonStart.In(nominal.Year() + 1)
		nominalEnd := next.AddDate(0, 0, -1)

		first := series.Days[offset].Date
		count := daysBetween(first, nominalEnd) + 1
		if remaining := len(series.Days) - offset; count > remaining {
			count = remaining
		}
		obs := series.Days[offset : offset+count : offset+count]
		last := obs[len(obs)-1].Date

		seasons = append(seasons, SnowSeason{
			YearLabel:    yearLabel(nominal, seasonStart),
			Start:        first,
			End:          last,
			NominalStart: nominal,
			NominalEnd:   nominalEnd,
			Partial:      first.After(nominal) || last.Before(nominalEnd),
			Observations: obs,
		})

		offset += count
		nominal = next
	}
	return seasons
}

// seasonBoundaryOnOrBefore returns the latest season boundary not after d.
func seasonBoundaryOnOrBefore(d time.Time, seasonStart MonthDay) time.Time {
	b := seasonStart.In(d.Year())
	if b.After(d) {
		b = seasonStart.In(d.Year() - 1)
	}
	return b
}

// yearLabel follows the water-year convention: a season is labelled by the
// calendar year in which it ends. Seasons starting on January 1 end in the same year.
func yearLabel(nominalStart time.Time, seasonStart MonthDay) int {
	if seasonStart.Month == time.January && seasonStart.Day == 1 {
		return nominalStart.Year()
	}
	return nominalStart.Year() + 1
}
