package snow

import (
	"math"
	"testing"
)

func seasonWith(year, onsetDay, meltDay, persistence int, q DataQuality) SeasonStatistics {
	on := day(year-1, 10, 1).AddDate(0, 0, onsetDay)
	melt := day(year-1, 10, 1).AddDate(0, 0, meltDay)
	return SeasonStatistics{
		YearLabel:       year,
		OnsetDate:       &on,
		OnsetDay:        intPtr(onsetDay),
		MeltOutDate:     &melt,
		MeltOutDay:      intPtr(meltDay),
		PersistenceDays: persistence,
		DataQuality:     q,
	}
}

// TestAggregate_OnsetTrendIncreasing uses onsets of Nov 1, Nov 15 and Dec 1 in
// consecutive years: onset is later each year.
func TestAggregate_OnsetTrendIncreasing(t *testing.T) {
	per := []SeasonStatistics{
		seasonWith(2021, 31, 180, 140, QualityComplete), // Nov 1
		seasonWith(2022, 45, 181, 130, QualityComplete), // Nov 15
		seasonWith(2023, 61, 179, 120, QualityPartial),  // Dec 1
	}
	sum := Aggregate(per, DefaultOptions())

	if sum.TrendDirection != TrendIncreasing || sum.OnsetTrend.Direction != TrendIncreasing {
		t.Fatalf("onset trend = %s/%s, want increasing", sum.TrendDirection, sum.OnsetTrend.Direction)
	}
	if got := *sum.OnsetTrend.SlopeDaysPerYear; math.Abs(got-15) > 1e-9 {
		t.Errorf("onset slope = %v, want 15", got)
	}
	if sum.MeltOutTrend.Direction != TrendStable {
		t.Errorf("melt-out trend = %s, want stable", sum.MeltOutTrend.Direction)
	}
	if got := *sum.MeanOnsetDay; math.Abs(got-137.0/3) > 1e-9 {
		t.Errorf("MeanOnsetDay = %v, want %v", got, 137.0/3)
	}
	if got := *sum.MeanPersistenceDays; got != 130 {
		t.Errorf("MeanPersistenceDays = %v, want 130", got)
	}
	if got := *sum.PersistenceStdDev; math.Abs(got-10) > 1e-9 {
		t.Errorf("PersistenceStdDev = %v, want 10", got)
	}
	if sum.MeanPeakValue != nil || sum.MeanPeakDay != nil {
		t.Errorf("peak means = %v/%v, want nil without SWE", sum.MeanPeakDay, sum.MeanPeakValue)
	}
}

// TestAggregate_DirectionFollowsOnset has a stable onset and an earlier
// melt-out each year; the overall direction reports the onset trend only.
func TestAggregate_DirectionFollowsOnset(t *testing.T) {
	per := []SeasonStatistics{
		seasonWith(2021, 31, 200, 160, QualityComplete),
		seasonWith(2022, 31, 180, 140, QualityComplete),
		seasonWith(2023, 32, 160, 120, QualityComplete),
	}
	sum := Aggregate(per, DefaultOptions())

	if sum.MeltOutTrend.Direction != TrendDecreasing {
		t.Fatalf("melt-out trend = %s, want decreasing", sum.MeltOutTrend.Direction)
	}
	if sum.OnsetTrend.Direction != TrendStable || sum.TrendDirection != TrendStable {
		t.Errorf("TrendDirection = %s, onset %s, want stable for both", sum.TrendDirection, sum.OnsetTrend.Direction)
	}
}

func TestAggregate_Decreasing(t *testing.T) {
	per := []SeasonStatistics{
		seasonWith(2020, 60, 200, 100, QualityComplete),
		seasonWith(2021, 50, 190, 100, QualityComplete),
		seasonWith(2022, 40, 170, 100, QualityComplete),
		seasonWith(2023, 30, 160, 100, QualityComplete),
	}
	sum := Aggregate(per, DefaultOptions())
	if sum.OnsetTrend.Direction != TrendDecreasing || sum.MeltOutTrend.Direction != TrendDecreasing {
		t.Errorf("trends = %s/%s, want decreasing/decreasing", sum.OnsetTrend.Direction, sum.MeltOutTrend.Direction)
	}
}

// TestAggregate_ExcludesInsufficient verifies insufficient seasons stay in PerYear
// but are left out of averages and trends.
func TestAggregate_ExcludesInsufficient(t *testing.T) {
	per := []SeasonStatistics{
		seasonWith(2023, 61, 179, 120, QualityComplete),
		seasonWith(2021, 31, 180, 140, QualityComplete),
		seasonWith(2022, 200, 300, 5, QualityInsufficient),
	}
	sum := Aggregate(per, DefaultOptions())

	if len(sum.PerYear) != 3 {
		t.Fatalf("len(PerYear) = %d, want 3", len(sum.PerYear))
	}
	for i, want := range []int{2021, 2022, 2023} {
		if sum.PerYear[i].YearLabel != want {
			t.Errorf("PerYear[%d] = %d, want %d", i, sum.PerYear[i].YearLabel, want)
		}
	}
	if sum.QualifyingSeasons != 2 {
		t.Errorf("QualifyingSeasons = %d, want 2", sum.QualifyingSeasons)
	}
	if *sum.MeanOnsetDay != 46 {
		t.Errorf("MeanOnsetDay = %v, want 46", *sum.MeanOnsetDay)
	}
	if sum.TrendDirection != TrendInsufficientData || sum.OnsetTrend.SlopeDaysPerYear != nil {
		t.Errorf("trend = %s (slope %v), want insufficient_data", sum.TrendDirection, sum.OnsetTrend.SlopeDaysPerYear)
	}
	if per[0].YearLabel != 2023 {
		t.Error("Aggregate reordered its input")
	}
}

func TestAggregate_SlopeWithinThresholdIsStable(t *testing.T) {
	per := []SeasonStatistics{
		seasonWith(2020, 40, 180, 100, QualityComplete),
		seasonWith(2021, 41, 180, 100, QualityComplete),
		seasonWith(2022, 40, 180, 100, QualityComplete),
	}
	sum := Aggregate(per, DefaultOptions())
	if sum.OnsetTrend.Direction != TrendStable {
		t.Errorf("onset trend = %s, want stable", sum.OnsetTrend.Direction)
	}
	if sum.OnsetTrend.SlopeDaysPerYear == nil {
		t.Error("SlopeDaysPerYear = nil, want fitted slope")
	}
}

func TestAggregate_Empty(t *testing.T) {
	sum := Aggregate(nil, DefaultOptions())
	if sum.MeanOnsetDay != nil || sum.OnsetStdDev != nil {
		t.Errorf("means = %v/%v, want nil", sum.MeanOnsetDay, sum.OnsetStdDev)
	}
	if sum.TrendDirection != TrendInsufficientData {
		t.Errorf("TrendDirection = %s, want insufficient_data", sum.TrendDirection)
	}
}
