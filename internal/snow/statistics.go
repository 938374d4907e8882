package snow

const (
	insufficientCoverage = 0.5
	completeCoverage     = 0.9
)

// dayState is the snow classification of one day.
type dayState int

const (
	stateUnknown dayState = iota // gap
	stateAbsent
	statePresent
)

// classify uses the snow flag when present, otherwise the cover fraction against threshold.
func classify(obs DailyObservation, threshold float64) dayState {
	if obs.IsGap {
		return stateUnknown
	}
	if obs.SnowPresent != nil {
		if *obs.SnowPresent {
			return statePresent
		}
		return stateAbsent
	}
	if obs.SnowCoverFraction != nil {
		if *obs.SnowCoverFraction >= threshold {
			return statePresent
		}
		return stateAbsent
	}
	return stateUnknown
}

// ComputeSeasonStatistics derives onset, peak, melt-out, persistence, coverage and
// data quality for one season. Metrics are returned even when the quality is
// insufficient; callers decide whether to use them.
func ComputeSeasonStatistics(season SnowSeason, opts Options) SeasonStatistics {
	obs := season.Observations
	states := make([]dayState, len(obs))
	gaps := 0
	for i, o := range obs {
		states[i] = classify(o, opts.SnowThreshold)
		if states[i] == stateUnknown {
			gaps++
		}
	}

	st := SeasonStatistics{
		YearLabel:   season.YearLabel,
		SeasonStart: season.Start,
		SeasonEnd:   season.End,
		Partial:     season.Partial,
		TotalDays:   len(obs),
		GapDays:     gaps,
	}
	if len(obs) > 0 {
		st.CoverageFraction = 1 - float64(gaps)/float64(len(obs))
	}

	minRun := opts.MinConsecutiveDays
	if minRun < 1 {
		minRun = 1
	}

	onset := findOnset(states, minRun)
	melt := -1
	if onset >= 0 {
		melt = findMeltOut(states, onset, minRun)
	}

	dayOf := func(i int) *int {
		return intPtr(daysBetween(season.NominalStart, obs[i].Date))
	}

	if onset >= 0 {
		st.OnsetDate = timePtr(obs[onset].Date)
		st.OnsetDay = dayOf(onset)

		windowEnd := len(obs) - 1
		if melt >= 0 {
			st.MeltOutDate = timePtr(obs[melt].Date)
			st.MeltOutDay = dayOf(melt)
			windowEnd = melt
		}

		present := 0
		peak := -1
		for i := onset; i <= windowEnd; i++ {
			if states[i] == statePresent {
				present++
			}
			if states[i] == stateUnknown || obs[i].SWEmm == nil {
				continue
			}
			// strict comparison keeps the earliest day on ties
			if peak < 0 || *obs[i].SWEmm > *obs[peak].SWEmm {
				peak = i
			}
		}
		st.PersistenceDays = present
		st.PersistenceFraction = float64Ptr(float64(present) / float64(windowEnd-onset+1))
		if peak >= 0 {
			st.PeakDate = timePtr(obs[peak].Date)
			st.PeakDay = dayOf(peak)
			st.PeakValue = float64Ptr(*obs[peak].SWEmm)
		}
	}

	st.DataQuality, st.Warnings = grade(st)
	return st
}

// findOnset returns the index of the first day of the first run of minRun present
// days, or -1. Gap days neither extend nor break a run.
func findOnset(states []dayState, minRun int) int {
	runStart, runLen := -1, 0
	for i, s := range states {
		switch s {
		case statePresent:
			if runLen == 0 {
				runStart = i
			}
			runLen++
			if runLen >= minRun {
				return runStart
			}
		case stateAbsent:
			runLen = 0
		}
	}
	return -1
}

// findMeltOut returns the index of the last present day after which at least
// minRun absent days follow with no sustained return of snow, or -1 when the
// season ends before that can be confirmed. Scanning starts at the last sustained
// present run beginning at or after onset.
func findMeltOut(states []dayState, onset, minRun int) int {
	lastRunEnd, runLen := -1, 0
	for i := onset; i < len(states); i++ {
		switch states[i] {
		case statePresent:
			runLen++
			if runLen >= minRun {
				lastRunEnd = i
			}
		case stateAbsent:
			runLen = 0
		}
	}
	if lastRunEnd < 0 {
		return -1
	}

	candidate := lastRunEnd
	absent := 0
	for i := lastRunEnd + 1; i < len(states); i++ {
		switch states[i] {
		case statePresent:
			candidate = i
			absent = 0
		case stateAbsent:
			absent++
			if absent >= minRun {
				return candidate
			}
		}
	}
	return -1
}

// grade assigns the data quality and the warnings explaining it.
func grade(st SeasonStatistics) (DataQuality, []Warning) {
	var warnings []Warning
	quality := QualityComplete

	if st.CoverageFraction < insufficientCoverage {
		warnings = append(warnings, WarningInsufficientCoverage)
		quality = QualityInsufficient
	} else if st.CoverageFraction < completeCoverage {
		warnings = append(warnings, WarningLowCoverage)
		quality = QualityPartial
	}
	if st.Partial {
		warnings = append(warnings, WarningPartialSeason)
		if quality == QualityComplete {
			quality = QualityPartial
		}
	}
	if st.OnsetDate == nil {
		warnings = append(warnings, WarningOnsetUndetermined)
		quality = QualityInsufficient
	} else {
		if st.MeltOutDate == nil {
			warnings = append(warnings, WarningMeltOutUndetermined)
		}
		if st.PeakValue == nil {
			warnings = append(warnings, WarningNoSWE)
		}
	}
	return quality, warnings
}
