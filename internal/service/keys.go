package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

const keyDateLayout = "2006-01-02"

// Variables requested for single-series and per-pixel analyses.
var (
	seriesVariables = []models.Variable{models.VariableSnowCover, models.VariableSWE}
	pixelVariables  = []models.Variable{models.VariableSnowCover, models.VariableSWE, models.VariableElevation}
)

// normalizeRegionID trims surrounding whitespace. Region IDs are provider
// layer names and stay case-sensitive.
func normalizeRegionID(id string) string {
	return strings.TrimSpace(id)
}

// requestKey builds the cache key for a provider request. Points are rounded to
// 1e-5 degrees (about a metre) so equivalent coordinates share an entry.
func requestKey(kind string, req models.ObservationRequest) string {
	var target string
	if req.Point != nil {
		target = fmt.Sprintf("point:%.5f,%.5f@%s",
			req.Point.Lat, req.Point.Lon, strconv.FormatFloat(req.BufferM, 'f', -1, 64))
	} else {
		target = "region:" + normalizeRegionID(req.RegionID)
	}
	vars := make([]string, len(req.Variables))
	for i, v := range req.Variables {
		vars[i] = string(v)
	}
	sort.Strings(vars)
	return strings.Join([]string{
		kind,
		target,
		req.Start.UTC().Format(keyDateLayout),
		req.End.UTC().Format(keyDateLayout),
		strings.Join(vars, ","),
	}, "|")
}

// DefaultWindow returns the analysis range used when a caller gives none, and
// the range the cache warmer prefetches: the last `seasons` seasons ending
// yesterday (UTC), the most recent one partial.
func DefaultWindow(now time.Time, seasons int, seasonStart snow.MonthDay) (start, end time.Time) {
	if seasons < 1 {
		seasons = 1
	}
	now = now.UTC()
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	year := end.Year()
	if seasonStart.In(year).After(end) {
		year--
	}
	return seasonStart.In(year - (seasons - 1)), end
}
