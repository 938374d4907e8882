package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

// ErrRegionEmpty is returned when the region ID is empty or whitespace-only after trim.
var ErrRegionEmpty = errors.New("region is required")

// ErrRegionTooLong is returned when the region ID exceeds the maximum length.
var ErrRegionTooLong = errors.New("region too long")

// ErrRegionInvalidChars is returned when the region ID contains disallowed characters.
var ErrRegionInvalidChars = errors.New("region contains invalid characters")

// ErrInvalidParameter is matched by every ParamError.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	DateLayout     = "2006-01-02"
	DefaultBufferM = 1000.0
	MinBufferM     = 500.0
	MaxBufferM     = 5000.0
)

// ParamError names the query parameter that failed validation.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

func (e *ParamError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func paramErr(param, format string, args ...any) error {
	return &ParamError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// ValidateRegionID trims the input, enforces maxLen (in runes) and restricts to
// letters, digits, space and - _ . , '. Case is preserved.
func ValidateRegionID(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrRegionEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrRegionTooLong
	}
	for _, c := range r {
		if !isAllowedRegionRune(c) {
			return "", ErrRegionInvalidChars
		}
	}
	return s, nil
}

func isAllowedRegionRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '\'':
		return true
	}
	return false
}

// ParseDate parses a YYYY-MM-DD query value as a UTC day.
func ParseDate(param, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, paramErr(param, "want YYYY-MM-DD, got %q", value)
	}
	return t, nil
}

// ParseDateRange parses start and end. When both are empty the defaults are
// returned; giving only one is an error. A reversed range is a
// *snow.InvalidRangeError. maxDays > 0 bounds the inclusive span.
func ParseDateRange(startStr, endStr string, defStart, defEnd time.Time, maxDays int) (time.Time, time.Time, error) {
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	if startStr == "" && endStr == "" {
		return defStart, defEnd, nil
	}
	if startStr == "" {
		return time.Time{}, time.Time{}, paramErr("start", "required when end is given")
	}
	if endStr == "" {
		return time.Time{}, time.Time{}, paramErr("end", "required when start is given")
	}
	start, err := ParseDate("start", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDate("end", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, &snow.InvalidRangeError{Start: start, End: end}
	}
	if days := int((end.Unix()-start.Unix())/86400) + 1; maxDays > 0 && days > maxDays {
		return time.Time{}, time.Time{}, paramErr("end", "range of %d days exceeds maximum of %d", days, maxDays)
	}
	return start, end, nil
}

// ValidateCoordinates parses lat and lon and checks WGS84 bounds.
func ValidateCoordinates(latStr, lonStr string) (models.Coordinates, error) {
	lat, err := parseFinite("lat", latStr)
	if err != nil {
		return models.Coordinates{}, err
	}
	lon, err := parseFinite("lon", lonStr)
	if err != nil {
		return models.Coordinates{}, err
	}
	if lat < -90 || lat > 90 {
		return models.Coordinates{}, paramErr("lat", "%v outside [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return models.Coordinates{}, paramErr("lon", "%v outside [-180, 180]", lon)
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

// ParseBuffer parses buffer_m, defaulting to DefaultBufferM, within [MinBufferM, MaxBufferM].
func ParseBuffer(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultBufferM, nil
	}
	v, err := parseFinite("buffer_m", s)
	if err != nil {
		return 0, err
	}
	if v < MinBufferM || v > MaxBufferM {
		return 0, paramErr("buffer_m", "%v outside [%v, %v]", v, MinBufferM, MaxBufferM)
	}
	return v, nil
}

// Query is the subset of url.Values used by ParseOptions.
type Query interface {
	Get(key string) string
}

// ParseOptions overlays engine options from query parameters onto defaults and
// validates the result. Recognized: season_start (MM-DD), snow_threshold,
// min_consecutive_days, band_width_m, trend_slope_threshold.
func ParseOptions(q Query, defaults snow.Options) (snow.Options, error) {
	opts := defaults
	if v := strings.TrimSpace(q.Get("season_start")); v != "" {
		md, err := snow.ParseMonthDay(v)
		if err != nil {
			return snow.Options{}, paramErr("season_start", "%v", err)
		}
		opts.SeasonStart = md
	}
	if v := q.Get("snow_threshold"); strings.TrimSpace(v) != "" {
		f, err := parseFinite("snow_threshold", v)
		if err != nil {
			return snow.Options{}, err
		}
		opts.SnowThreshold = f
	}
	if v := strings.TrimSpace(q.Get("min_consecutive_days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return snow.Options{}, paramErr("min_consecutive_days", "want integer, got %q", v)
		}
		opts.MinConsecutiveDays = n
	}
	if v := q.Get("band_width_m"); strings.TrimSpace(v) != "" {
		f, err := parseFinite("band_width_m", v)
		if err != nil {
			return snow.Options{}, err
		}
		opts.ElevationBandWidthM = f
	}
	if v := q.Get("trend_slope_threshold"); strings.TrimSpace(v) != "" {
		f, err := parseFinite("trend_slope_threshold", v)
		if err != nil {
			return snow.Options{}, err
		}
		opts.TrendSlopeThreshold = f
	}
	if err := opts.Validate(); err != nil {
		return snow.Options{}, err
	}
	return opts, nil
}

func parseFinite(param, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, paramErr(param, "want a finite number, got %q", s)
	}
	return v, nil
}
