package client

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
	"github.com/kjstillabower/snow-season-service/internal/observability"
)

// wireRecord is one provider record. Numeric fields tolerate strings and nulls.
type wireRecord struct {
	Date              string     `json:"date"`
	SnowPresent       *flexBool  `json:"snow_present"`
	SnowCoverFraction *flexFloat `json:"snow_cover_fraction"`
	NDSISnowCover     *flexFloat `json:"ndsi_snow_cover"` // percent, 0-100
	SWEmm             *flexFloat `json:"swe_mm"`
	ElevationM        *flexFloat `json:"elevation_m"`
}

// flexFloat decodes a JSON number, a numeric string, or any other string as NaN.
// NaN flows through to the normalizer, which treats it as missing.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			v = math.NaN()
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexBool decodes a JSON bool or a boolean string ("true", "0", ...). Any other
// value decodes as unknown, so the day becomes a gap instead of failing the response.
type flexBool struct {
	v  bool
	ok bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	switch v := raw.(type) {
	case bool:
		*f = flexBool{v: v, ok: true}
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*f = flexBool{v: parsed, ok: true}
		}
	}
	return nil
}

func (f *flexBool) ptr() *bool {
	if f == nil || !f.ok {
		return nil
	}
	v := f.v
	return &v
}

func (f *flexFloat) ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// mapRecords converts wire records to RawRecords. Records whose date cannot be
// parsed cannot be placed on a day and are dropped.
func mapRecords(in []wireRecord) []models.RawRecord {
	out := make([]models.RawRecord, 0, len(in))
	for _, w := range in {
		date, ok := parseDate(w.Date)
		if !ok {
			observability.ProviderErrorsTotal.WithLabelValues(string(ErrorCategoryParsing)).Inc()
			continue
		}
		r := models.RawRecord{
			Date:              date,
			SnowPresent:       w.SnowPresent.ptr(),
			SnowCoverFraction: w.SnowCoverFraction.ptr(),
			SWEmm:             w.SWEmm.ptr(),
			ElevationM:        w.ElevationM.ptr(),
		}
		if r.SnowCoverFraction == nil && w.NDSISnowCover != nil {
			pct := float64(*w.NDSISnowCover) / 100
			r.SnowCoverFraction = &pct
		}
		out = append(out, r)
	}
	return out
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(providerDateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
