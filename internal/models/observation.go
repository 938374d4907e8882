package models

import "time"

// Variable names a measurement requested from the raw-data provider.
type Variable string

const (
	VariableSnowCover Variable = "snow_cover"
	VariableSWE       Variable = "swe"
	VariableElevation Variable = "elevation"
)

// RawRecord is one daily record as returned by the provider, before normalization.
// Values may be missing (nil) or non-numeric (NaN); the normalizer decides what is usable.
type RawRecord struct {
	Date              time.Time `json:"date"`
	SnowPresent       *bool     `json:"snowPresent,omitempty"`
	SnowCoverFraction *float64  `json:"snowCoverFraction,omitempty"`
	SWEmm             *float64  `json:"sweMm,omitempty"`
	ElevationM        *float64  `json:"elevationM,omitempty"`
}

// PixelSeries is the raw record stream of a single pixel, tagged with its elevation.
type PixelSeries struct {
	PixelID    string      `json:"pixelId"`
	ElevationM *float64    `json:"elevationM,omitempty"`
	Records    []RawRecord `json:"records"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ObservationRequest describes one provider query. Exactly one of RegionID or Point is set.
type ObservationRequest struct {
	RegionID  string       `json:"regionId,omitempty"`
	Point     *Coordinates `json:"point,omitempty"`
	BufferM   float64      `json:"bufferM,omitempty"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Variables []Variable   `json:"variables"`
}

// ObservationSet is what the cache stores for a request key.
type ObservationSet struct {
	Records   []RawRecord   `json:"records,omitempty"`
	Pixels    []PixelSeries `json:"pixels,omitempty"`
	FetchedAt time.Time     `json:"fetchedAt"`
	Stale     bool          `json:"stale,omitempty"` // served from stale cache
}

// Region is a watershed known to the provider.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
