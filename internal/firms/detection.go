// Package firms implements the fire-event tracking core: normalization of
// raw FIRMS hotspot records, per-window density clustering, temporal linking
// of clusters into persistent fire events, and read-only analytics over the
// event store.
package firms

import (
	"errors"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// ErrNotFound is returned by queries against an unknown event ID.
var ErrNotFound = errors.New("event not found")

// ErrMalformedRecord marks a raw record whose coordinates or timestamp
// cannot be parsed. Malformed records are skipped and counted, never fatal
// to a batch.
var ErrMalformedRecord = errors.New("malformed record")

// Confidence is the normalized detection confidence category.
type Confidence string

const (
	ConfidenceLow     Confidence = "low"
	ConfidenceNominal Confidence = "nominal"
	ConfidenceHigh    Confidence = "high"
)

// Category distinguishes vegetation fire detections from gas flares.
type Category string

const (
	CategoryFire  Category = "fire"
	CategoryFlare Category = "flare"
)

// Detection is a single normalized satellite observation. Detections are
// created once at ingest and immutable thereafter; events reference them,
// never copy-and-mutate.
type Detection struct {
	// ID is the provider-assigned identifier, or one synthesized from the
	// dedup key when the provider supplies none.
	ID string `json:"id"`

	Position geo.Point `json:"position"`
	Time     time.Time `json:"time"`

	// FRP is fire radiative power in megawatts. Zero when the provider
	// omitted the field.
	FRP float64 `json:"frp"`

	// BrightnessK is the brightness temperature in Kelvin (bright_ti4 for
	// VIIRS, brightness for MODIS). Zero when unavailable.
	BrightnessK float64 `json:"brightness_k"`

	Confidence Confidence `json:"confidence"`
	Category   Category   `json:"category"`
	Satellite  string     `json:"satellite,omitempty"`
	DayNight   string     `json:"daynight,omitempty"`
}
