package firms

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// RawRecord is one row from the FIRMS area CSV feed, before validation.
// All fields are strings because the provider mixes numeric and categorical
// encodings across datasets (MODIS vs VIIRS).
type RawRecord struct {
	ID         string // provider id, often empty
	Latitude   string
	Longitude  string
	AcqDate    string // "2006-01-02"
	AcqTime    string // "HHMM", leading zeros sometimes dropped
	FRP        string
	Brightness string // bright_ti4 (VIIRS) or brightness (MODIS), Kelvin
	Confidence string // "l"/"n"/"h" or numeric 0-100
	Category   string // "fire" (default) or "flare"
	Satellite  string
	DayNight   string
}

// IngestStats reports what happened to a raw batch during normalization.
type IngestStats struct {
	Total       int `json:"total"`
	Malformed   int `json:"malformed"`
	Duplicates  int `json:"duplicates"`
	OutOfRegion int `json:"out_of_region"`
	Kept        int `json:"kept"`
}

// NormalizerConfig controls ingest normalization.
type NormalizerConfig struct {
	// CoordinateDecimals is the rounding precision used in the dedup key.
	CoordinateDecimals int
	// RegionBBox, when non-nil, drops detections outside the box.
	RegionBBox *geo.BBox
}

// Normalizer converts heterogeneous raw provider records into deduplicated,
// unit-normalized Detections ordered by timestamp. It holds no state across
// batches and never mutates anything outside its return values.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer with the given configuration.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.CoordinateDecimals <= 0 {
		cfg.CoordinateDecimals = 4
	}
	return &Normalizer{cfg: cfg}
}

// Normalize parses, validates, deduplicates, and orders a raw batch.
// Malformed records (unparseable coordinates or timestamp) are skipped and
// counted. Duplicate key: (provider id, timestamp, rounded lat, rounded
// lon); the first occurrence wins.
func (n *Normalizer) Normalize(records []RawRecord) ([]Detection, IngestStats) {
	stats := IngestStats{Total: len(records)}
	seen := make(map[string]bool, len(records))
	detections := make([]Detection, 0, len(records))

	for _, r := range records {
		d, err := n.parseRecord(r)
		if err != nil {
			stats.Malformed++
			continue
		}

		if n.cfg.RegionBBox != nil && !n.cfg.RegionBBox.Contains(d.Position) {
			stats.OutOfRegion++
			continue
		}

		key := n.dedupKey(r.ID, d)
		if seen[key] {
			stats.Duplicates++
			continue
		}
		seen[key] = true

		if d.ID == "" {
			d.ID = key
		}
		detections = append(detections, d)
	}

	// Acquisition times must be non-decreasing within a batch; the provider
	// interleaves satellites, so sort rather than assume.
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Time.Before(detections[j].Time)
	})

	stats.Kept = len(detections)
	return detections, stats
}

func (n *Normalizer) parseRecord(r RawRecord) (Detection, error) {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(r.Latitude), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(r.Longitude), 64)
	if latErr != nil || lonErr != nil {
		return Detection{}, fmt.Errorf("%w: bad coordinates (%q, %q)", ErrMalformedRecord, r.Latitude, r.Longitude)
	}

	pos := geo.Point{Lat: lat, Lon: lon}
	if !pos.Valid() {
		return Detection{}, fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrMalformedRecord, lat, lon)
	}

	ts, err := parseAcqTimestamp(r.AcqDate, r.AcqTime)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	frp, err := strconv.ParseFloat(strings.TrimSpace(r.FRP), 64)
	if err != nil || frp < 0 {
		frp = 0 // optional field; negative values are sensor artifacts
	}
	brightness, err := strconv.ParseFloat(strings.TrimSpace(r.Brightness), 64)
	if err != nil || brightness < 0 {
		brightness = 0
	}

	category := CategoryFire
	if strings.EqualFold(strings.TrimSpace(r.Category), string(CategoryFlare)) {
		category = CategoryFlare
	}

	return Detection{
		ID:          strings.TrimSpace(r.ID),
		Position:    pos,
		Time:        ts,
		FRP:         frp,
		BrightnessK: brightness,
		Confidence:  NormalizeConfidence(r.Confidence),
		Category:    category,
		Satellite:   strings.TrimSpace(r.Satellite),
		DayNight:    strings.TrimSpace(r.DayNight),
	}, nil
}

// dedupKey builds the duplicate-detection key from the provider id,
// acquisition timestamp, and coordinates rounded to the configured number
// of decimals. Overlapping provider queries return the same physical
// observation with identical key components.
func (n *Normalizer) dedupKey(providerID string, d Detection) string {
	scale := math.Pow10(n.cfg.CoordinateDecimals)
	lat := math.Round(d.Position.Lat*scale) / scale
	lon := math.Round(d.Position.Lon*scale) / scale
	return fmt.Sprintf("%s:%d:%.*f:%.*f",
		strings.TrimSpace(providerID), d.Time.Unix(),
		n.cfg.CoordinateDecimals, lat,
		n.cfg.CoordinateDecimals, lon)
}

// parseAcqTimestamp combines the FIRMS acq_date and acq_time columns into a
// UTC timestamp. acq_time is "HHMM" with leading zeros sometimes dropped
// ("412" means 04:12); an empty acq_time means midnight.
func parseAcqTimestamp(acqDate, acqTime string) (time.Time, error) {
	acqDate = strings.TrimSpace(acqDate)
	day, err := time.ParseInLocation("2006-01-02", acqDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad acq_date %q: %w", acqDate, err)
	}

	acqTime = strings.TrimSpace(acqTime)
	if acqTime == "" {
		return day, nil
	}
	hhmm, err := strconv.Atoi(acqTime)
	if err != nil || hhmm < 0 || hhmm > 2359 {
		return time.Time{}, fmt.Errorf("bad acq_time %q", acqTime)
	}
	hour, minute := hhmm/100, hhmm%100
	if minute > 59 {
		return time.Time{}, fmt.Errorf("bad acq_time %q", acqTime)
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

// NormalizeConfidence maps both FIRMS confidence encodings onto the
// normalized category: letters for VIIRS ("l"/"n"/"h"), numeric 0-100 for
// MODIS (<30 low, <80 nominal, else high). Unknown values are nominal.
func NormalizeConfidence(raw string) Confidence {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "l", "low":
		return ConfidenceLow
	case "n", "nominal":
		return ConfidenceNominal
	case "h", "high":
		return ConfidenceHigh
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		switch {
		case v < 30:
			return ConfidenceLow
		case v < 80:
			return ConfidenceNominal
		default:
			return ConfidenceHigh
		}
	}
	return ConfidenceNominal
}
