// Package source fetches raw hotspot batches: the NASA FIRMS area CSV API
// for live operation, local CSV files for replay and tests.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/firewatch-data/hotspot.report/internal/firms"
	"github.com/firewatch-data/hotspot.report/internal/httputil"
)

// Fetcher returns one batch of raw hotspot records.
type Fetcher interface {
	Fetch(ctx context.Context) ([]firms.RawRecord, error)
}

// DefaultBaseURL is the FIRMS area API endpoint.
const DefaultBaseURL = "https://firms.modaps.eosdis.nasa.gov/api/area/csv"

// FIRMSConfig configures the live FIRMS feed.
type FIRMSConfig struct {
	// BaseURL overrides the API endpoint; empty means DefaultBaseURL.
	BaseURL string
	// MapKey is the FIRMS API key.
	MapKey string
	// Dataset selects the satellite product, e.g. "VIIRS_SNPP_NRT".
	Dataset string
	// Area is "world" or a "min_lon,min_lat,max_lon,max_lat" box.
	Area string
	// DayRange is how many days back to request, 1-10.
	DayRange int
}

// FIRMSSource fetches the FIRMS area CSV feed.
type FIRMSSource struct {
	cfg    FIRMSConfig
	client httputil.HTTPClient
}

// NewFIRMSSource creates a FIRMS fetcher. A nil client means the default
// HTTP client.
func NewFIRMSSource(cfg FIRMSConfig, client httputil.HTTPClient) *FIRMSSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Area == "" {
		cfg.Area = "world"
	}
	if cfg.DayRange <= 0 {
		cfg.DayRange = 1
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &FIRMSSource{cfg: cfg, client: client}
}

// URL returns the request URL for this source's configuration.
func (s *FIRMSSource) URL() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d",
		s.cfg.BaseURL, s.cfg.MapKey, s.cfg.Dataset, s.cfg.Area, s.cfg.DayRange)
}

// Fetch downloads and decodes one batch from the feed.
func (s *FIRMSSource) Fetch(ctx context.Context) ([]firms.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records, err := DecodeCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return records, nil
}

// FileSource replays a saved FIRMS CSV file.
type FileSource struct {
	Path string
}

// Fetch reads and decodes the file.
func (f *FileSource) Fetch(ctx context.Context) ([]firms.RawRecord, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodeCSV(file)
}

// DecodeCSV parses a FIRMS area CSV into raw records. The column set varies
// by product (MODIS has "brightness", VIIRS has "bright_ti4"); columns are
// resolved from the header, and rows missing optional columns still decode.
func DecodeCSV(r io.Reader) ([]firms.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // provider pads some rows

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["latitude"]; !ok {
		return nil, fmt.Errorf("not a FIRMS CSV: no latitude column")
	}

	field := func(row []string, names ...string) string {
		for _, name := range names {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	var records []firms.RawRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		records = append(records, firms.RawRecord{
			Latitude:   field(row, "latitude"),
			Longitude:  field(row, "longitude"),
			AcqDate:    field(row, "acq_date"),
			AcqTime:    field(row, "acq_time"),
			FRP:        field(row, "frp"),
			Brightness: field(row, "bright_ti4", "brightness"),
			Confidence: field(row, "confidence"),
			Category:   categoryFromType(field(row, "type")),
			Satellite:  field(row, "satellite"),
			DayNight:   field(row, "daynight"),
		})
	}
	return records, nil
}

// categoryFromType maps the FIRMS "type" column onto the detection category:
// static land sources and offshore detections (2, 3) are flagged as flares.
func categoryFromType(raw string) string {
	switch strings.TrimSpace(raw) {
	case "2", "3":
		return string(firms.CategoryFlare)
	default:
		return string(firms.CategoryFire)
	}
}
