package firms

import (
	"iter"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// Analytics answers read-only queries over the event store. It holds no
// mutable state; every query works on a snapshot, so analytics may run
// concurrently with each other and never observe a half-applied window.
type Analytics struct {
	store *EventStore
}

// NewAnalytics creates an analytics engine over the store.
func NewAnalytics(store *EventStore) *Analytics {
	return &Analytics{store: store}
}

// FRPTrend returns the event's (timestamp, FRP) series in detection order
// as a lazy, restartable sequence. The snapshot is taken once; ranging
// over the result multiple times replays the same series.
func (a *Analytics) FRPTrend(eventID string) (iter.Seq2[time.Time, float64], error) {
	event, err := a.store.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	detections := event.Detections
	return func(yield func(time.Time, float64) bool) {
		for _, d := range detections {
			if !yield(d.Time, d.FRP) {
				return
			}
		}
	}, nil
}

// FRPTrendSlope fits a least-squares line through the event's FRP series
// and returns its slope in MW per hour. Events with fewer than two
// detections have no trend and report zero.
func (a *Analytics) FRPTrendSlope(eventID string) (float64, error) {
	event, err := a.store.GetEvent(eventID)
	if err != nil {
		return 0, err
	}
	if len(event.Detections) < 2 || event.LastSeen.Equal(event.Detections[0].Time) {
		return 0, nil
	}

	xs := make([]float64, len(event.Detections))
	ys := make([]float64, len(event.Detections))
	t0 := event.Detections[0].Time
	for i, d := range event.Detections {
		xs[i] = d.Time.Sub(t0).Hours()
		ys[i] = d.FRP
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope, nil
}

// PeakTemperature returns the maximum brightness temperature (Kelvin)
// across the event's detections.
func (a *Analytics) PeakTemperature(eventID string) (float64, error) {
	event, err := a.store.GetEvent(eventID)
	if err != nil {
		return 0, err
	}
	var peak float64
	for _, d := range event.Detections {
		if d.BrightnessK > peak {
			peak = d.BrightnessK
		}
	}
	return peak, nil
}

// Duration returns how long the event has been observed: last seen minus
// first detection time.
func (a *Analytics) Duration(eventID string) (time.Duration, error) {
	event, err := a.store.GetEvent(eventID)
	if err != nil {
		return 0, err
	}
	if len(event.Detections) == 0 {
		return 0, nil
	}
	return event.LastSeen.Sub(event.Detections[0].Time), nil
}

// EventsInBBox returns events whose latest centroid lies in the box and
// whose status is in the filter.
func (a *Analytics) EventsInBBox(box geo.BBox, statuses ...EventStatus) []*FireEvent {
	return a.store.EventsInBBox(box, statuses...)
}

// EventSummary is the per-event statistics row the dashboard's cluster
// summary table is built from.
type EventSummary struct {
	EventID         string        `json:"event_id"`
	Status          EventStatus   `json:"status"`
	DetectionCount  int           `json:"detection_count"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	Duration        time.Duration `json:"duration"`
	MeanFRP         float64       `json:"mean_frp"`
	PeakFRP         float64       `json:"peak_frp"`
	FRPSlopeMWPerH  float64       `json:"frp_slope_mw_per_h"`
	PeakTemperature float64       `json:"peak_temperature_k"`
	Centroid        geo.Point     `json:"centroid"`
	ExtentKM        float64       `json:"extent_km"`
}

// Summary computes the full statistics row for one event.
func (a *Analytics) Summary(eventID string) (EventSummary, error) {
	event, err := a.store.GetEvent(eventID)
	if err != nil {
		return EventSummary{}, err
	}

	s := EventSummary{
		EventID:        event.EventID,
		Status:         event.Status,
		DetectionCount: len(event.Detections),
		FirstSeen:      event.FirstSeen,
		LastSeen:       event.LastSeen,
		Centroid:       event.LatestCentroid(),
	}
	if len(event.Detections) == 0 {
		return s, nil
	}

	s.Duration = event.LastSeen.Sub(event.Detections[0].Time)

	var sumFRP float64
	points := make([]geo.Point, len(event.Detections))
	for i, d := range event.Detections {
		sumFRP += d.FRP
		if d.FRP > s.PeakFRP {
			s.PeakFRP = d.FRP
		}
		if d.BrightnessK > s.PeakTemperature {
			s.PeakTemperature = d.BrightnessK
		}
		points[i] = d.Position
	}
	s.MeanFRP = sumFRP / float64(len(event.Detections))

	// Extent: twice the max distance from the detection centroid, i.e. the
	// diameter of the circle covering every detection.
	center := geo.Centroid(points)
	var maxDist float64
	for _, p := range points {
		if d := geo.Distance(center, p); d > maxDist {
			maxDist = d
		}
	}
	s.ExtentKM = 2 * maxDist / 1000

	if len(event.Detections) >= 2 && !event.LastSeen.Equal(event.Detections[0].Time) {
		xs := make([]float64, len(event.Detections))
		ys := make([]float64, len(event.Detections))
		t0 := event.Detections[0].Time
		for i, d := range event.Detections {
			xs[i] = d.Time.Sub(t0).Hours()
			ys[i] = d.FRP
		}
		_, s.FRPSlopeMWPerH = stat.LinearRegression(xs, ys, nil, false)
	}

	return s, nil
}
