package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/firewatch-data/hotspot.report/internal/firms"
	"github.com/firewatch-data/hotspot.report/internal/geo"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err, "open archive")
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleEvent(ts time.Time) *firms.FireEvent {
	detections := []firms.Detection{
		{
			ID:          "det-1",
			Position:    geo.Point{Lat: 10.0, Lon: 10.0},
			Time:        ts,
			FRP:         12.5,
			BrightnessK: 330,
			Confidence:  firms.ConfidenceNominal,
			Category:    firms.CategoryFire,
			Satellite:   "N",
			DayNight:    "D",
		},
		{
			ID:          "det-2",
			Position:    geo.Point{Lat: 10.001, Lon: 10.0},
			Time:        ts.Add(time.Hour),
			FRP:         20,
			BrightnessK: 345,
			Confidence:  firms.ConfidenceHigh,
			Category:    firms.CategoryFire,
		},
	}
	return &firms.FireEvent{
		EventID:    "evt-1",
		Status:     firms.EventActive,
		Detections: detections,
		FirstSeen:  ts,
		LastSeen:   ts.Add(time.Hour),
		CentroidHistory: []firms.CentroidSample{
			{Time: ts, Centroid: detections[0].Position},
			{Time: ts.Add(time.Hour), Centroid: detections[1].Position},
		},
		CreatedSeq: 3,
	}
}

func TestFlushAndReload(t *testing.T) {
	db := openTestDB(t)
	ts := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	event := sampleEvent(ts)

	summary := firms.WindowSummary{
		WindowTime: ts.Add(time.Hour),
		Detections: 2,
		Clusters:   1,
		Continued:  1,
	}
	require.NoError(t, db.FlushWindow([]*firms.FireEvent{event}, summary))

	store := firms.NewEventStore(2000)
	n, err := db.LoadOpenEvents(store)
	require.NoError(t, err)
	require.Equal(t, 1, n, "restored event count")

	restored, err := store.GetEvent("evt-1")
	require.NoError(t, err)
	require.Equal(t, firms.EventActive, restored.Status)
	require.Equal(t, int64(3), restored.CreatedSeq)
	require.Len(t, restored.Detections, 2)
	require.True(t, restored.Detections[1].Time.Equal(ts.Add(time.Hour)))
	require.Equal(t, firms.ConfidenceHigh, restored.Detections[1].Confidence)
	require.Len(t, restored.CentroidHistory, 2)
	require.Equal(t, 10.001, restored.LatestCentroid().Lat)
}

func TestFlushIdempotent(t *testing.T) {
	db := openTestDB(t)
	ts := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	event := sampleEvent(ts)
	summary := firms.WindowSummary{WindowTime: ts}

	for i := 0; i < 3; i++ {
		require.NoError(t, db.FlushWindow([]*firms.FireEvent{event}, summary), "flush %d", i)
	}

	var detections, windows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fire_detections`).Scan(&detections))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM window_log`).Scan(&windows))
	require.Equal(t, 2, detections, "detections after repeated flush")
	require.Equal(t, 1, windows, "window rows after repeated flush")
}

func TestClosedEventsNotRestored(t *testing.T) {
	db := openTestDB(t)
	ts := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)

	open := sampleEvent(ts)
	closed := sampleEvent(ts)
	closed.EventID = "evt-closed"
	closed.Status = firms.EventClosed
	for i := range closed.Detections {
		closed.Detections[i].ID = "closed-" + closed.Detections[i].ID
	}

	require.NoError(t, db.FlushWindow([]*firms.FireEvent{open, closed}, firms.WindowSummary{WindowTime: ts}))

	store := firms.NewEventStore(2000)
	n, err := db.LoadOpenEvents(store)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the open event restores")

	_, err = store.GetEvent("evt-closed")
	require.Error(t, err, "closed event must not restore into the live store")
}

func TestMergeReassignsDetections(t *testing.T) {
	db := openTestDB(t)
	ts := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)

	a := sampleEvent(ts)
	b := sampleEvent(ts)
	b.EventID = "evt-2"
	b.CreatedSeq = 4
	for i := range b.Detections {
		b.Detections[i].ID = "b-" + b.Detections[i].ID
	}
	require.NoError(t, db.FlushWindow([]*firms.FireEvent{a, b}, firms.WindowSummary{WindowTime: ts}))

	// The next window merged b into a: a now carries both detection sets.
	a.Detections = append(a.Detections, b.Detections...)
	require.NoError(t, db.FlushWindow([]*firms.FireEvent{a}, firms.WindowSummary{WindowTime: ts.Add(time.Hour)}))
	require.NoError(t, db.DeleteEvent("evt-2"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fire_detections WHERE event_id = 'evt-1'`).Scan(&n))
	require.Equal(t, 4, n, "survivor owns all detections")
}

func TestLastWindowTime(t *testing.T) {
	db := openTestDB(t)

	ts, err := db.LastWindowTime()
	require.NoError(t, err)
	require.True(t, ts.IsZero(), "empty archive has no last window")

	w1 := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	w2 := w1.Add(time.Hour)
	for _, w := range []time.Time{w1, w2} {
		require.NoError(t, db.FlushWindow(nil, firms.WindowSummary{WindowTime: w}))
	}

	ts, err = db.LastWindowTime()
	require.NoError(t, err)
	require.True(t, ts.Equal(w2), "last window is the max flushed")
}
