package firms

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/firewatch-data/hotspot.report/internal/config"
)

type captureSink struct {
	flushes []WindowSummary
	events  int
}

func (s *captureSink) FlushWindow(events []*FireEvent, summary WindowSummary) error {
	s.flushes = append(s.flushes, summary)
	s.events = len(events)
	return nil
}

func testPipeline(t *testing.T, sink Sink) *Pipeline {
	t.Helper()
	cfg, err := config.LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatal(err)
	}
	// Shrink the density threshold so small fixtures cluster.
	minSize := 2
	cfg.MinClusterSize = &minSize

	p, err := PipelineFromTuning(cfg, sink)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipelineEndToEnd(t *testing.T) {
	sink := &captureSink{}
	p := testPipeline(t, sink)

	window1 := []RawRecord{
		rawAt("10.0", "10.0", "2025-03-01", "0100"),
		rawAt("10.001", "10.001", "2025-03-01", "0100"),
		rawAt("10.002", "10.002", "2025-03-01", "0102"),
		rawAt("10.5", "10.5", "2025-03-01", "0100"),   // isolated, stays noise
		rawAt("10.0", "10.0", "2025-03-01", "0100"),   // exact duplicate
		rawAt("bogus", "10.0", "2025-03-01", "0100"),  // malformed
	}
	t1 := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)

	summary, err := p.ProcessWindow(window1, t1)
	if err != nil {
		t.Fatal(err)
	}
	want := WindowSummary{
		WindowTime: t1,
		Detections: 4,
		Malformed:  1,
		Duplicates: 1,
		Clusters:   1,
		Noise:      1,
		Created:    1,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("window 1 summary mismatch (-want +got):\n%s", diff)
	}

	// The same fire an hour later, slightly shifted.
	window2 := []RawRecord{
		rawAt("10.001", "10.0", "2025-03-01", "0200"),
		rawAt("10.002", "10.001", "2025-03-01", "0200"),
	}
	t2 := t1.Add(time.Hour)

	summary, err = p.ProcessWindow(window2, t2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Continued != 1 || summary.Created != 0 {
		t.Fatalf("window 2: %+v", summary)
	}

	total, active, _, _ := p.Store().Counts()
	if total != 1 || active != 1 {
		t.Errorf("store counts total=%d active=%d", total, active)
	}
	event := p.Store().EventsByStatus()[0]
	if len(event.Detections) != 5 {
		t.Errorf("event has %d detections, want 5", len(event.Detections))
	}

	if len(sink.flushes) != 2 {
		t.Fatalf("sink saw %d flushes, want 2", len(sink.flushes))
	}
	if sink.events != 1 {
		t.Errorf("sink saw %d events, want 1", sink.events)
	}
	if !sink.flushes[1].WindowTime.Equal(t2) {
		t.Errorf("sink window time = %v", sink.flushes[1].WindowTime)
	}
}

func TestPipelineProcessDetections(t *testing.T) {
	p := testPipeline(t, nil)
	t0 := testWindow

	detections := []Detection{
		det("a", 10.0, 10.0, t0, 5),
		det("b", 10.001, 10.0, t0, 5),
	}
	summary, err := p.ProcessDetections(detections, t0)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Created != 1 || summary.Detections != 2 {
		t.Errorf("summary = %+v", summary)
	}
}
