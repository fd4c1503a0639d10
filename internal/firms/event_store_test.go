package firms

import (
	"errors"
	"testing"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

func TestEventStoreGetEventNotFound(t *testing.T) {
	store := NewEventStore(2000)
	if _, err := store.GetEvent("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEventStoreSnapshotIsolation(t *testing.T) {
	store := NewEventStore(2000)
	if err := store.LoadEvent(makeEvent("e1", 1, 10.0, 10.0, testWindow, EventActive)); err != nil {
		t.Fatal(err)
	}

	snap, err := store.GetEvent("e1")
	if err != nil {
		t.Fatal(err)
	}
	snap.Status = EventClosed
	snap.Detections[0].FRP = 999

	fresh, err := store.GetEvent("e1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != EventActive {
		t.Error("snapshot mutation leaked into store status")
	}
	if fresh.Detections[0].FRP == 999 {
		t.Error("snapshot mutation leaked into store detections")
	}
}

func TestEventStoreStatusFilterAndOrder(t *testing.T) {
	store := NewEventStore(2000)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.LoadEvent(makeEvent("a", 3, 10.0, 10.0, testWindow, EventActive)))
	must(store.LoadEvent(makeEvent("b", 1, 11.0, 10.0, testWindow, EventDormant)))
	must(store.LoadEvent(makeEvent("c", 2, 12.0, 10.0, testWindow, EventClosed)))

	all := store.EventsByStatus()
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	// Creation order, not insertion order.
	for i, want := range []string{"b", "c", "a"} {
		if all[i].EventID != want {
			t.Errorf("position %d: got %s, want %s", i, all[i].EventID, want)
		}
	}

	live := store.EventsByStatus(EventActive, EventDormant)
	if len(live) != 2 {
		t.Errorf("expected 2 live events, got %d", len(live))
	}
	for _, e := range live {
		if e.Status == EventClosed {
			t.Error("closed event in live filter")
		}
	}
}

func TestEventStoreEventsInBBox(t *testing.T) {
	store := NewEventStore(2000)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.LoadEvent(makeEvent("inside", 1, 10.5, 10.5, testWindow, EventActive)))
	must(store.LoadEvent(makeEvent("outside", 2, 20.0, 20.0, testWindow, EventActive)))

	box := geo.BBox{MinLon: 10.0, MinLat: 10.0, MaxLon: 11.0, MaxLat: 11.0}
	got := store.EventsInBBox(box)
	if len(got) != 1 || got[0].EventID != "inside" {
		t.Errorf("bbox query returned %d events", len(got))
	}
}

func TestEventStoreLoadEventRestoresSequence(t *testing.T) {
	store := NewEventStore(2000)
	if err := store.LoadEvent(makeEvent("restored", 7, 10.0, 10.0, testWindow, EventDormant)); err != nil {
		t.Fatal(err)
	}
	if err := store.LoadEvent(makeEvent("restored", 8, 10.0, 10.0, testWindow, EventDormant)); err == nil {
		t.Error("duplicate event id accepted")
	}

	// New identities created after a restore must sort after it.
	linker := NewLinker(store, testLinkerConfig())
	linker.ProcessWindow([]Cluster{clusterAt("d1", 12.0, 12.0, testWindow)}, testWindow)

	events := store.EventsByStatus()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].CreatedSeq <= 7 {
		t.Errorf("new event sequence %d not after restored sequence", events[1].CreatedSeq)
	}

	// The restored event's dedup state survived: re-linking its own
	// detection adds nothing.
	restored, _ := store.GetEvent("restored")
	linker.ProcessWindow([]Cluster{clusterAt("restored-d0", 10.0, 10.0, testWindow.Add(time.Hour))}, testWindow.Add(time.Hour))
	after, _ := store.GetEvent("restored")
	if len(after.Detections) != len(restored.Detections) {
		t.Errorf("duplicate detection id re-added after restore")
	}
}

func TestEventStoreCandidatesNearestFirst(t *testing.T) {
	store := NewEventStore(2000)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.LoadEvent(makeEvent("near", 2, 10.0005, 10.0, testWindow, EventActive)))
	must(store.LoadEvent(makeEvent("nearer", 1, 10.0002, 10.0, testWindow, EventDormant)))
	must(store.LoadEvent(makeEvent("closed", 3, 10.0001, 10.0, testWindow, EventClosed)))
	must(store.LoadEvent(makeEvent("far", 4, 11.0, 10.0, testWindow, EventActive)))

	store.mu.RLock()
	candidates := store.candidatesNearLocked(geo.Point{Lat: 10.0, Lon: 10.0}, 2000, false)
	store.mu.RUnlock()

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].event.EventID != "nearer" || candidates[1].event.EventID != "near" {
		t.Errorf("candidates not nearest-first: %s, %s",
			candidates[0].event.EventID, candidates[1].event.EventID)
	}

	store.mu.RLock()
	withClosed := store.candidatesNearLocked(geo.Point{Lat: 10.0, Lon: 10.0}, 2000, true)
	store.mu.RUnlock()
	if len(withClosed) != 3 {
		t.Errorf("expected closed event among candidates, got %d", len(withClosed))
	}
}

func TestEventStoreCounts(t *testing.T) {
	store := NewEventStore(2000)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.LoadEvent(makeEvent("a", 1, 10.0, 10.0, testWindow, EventActive)))
	must(store.LoadEvent(makeEvent("b", 2, 11.0, 10.0, testWindow, EventActive)))
	must(store.LoadEvent(makeEvent("c", 3, 12.0, 10.0, testWindow, EventDormant)))
	must(store.LoadEvent(makeEvent("d", 4, 13.0, 10.0, testWindow, EventClosed)))

	total, active, dormant, closed := store.Counts()
	if total != 4 || active != 2 || dormant != 1 || closed != 1 {
		t.Errorf("counts total=%d active=%d dormant=%d closed=%d", total, active, dormant, closed)
	}
}
