package firms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang/geo/s2"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// EventStore is the authoritative in-memory registry of fire events. It
// owns every FireEvent exclusively; the linker mutates events under the
// write lock, readers take the read lock and receive copies. A window
// update is atomic: readers see the pre-window or post-window state.
type EventStore struct {
	mu      sync.RWMutex
	events  map[string]*FireEvent
	nextSeq int64

	// Location index over latest centroids: s2 cells at a level whose
	// minimum cell width is at least the match radius, so one ring of
	// neighbors covers every candidate within the radius.
	cellLevel int
	cells     map[s2.CellID]map[string]bool
	eventCell map[string]s2.CellID
}

// NewEventStore creates a store whose location index is sized to the
// linker's match radius.
func NewEventStore(matchRadiusM float64) *EventStore {
	level := s2.MinWidthMetric.MaxLevel(matchRadiusM / geo.EarthRadiusMeters)
	if level > 30 {
		level = 30
	}
	return &EventStore{
		events:    make(map[string]*FireEvent),
		nextSeq:   1,
		cellLevel: level,
		cells:     make(map[s2.CellID]map[string]bool),
		eventCell: make(map[string]s2.CellID),
	}
}

func (s *EventStore) cellFor(p geo.Point) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)).Parent(s.cellLevel)
}

// insertLocked registers a new event. Caller holds the write lock.
func (s *EventStore) insertLocked(event *FireEvent) {
	event.CreatedSeq = s.nextSeq
	s.nextSeq++
	s.events[event.EventID] = event
	s.reindexLocked(event)
}

// reindexLocked moves an event to the index cell of its latest centroid.
// Caller holds the write lock.
func (s *EventStore) reindexLocked(event *FireEvent) {
	cell := s.cellFor(event.LatestCentroid())
	if prev, ok := s.eventCell[event.EventID]; ok {
		if prev == cell {
			return
		}
		delete(s.cells[prev], event.EventID)
		if len(s.cells[prev]) == 0 {
			delete(s.cells, prev)
		}
	}
	if s.cells[cell] == nil {
		s.cells[cell] = make(map[string]bool)
	}
	s.cells[cell][event.EventID] = true
	s.eventCell[event.EventID] = cell
}

// removeLocked drops an event from the store and index. Caller holds the
// write lock. Only merges remove events; closure retains them for
// historical query.
func (s *EventStore) removeLocked(eventID string) {
	if cell, ok := s.eventCell[eventID]; ok {
		delete(s.cells[cell], eventID)
		if len(s.cells[cell]) == 0 {
			delete(s.cells, cell)
		}
		delete(s.eventCell, eventID)
	}
	delete(s.events, eventID)
}

// setStatusLocked transitions an event's status. Closed is terminal: a
// closed event never transitions again (reactivation, when enabled, goes
// through merge/extend which calls this only after candidate filtering
// deliberately included it).
func (s *EventStore) setStatusLocked(event *FireEvent, status EventStatus) {
	event.Status = status
}

// candidateEvent pairs a candidate with its distance from the query point.
type candidateEvent struct {
	event *FireEvent
	dist  float64
}

// candidatesNearLocked returns live events whose latest centroid lies
// within radiusM of p, nearest first (creation order breaks ties). Closed
// events are excluded unless includeClosed. Caller holds the lock.
func (s *EventStore) candidatesNearLocked(p geo.Point, radiusM float64, includeClosed bool) []candidateEvent {
	center := s.cellFor(p)
	cells := append(center.AllNeighbors(s.cellLevel), center)

	var candidates []candidateEvent
	for _, cell := range cells {
		for eventID := range s.cells[cell] {
			event := s.events[eventID]
			if event == nil {
				continue
			}
			if event.Status == EventClosed && !includeClosed {
				continue
			}
			if d := geo.Distance(p, event.LatestCentroid()); d <= radiusM {
				candidates = append(candidates, candidateEvent{event: event, dist: d})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].event.CreatedSeq < candidates[j].event.CreatedSeq
	})
	return candidates
}

// mergeLocked folds absorbed into survivor: detections are concatenated
// (deduplicated, re-sorted by timestamp), centroid histories interleaved by
// time, and the absorbed identity removed. Caller holds the write lock and
// guarantees survivor is the older identity.
func (s *EventStore) mergeLocked(survivor, absorbed *FireEvent) {
	survivor.appendDetections(absorbed.Detections)

	survivor.CentroidHistory = append(survivor.CentroidHistory, absorbed.CentroidHistory...)
	sort.SliceStable(survivor.CentroidHistory, func(i, j int) bool {
		return survivor.CentroidHistory[i].Time.Before(survivor.CentroidHistory[j].Time)
	})

	if absorbed.Status == EventActive && survivor.Status != EventActive && survivor.Status != EventClosed {
		survivor.Status = EventActive
	}

	s.removeLocked(absorbed.EventID)
	s.reindexLocked(survivor)
}

// copyEvent returns a snapshot a caller may keep without observing later
// mutations.
func copyEvent(e *FireEvent) *FireEvent {
	cp := &FireEvent{
		EventID:         e.EventID,
		Status:          e.Status,
		Detections:      append([]Detection(nil), e.Detections...),
		FirstSeen:       e.FirstSeen,
		LastSeen:        e.LastSeen,
		CentroidHistory: append([]CentroidSample(nil), e.CentroidHistory...),
		CreatedSeq:      e.CreatedSeq,
	}
	return cp
}

// GetEvent returns a snapshot of the event, or ErrNotFound.
func (s *EventStore) GetEvent(eventID string) (*FireEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return copyEvent(event), nil
}

// EventsByStatus returns snapshots of events in any of the given statuses,
// ordered by creation. No statuses means all events.
func (s *EventStore) EventsByStatus(statuses ...EventStatus) []*FireEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(e *FireEvent) bool { return matchesStatus(e, statuses) })
}

// EventsInBBox returns snapshots of events whose latest centroid lies in
// the box and whose status matches the filter, ordered by creation.
func (s *EventStore) EventsInBBox(box geo.BBox, statuses ...EventStatus) []*FireEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(e *FireEvent) bool {
		return matchesStatus(e, statuses) && box.Contains(e.LatestCentroid())
	})
}

func (s *EventStore) filterLocked(keep func(*FireEvent) bool) []*FireEvent {
	var out []*FireEvent
	for _, event := range s.events {
		if keep(event) {
			out = append(out, copyEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedSeq < out[j].CreatedSeq })
	return out
}

func matchesStatus(e *FireEvent, statuses []EventStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if e.Status == st {
			return true
		}
	}
	return false
}

// Counts returns event totals by status.
func (s *EventStore) Counts() (total, active, dormant, closed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, event := range s.events {
		total++
		switch event.Status {
		case EventActive:
			active++
		case EventDormant:
			dormant++
		case EventClosed:
			closed++
		}
	}
	return
}

// LoadEvent restores a previously persisted event, e.g. at startup from
// the archive database. The store takes ownership of the value.
func (s *EventStore) LoadEvent(event *FireEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("load event: missing event id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return fmt.Errorf("load event: duplicate event id %s", event.EventID)
	}

	event.seen = make(map[string]struct{}, len(event.Detections))
	for _, d := range event.Detections {
		event.seen[d.ID] = struct{}{}
	}

	s.events[event.EventID] = event
	s.reindexLocked(event)
	if event.CreatedSeq >= s.nextSeq {
		s.nextSeq = event.CreatedSeq + 1
	}
	return nil
}
