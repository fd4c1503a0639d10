package firms

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// EventStatus represents the lifecycle state of a fire event.
type EventStatus string

const (
	EventActive  EventStatus = "active"  // updated within the active window
	EventDormant EventStatus = "dormant" // unobserved longer than the active window, short of closure
	EventClosed  EventStatus = "closed"  // unobserved past the closure timeout; terminal
)

// CentroidSample is one entry in an event's centroid history.
type CentroidSample struct {
	Time     time.Time `json:"time"`
	Centroid geo.Point `json:"centroid"`
}

// FireEvent is the durable, identity-bearing entity: one physical fire
// tracked across windows. Events are owned exclusively by the EventStore
// and mutated only by the Linker during a window pass.
type FireEvent struct {
	// EventID is assigned at creation and never reused.
	EventID string `json:"event_id"`
	Status  EventStatus `json:"status"`

	// Detections is the append-only, time-ordered sequence of every
	// detection ever linked to this event. Duplicate detection ids are
	// ignored on append, which makes window reprocessing idempotent.
	Detections []Detection `json:"detections"`

	FirstSeen time.Time `json:"first_seen"`
	// LastSeen equals the max timestamp across Detections and is
	// non-decreasing across window passes.
	LastSeen time.Time `json:"last_seen"`

	// CentroidHistory holds one (timestamp, centroid) pair per window the
	// event was updated in, ordered by time.
	CentroidHistory []CentroidSample `json:"centroid_history"`

	// CreatedSeq is the creation ordinal; on merge the event with the
	// lower ordinal (the older identity) survives.
	CreatedSeq int64 `json:"created_seq"`

	seen map[string]struct{} // detection id dedup set
}

// LatestCentroid returns the most recent centroid history entry, which is
// what the linker matches new clusters against.
func (e *FireEvent) LatestCentroid() geo.Point {
	if len(e.CentroidHistory) == 0 {
		return geo.Point{}
	}
	return e.CentroidHistory[len(e.CentroidHistory)-1].Centroid
}

// appendDetections links new detections to the event, ignoring duplicate
// ids, and keeps Detections time-ordered and LastSeen/FirstSeen current.
// Returns the number of detections actually added.
func (e *FireEvent) appendDetections(detections []Detection) int {
	if e.seen == nil {
		e.seen = make(map[string]struct{}, len(e.Detections))
		for _, d := range e.Detections {
			e.seen[d.ID] = struct{}{}
		}
	}

	added := 0
	for _, d := range detections {
		if _, dup := e.seen[d.ID]; dup {
			continue
		}
		e.seen[d.ID] = struct{}{}
		e.Detections = append(e.Detections, d)
		added++
	}
	if added == 0 {
		return 0
	}

	sort.SliceStable(e.Detections, func(i, j int) bool {
		return e.Detections[i].Time.Before(e.Detections[j].Time)
	})
	e.FirstSeen = e.Detections[0].Time
	e.LastSeen = e.Detections[len(e.Detections)-1].Time
	return added
}

// LinkerConfig holds configuration parameters for the temporal linker.
type LinkerConfig struct {
	// MatchRadiusM is the geodesic gate between a cluster centroid and an
	// event's latest centroid, independent of the clustering radius.
	MatchRadiusM float64
	// ActiveWindow is how long an event stays active without a matching
	// cluster before turning dormant.
	ActiveWindow time.Duration
	// ClosureTimeout is how long an event may go unobserved before it is
	// closed. Closure is terminal unless AllowReactivation is set.
	ClosureTimeout time.Duration
	// AllowReactivation makes closed events eligible match candidates
	// again. Off by default: a flare-up after the timeout is a new fire.
	AllowReactivation bool
}

// DefaultLinkerConfig returns linker defaults matching the tuning defaults
// file: one day of activity slack, five days to closure.
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		MatchRadiusM:   2000.0,
		ActiveWindow:   24 * time.Hour,
		ClosureTimeout: 120 * time.Hour,
	}
}

// WindowSummary reports the outcome of one window-processing pass.
type WindowSummary struct {
	WindowTime  time.Time `json:"window_time"`
	Detections  int       `json:"detections"`
	Malformed   int       `json:"malformed"`
	Duplicates  int       `json:"duplicates"`
	OutOfRegion int       `json:"out_of_region"`
	Clusters    int       `json:"clusters"`
	Noise       int       `json:"noise"`
	Created     int       `json:"created"`
	Continued   int       `json:"continued"`
	Reactivated int       `json:"reactivated"`
	Merged      int       `json:"merged"`
	Closed      int       `json:"closed"`
}

// Linker matches one window's clusters against the event store, updating
// event identities and lifecycles. Every cluster is classified into exactly
// one outcome (extend, create, or trigger a merge); a window with zero
// clusters only ages events.
type Linker struct {
	config LinkerConfig
	store  *EventStore
}

// NewLinker creates a linker over the given store.
func NewLinker(store *EventStore, config LinkerConfig) *Linker {
	return &Linker{config: config, store: store}
}

// assignment records a cluster tentatively matched to an event.
type assignment struct {
	clusterIdx int
	eventID    string
	dist       float64
}

// ProcessWindow runs one linking pass. The store's write lock is held for
// the whole pass, so readers observe either the pre-window or post-window
// state, never an interleaving.
func (l *Linker) ProcessWindow(clusters []Cluster, windowTime time.Time) WindowSummary {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	summary := WindowSummary{WindowTime: windowTime, Clusters: len(clusters)}

	// Step 1: close events unobserved past the closure timeout. This runs
	// before matching so clusters near a just-expired event start a fresh
	// identity rather than reopening the old one.
	for _, event := range l.store.events {
		if event.Status == EventClosed {
			continue
		}
		if windowTime.Sub(event.LastSeen) >= l.config.ClosureTimeout {
			l.store.setStatusLocked(event, EventClosed)
			summary.Closed++
		}
	}

	// Step 2: match clusters to candidate events, merging events that a
	// single cluster spans when they sit within the match radius of each
	// other. The older identity survives a merge.
	mergedInto := make(map[string]string)
	resolve := func(id string) string {
		for {
			next, ok := mergedInto[id]
			if !ok {
				return id
			}
			id = next
		}
	}

	var assigned []assignment
	var unmatched []int

	for i := range clusters {
		candidates := l.store.candidatesNearLocked(clusters[i].Centroid, l.config.MatchRadiusM, l.config.AllowReactivation)
		if len(candidates) == 0 {
			unmatched = append(unmatched, i)
			continue
		}

		best := candidates[0]
		for _, other := range candidates[1:] {
			if _, gone := mergedInto[other.event.EventID]; gone {
				continue
			}
			if geo.Distance(best.event.LatestCentroid(), other.event.LatestCentroid()) > l.config.MatchRadiusM {
				continue
			}
			survivor, absorbed := best.event, other.event
			if absorbed.CreatedSeq < survivor.CreatedSeq {
				survivor, absorbed = absorbed, survivor
			}
			l.store.mergeLocked(survivor, absorbed)
			mergedInto[absorbed.EventID] = survivor.EventID
			summary.Merged++
			best = candidateEvent{
				event: survivor,
				dist:  geo.Distance(clusters[i].Centroid, survivor.LatestCentroid()),
			}
		}
		assigned = append(assigned, assignment{clusterIdx: i, eventID: best.event.EventID, dist: best.dist})
	}

	// Step 3: resolve contention. When several clusters matched the same
	// event, only the nearest extends it; the rest start new events. This
	// split policy prefers under-merging over false identity continuity.
	byEvent := make(map[string][]assignment)
	var eventOrder []string
	for _, a := range assigned {
		id := resolve(a.eventID)
		if _, ok := byEvent[id]; !ok {
			eventOrder = append(eventOrder, id)
		}
		byEvent[id] = append(byEvent[id], a)
	}

	updated := make(map[string]bool)
	for _, eventID := range eventOrder {
		group := byEvent[eventID]
		winner := group[0]
		for _, a := range group[1:] {
			if a.dist < winner.dist {
				winner = a
			}
		}

		event := l.store.events[eventID]
		wasDormantOrClosed := event.Status != EventActive
		l.extendLocked(event, clusters[winner.clusterIdx], windowTime)
		updated[eventID] = true
		if wasDormantOrClosed {
			summary.Reactivated++
		}
		summary.Continued++

		for _, a := range group {
			if a.clusterIdx == winner.clusterIdx {
				continue
			}
			l.createLocked(clusters[a.clusterIdx], windowTime)
			summary.Created++
		}
	}

	// Step 4: unmatched clusters create new events.
	for _, i := range unmatched {
		l.createLocked(clusters[i], windowTime)
		summary.Created++
	}

	// Step 5: age events that went unmatched this window toward dormancy.
	for _, event := range l.store.events {
		if updated[event.EventID] || event.Status != EventActive {
			continue
		}
		if windowTime.Sub(event.LastSeen) > l.config.ActiveWindow {
			l.store.setStatusLocked(event, EventDormant)
		}
	}

	return summary
}

// extendLocked appends a matched cluster's detections to an event and
// refreshes its centroid history and status.
func (l *Linker) extendLocked(event *FireEvent, cluster Cluster, windowTime time.Time) {
	event.appendDetections(cluster.Members)

	// One history entry per window: reprocessing the same window must not
	// grow the history.
	n := len(event.CentroidHistory)
	if n == 0 || !event.CentroidHistory[n-1].Time.Equal(windowTime) {
		event.CentroidHistory = append(event.CentroidHistory, CentroidSample{Time: windowTime, Centroid: cluster.Centroid})
	}

	l.store.setStatusLocked(event, EventActive)
	l.store.reindexLocked(event)
}

// createLocked starts a new event from an unmatched cluster.
func (l *Linker) createLocked(cluster Cluster, windowTime time.Time) *FireEvent {
	event := &FireEvent{
		EventID: uuid.NewString(),
		Status:  EventActive,
		CentroidHistory: []CentroidSample{
			{Time: windowTime, Centroid: cluster.Centroid},
		},
	}
	event.appendDetections(cluster.Members)
	l.store.insertLocked(event)
	return event
}
