package firms

import (
	"fmt"
	"sync"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/config"
	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// Sink receives the updated events and the window summary after a window
// commits. The archive database implements this.
type Sink interface {
	FlushWindow(events []*FireEvent, summary WindowSummary) error
}

// Pipeline runs one refresh cycle end to end: normalize the raw batch,
// cluster the window, link clusters into the event store. Processing is
// single-threaded and batch-oriented; concurrent refreshes of one region
// are serialized, and independent regions each own their own Pipeline and
// store with no shared mutable state.
type Pipeline struct {
	mu         sync.Mutex // serializes refresh cycles
	normalizer *Normalizer
	clusterer  ClustererInterface
	linker     *Linker
	store      *EventStore
	sink       Sink
}

// NewPipeline assembles a pipeline from its parts. sink may be nil.
func NewPipeline(normalizer *Normalizer, clusterer ClustererInterface, store *EventStore, linkerConfig LinkerConfig, sink Sink) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		clusterer:  clusterer,
		linker:     NewLinker(store, linkerConfig),
		store:      store,
		sink:       sink,
	}
}

// PipelineFromTuning builds a pipeline wired per the tuning config. sink
// may be nil.
func PipelineFromTuning(cfg *config.TuningConfig, sink Sink) (*Pipeline, error) {
	normCfg := NormalizerConfig{CoordinateDecimals: cfg.GetCoordinateDecimals()}
	if raw := cfg.GetRegionBBox(); raw != "" {
		box, err := geo.ParseBBox(raw)
		if err != nil {
			return nil, fmt.Errorf("region_bbox: %w", err)
		}
		normCfg.RegionBBox = &box
	}

	clusterer := NewDBSCANClusterer(ClusteringParams{
		NeighborhoodRadiusM: cfg.GetNeighborhoodRadiusM(),
		MinClusterSize:      cfg.GetMinClusterSize(),
		KeepNoiseSingletons: cfg.GetKeepNoiseSingletons(),
	})

	linkerConfig := LinkerConfig{
		MatchRadiusM:      cfg.GetMatchRadiusM(),
		ActiveWindow:      cfg.GetActiveWindow(),
		ClosureTimeout:    cfg.GetClosureTimeout(),
		AllowReactivation: cfg.GetAllowReactivation(),
	}

	store := NewEventStore(cfg.GetMatchRadiusM())
	return NewPipeline(NewNormalizer(normCfg), clusterer, store, linkerConfig, sink), nil
}

// Store returns the pipeline's event store for queries and analytics.
func (p *Pipeline) Store() *EventStore {
	return p.store
}

// ProcessWindow ingests one window of raw records and updates the event
// store. The store update is all-or-nothing: the linker pass runs under
// the store's write lock, so an aborted refresh cycle leaves the last
// fully-committed state visible. Sink errors surface to the caller after
// the store has already committed.
func (p *Pipeline) ProcessWindow(records []RawRecord, windowTime time.Time) (WindowSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	detections, ingest := p.normalizer.Normalize(records)
	clusters, noise := p.clusterer.Cluster(detections, windowTime)

	summary := p.linker.ProcessWindow(clusters, windowTime)
	summary.Detections = ingest.Kept
	summary.Malformed = ingest.Malformed
	summary.Duplicates = ingest.Duplicates
	summary.OutOfRegion = ingest.OutOfRegion
	summary.Noise = noise

	if p.sink != nil {
		if err := p.sink.FlushWindow(p.store.EventsByStatus(), summary); err != nil {
			return summary, fmt.Errorf("flush window: %w", err)
		}
	}
	return summary, nil
}

// ProcessDetections runs clustering and linking over already-normalized
// detections, bypassing ingest. Used by replay tooling and tests.
func (p *Pipeline) ProcessDetections(detections []Detection, windowTime time.Time) (WindowSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clusters, noise := p.clusterer.Cluster(detections, windowTime)
	summary := p.linker.ProcessWindow(clusters, windowTime)
	summary.Detections = len(detections)
	summary.Noise = noise

	if p.sink != nil {
		if err := p.sink.FlushWindow(p.store.EventsByStatus(), summary); err != nil {
			return summary, fmt.Errorf("flush window: %w", err)
		}
	}
	return summary, nil
}

// Normalizer exposes the pipeline's ingest normalizer so replay tooling can
// pre-normalize a whole file before slicing it into windows.
func (p *Pipeline) Normalizer() *Normalizer {
	return p.normalizer
}
