package firms

import (
	"math"
	"sort"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/geo"
)

// Constants for clustering configuration
const (
	// MetersPerDegreeLat is the approximate north-south extent of one
	// degree of latitude, used only to size index cells. Exact neighbor
	// checks always use geodesic distance.
	MetersPerDegreeLat = 111320.0
	// EstimatedDetectionsPerCell is used for initial spatial index capacity estimation
	EstimatedDetectionsPerCell = 4
	// MaxIndexLatitude clamps the longitude cell-size correction so cells
	// stay finite near the poles.
	MaxIndexLatitude = 85.0
)

// Cluster is the transient output of one clustering pass: a spatially
// coherent group of detections within a single window. Clusters are
// consumed immediately by the temporal linker and never persisted.
type Cluster struct {
	Members    []Detection
	Centroid   geo.Point
	WindowTime time.Time

	// MeanTime is the mean acquisition time of the members; it orders
	// clusters deterministically for downstream matching.
	MeanTime        time.Time
	TotalFRP        float64
	PeakFRP         float64
	PeakBrightnessK float64
}

// MemberIDs returns the detection ids of the cluster members.
func (c *Cluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, d := range c.Members {
		ids[i] = d.ID
	}
	return ids
}

// ClusteringParams contains parameters for the DBSCAN clustering pass.
type ClusteringParams struct {
	// NeighborhoodRadiusM is the geodesic distance in meters within which
	// two detections are neighbors.
	NeighborhoodRadiusM float64
	// MinClusterSize is the minimum number of detections (a core point
	// plus its neighbors) required to form a cluster.
	MinClusterSize int
	// KeepNoiseSingletons emits unclustered detections as size-1 clusters
	// instead of discarding them.
	KeepNoiseSingletons bool
}

// SpatialIndex provides efficient neighbor queries over lat/lon detections
// using a regular grid. Cell sizes approximately match the neighborhood
// radius so a 3x3 cell scan covers every candidate neighbor.
type SpatialIndex struct {
	CellSizeLat float64 // degrees
	CellSizeLon float64 // degrees
	Grid        map[int64][]int
}

// NewSpatialIndex creates a spatial index with cells sized to radiusM at
// the given reference latitude.
func NewSpatialIndex(radiusM, refLat float64) *SpatialIndex {
	if refLat > MaxIndexLatitude {
		refLat = MaxIndexLatitude
	} else if refLat < -MaxIndexLatitude {
		refLat = -MaxIndexLatitude
	}
	cosLat := math.Cos(refLat * math.Pi / 180)
	return &SpatialIndex{
		CellSizeLat: radiusM / MetersPerDegreeLat,
		CellSizeLon: radiusM / (MetersPerDegreeLat * cosLat),
		Grid:        make(map[int64][]int),
	}
}

// Build populates the spatial index from a detection batch.
func (si *SpatialIndex) Build(detections []Detection) {
	si.Grid = make(map[int64][]int, len(detections)/EstimatedDetectionsPerCell+1)
	for i, d := range detections {
		id := si.cellID(si.cellCoords(d.Position))
		si.Grid[id] = append(si.Grid[id], i)
	}
}

func (si *SpatialIndex) cellCoords(p geo.Point) (int64, int64) {
	return int64(math.Floor(p.Lat / si.CellSizeLat)), int64(math.Floor(p.Lon / si.CellSizeLon))
}

// cellID computes a unique cell identifier from signed cell coordinates
// using zigzag encoding and Szudzik's pairing function.
func (si *SpatialIndex) cellID(cellLat, cellLon int64) int64 {
	var a, b int64
	if cellLat >= 0 {
		a = 2 * cellLat
	} else {
		a = -2*cellLat - 1
	}
	if cellLon >= 0 {
		b = 2 * cellLon
	} else {
		b = -2*cellLon - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// RegionQuery returns indices of all detections within radiusM of
// detections[idx], including idx itself.
func (si *SpatialIndex) RegionQuery(detections []Detection, idx int, radiusM float64) []int {
	p := detections[idx].Position
	cellLat, cellLon := si.cellCoords(p)

	neighbors := []int{}
	for dLat := int64(-1); dLat <= 1; dLat++ {
		for dLon := int64(-1); dLon <= 1; dLon++ {
			for _, candidateIdx := range si.Grid[si.cellID(cellLat+dLat, cellLon+dLon)] {
				if geo.Distance(p, detections[candidateIdx].Position) <= radiusM {
					neighbors = append(neighbors, candidateIdx)
				}
			}
		}
	}
	return neighbors
}

// DBSCAN performs density-based clustering on one window's detections.
// A detection is a core point when its neighborhood (itself included)
// holds at least MinClusterSize detections; clusters grow by density
// connectivity from core points. Non-reachable detections are noise.
func DBSCAN(detections []Detection, params ClusteringParams, windowTime time.Time) (clusters []Cluster, noise int) {
	if len(detections) == 0 {
		return nil, 0
	}

	n := len(detections)
	labels := make([]int, n) // 0=unvisited, -1=noise, >0=clusterID
	clusterID := 0

	index := NewSpatialIndex(params.NeighborhoodRadiusM, meanLatitude(detections))
	index.Build(detections)

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}

		neighbors := index.RegionQuery(detections, i, params.NeighborhoodRadiusM)
		if len(neighbors) < params.MinClusterSize {
			labels[i] = -1
			continue
		}

		clusterID++
		expandCluster(detections, index, labels, i, neighbors, clusterID, params)
	}

	clusters = buildClusters(detections, labels, clusterID, windowTime)

	for i, label := range labels {
		if label != -1 {
			continue
		}
		noise++
		if params.KeepNoiseSingletons {
			clusters = append(clusters, newCluster([]Detection{detections[i]}, windowTime))
		}
	}

	sortClusters(clusters)
	return clusters, noise
}

// expandCluster grows a cluster from a core point using a queue of
// reachable detections.
func expandCluster(detections []Detection, index *SpatialIndex, labels []int,
	seedIdx int, neighbors []int, clusterID int, params ClusteringParams) {

	labels[seedIdx] = clusterID

	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]

		if labels[idx] == -1 {
			labels[idx] = clusterID // noise becomes border point
		}
		if labels[idx] != 0 {
			continue
		}

		labels[idx] = clusterID
		newNeighbors := index.RegionQuery(detections, idx, params.NeighborhoodRadiusM)
		if len(newNeighbors) >= params.MinClusterSize {
			neighbors = append(neighbors, newNeighbors...)
		}
	}
}

func buildClusters(detections []Detection, labels []int, maxClusterID int, windowTime time.Time) []Cluster {
	clusters := make([]Cluster, 0, maxClusterID)
	for cid := 1; cid <= maxClusterID; cid++ {
		members := make([]Detection, 0)
		for i, label := range labels {
			if label == cid {
				members = append(members, detections[i])
			}
		}
		if len(members) == 0 {
			continue
		}
		clusters = append(clusters, newCluster(members, windowTime))
	}
	return clusters
}

// newCluster computes cluster metrics for a member set. The centroid is the
// FRP-weighted mean position, falling back to the unweighted mean when no
// member carries radiative power.
func newCluster(members []Detection, windowTime time.Time) Cluster {
	points := make([]geo.Point, len(members))
	weights := make([]float64, len(members))
	var totalFRP, peakFRP, peakBrightness float64
	var sumNanos int64

	for i, d := range members {
		points[i] = d.Position
		weights[i] = d.FRP
		totalFRP += d.FRP
		if d.FRP > peakFRP {
			peakFRP = d.FRP
		}
		if d.BrightnessK > peakBrightness {
			peakBrightness = d.BrightnessK
		}
		sumNanos += d.Time.UnixNano() / int64(len(members))
	}

	return Cluster{
		Members:         members,
		Centroid:        geo.WeightedCentroid(points, weights),
		WindowTime:      windowTime,
		MeanTime:        time.Unix(0, sumNanos).UTC(),
		TotalFRP:        totalFRP,
		PeakFRP:         peakFRP,
		PeakBrightnessK: peakBrightness,
	}
}

// sortClusters orders clusters deterministically: mean member timestamp
// ascending, then member count descending, then centroid latitude and
// longitude as final tie-breaks so downstream matching is reproducible.
func sortClusters(clusters []Cluster) {
	sort.Slice(clusters, func(i, j int) bool {
		if !clusters[i].MeanTime.Equal(clusters[j].MeanTime) {
			return clusters[i].MeanTime.Before(clusters[j].MeanTime)
		}
		if len(clusters[i].Members) != len(clusters[j].Members) {
			return len(clusters[i].Members) > len(clusters[j].Members)
		}
		if clusters[i].Centroid.Lat != clusters[j].Centroid.Lat {
			return clusters[i].Centroid.Lat < clusters[j].Centroid.Lat
		}
		return clusters[i].Centroid.Lon < clusters[j].Centroid.Lon
	})
}

func meanLatitude(detections []Detection) float64 {
	var sum float64
	for _, d := range detections {
		sum += d.Position.Lat
	}
	return sum / float64(len(detections))
}
