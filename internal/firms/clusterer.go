package firms

import "time"

// ClustererInterface partitions one window's detections into clusters.
// Implementations must be deterministic for a fixed input ordering and
// parameter set.
type ClustererInterface interface {
	Cluster(detections []Detection, windowTime time.Time) (clusters []Cluster, noise int)
	GetParams() ClusteringParams
	SetParams(params ClusteringParams)
}

// DBSCANClusterer implements ClustererInterface using the DBSCAN algorithm
// with a geodesic neighborhood radius. Density-based clustering suits
// hotspot data well: fire fronts are dense ridges of detections while
// isolated sensor artifacts stay unclustered.
type DBSCANClusterer struct {
	params ClusteringParams
}

// NewDBSCANClusterer creates a DBSCAN clusterer with the specified parameters.
func NewDBSCANClusterer(params ClusteringParams) *DBSCANClusterer {
	return &DBSCANClusterer{params: params}
}

// Cluster runs DBSCAN over the window's detections. The output ordering is
// deterministic (see sortClusters) so repeated runs over the same batch
// produce identical linker inputs.
func (c *DBSCANClusterer) Cluster(detections []Detection, windowTime time.Time) ([]Cluster, int) {
	if len(detections) == 0 {
		return nil, 0
	}
	return DBSCAN(detections, c.params, windowTime)
}

// GetParams returns the current clustering parameters.
func (c *DBSCANClusterer) GetParams() ClusteringParams {
	return c.params
}

// SetParams updates the clustering parameters.
func (c *DBSCANClusterer) SetParams(params ClusteringParams) {
	c.params = params
}

// Verify at compile time that *DBSCANClusterer implements ClustererInterface.
var _ ClustererInterface = (*DBSCANClusterer)(nil)
