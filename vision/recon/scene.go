package recon

import (
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/moseskim1027/multiview-3d-reconstruction/pointcloud"
)

// Scene is the result of one reconstruction: the triangulated points in the
// left camera frame, one color sample per point taken at the originating left
// keypoint, and the quality metrics. Points and Colors always have equal
// length and consistent pairwise indexing.
type Scene struct {
	Points  []r3.Vector           `json:"points"`
	Colors  []colorful.Color      `json:"colors"`
	Metrics ReconstructionMetrics `json:"metrics"`
}

// PointCloud assembles the scene into an ordered colored point cloud.
func (s *Scene) PointCloud() *pointcloud.PointCloud {
	cloud := pointcloud.NewWithPrealloc(len(s.Points))
	for i, p := range s.Points {
		cloud.Append(p, s.Colors[i])
	}
	return cloud
}
