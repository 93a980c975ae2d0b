package recon

import (
	"math"

	"github.com/montanaflynn/stats"
)

// ReconstructionMetrics describes how trustworthy a reconstruction is. All
// fields are computed deterministically from the pipeline's intermediate
// results; empty sets are guarded so no field is ever NaN or Inf.
type ReconstructionMetrics struct {
	// ReprojectionRMSE is the root-mean-square pixel distance between each
	// triangulated point's projection into the second camera and its observed
	// location, over the triangulated subset.
	ReprojectionRMSE float64 `json:"reprojection_rmse"`
	// NumKeypointsMatched counts correspondences surviving the ratio test.
	NumKeypointsMatched int `json:"num_keypoints_matched"`
	// NumInliers counts correspondences consistent with the fundamental matrix.
	NumInliers int `json:"num_inliers"`
	// InlierRatio is NumInliers / NumKeypointsMatched, in [0, 1].
	InlierRatio float64 `json:"inlier_ratio"`
	// Num3DPoints counts the triangulated points kept in the cloud.
	Num3DPoints int `json:"num_3d_points"`
	// BaselineLength is the norm of the recovered translation. The pipeline
	// normalizes the translation to unit length during essential matrix
	// decomposition, so this is meaningful only up to the inherent scale
	// ambiguity of two-view reconstruction.
	BaselineLength float64 `json:"baseline_length"`
	// MeanDepth is the mean Z of the kept points, in the left camera frame.
	MeanDepth float64 `json:"mean_depth"`
	// DepthRange is max(Z) - min(Z) over the kept points.
	DepthRange float64 `json:"depth_range"`
}

// computeMetrics aggregates the intermediate results of one reconstruction.
// squaredResiduals holds the squared pixel reprojection error of each kept
// point; depths holds their Z coordinates.
func computeMetrics(numMatched, numInliers int, baseline float64, squaredResiduals, depths []float64) ReconstructionMetrics {
	m := ReconstructionMetrics{
		NumKeypointsMatched: numMatched,
		NumInliers:          numInliers,
		Num3DPoints:         len(depths),
		BaselineLength:      baseline,
	}
	if numMatched > 0 {
		m.InlierRatio = float64(numInliers) / float64(numMatched)
	}
	if len(squaredResiduals) > 0 {
		meanSq, err := stats.Mean(squaredResiduals)
		if err == nil {
			m.ReprojectionRMSE = math.Sqrt(meanSq)
		}
	}
	if len(depths) > 0 {
		if mean, err := stats.Mean(depths); err == nil {
			m.MeanDepth = mean
		}
		minZ, errMin := stats.Min(depths)
		maxZ, errMax := stats.Max(depths)
		if errMin == nil && errMax == nil {
			m.DepthRange = maxZ - minZ
		}
	}
	return m
}
