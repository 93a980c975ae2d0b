package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/utils"
)

// ErrDegenerateGeometry is returned when no two-view configuration with
// sufficient support can be found (near-collinear points, near-zero baseline,
// or a matched but non-rigid scene).
var ErrDegenerateGeometry = errors.New("degenerate two-view geometry")

// RANSACConfig bundles the parameters of the fundamental matrix consensus
// search.
type RANSACConfig struct {
	// MaxIterations is the iteration budget of the sampling loop.
	MaxIterations int `json:"max_iterations"`
	// InlierThresholdPx is the maximum symmetric epipolar distance in pixels
	// for a correspondence to be counted as an inlier.
	InlierThresholdPx float64 `json:"inlier_threshold_px"`
	// Confidence is the target probability that at least one sample was
	// outlier free; reaching it ends the search early.
	Confidence float64 `json:"confidence"`
}

// NewDefaultRANSACConfig returns the parameters used by the reconstruction
// pipeline unless overridden.
func NewDefaultRANSACConfig() *RANSACConfig {
	return &RANSACConfig{
		MaxIterations:     2000,
		InlierThresholdPx: 3.0,
		Confidence:        0.99,
	}
}

// Validate ensures all parts of the RANSACConfig are valid.
func (cfg *RANSACConfig) Validate() error {
	if cfg.MaxIterations < 1 {
		return errors.New("max_iterations should be >= 1")
	}
	if cfg.InlierThresholdPx <= 0 {
		return errors.New("inlier_threshold_px should be > 0")
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return errors.New("confidence should be in (0, 1)")
	}
	return nil
}

// EstimateFundamentalMatrixRANSAC fits the fundamental matrix relating pts1 and
// pts2 with a random sample consensus search driven by r, so that a fixed seed
// reproduces the same result. It returns the refitted matrix together with the
// indices of the supporting inliers, sorted ascending.
//
// Required number of iterations: nIter = log(1-p)/log(1-(1-e)^s), where p is
// the probability of success, e the outlier ratio and s the sample size (8 for
// the fundamental matrix); the loop stops as soon as the running best inlier
// ratio makes the remaining iterations statistically unnecessary.
func EstimateFundamentalMatrixRANSAC(pts1, pts2 []r2.Point, cfg *RANSACConfig, r *rand.Rand) (*mat.Dense, []int, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	nPoints := len(pts1)
	if nPoints < MinCorrespondences {
		return nil, nil, errors.Errorf("need at least %d correspondences, got %d", MinCorrespondences, nPoints)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	samplePts1 := make([]r2.Point, MinCorrespondences)
	samplePts2 := make([]r2.Point, MinCorrespondences)
	var bestInliers []int

	maxIter := cfg.MaxIterations
	iter := 0
	for ; iter < maxIter; iter++ {
		// draw a minimal sample of 8 correspondences without replacement
		for i, idx := range utils.SampleNDistinct(MinCorrespondences, nPoints, r) {
			samplePts1[i] = pts1[idx]
			samplePts2[i] = pts2[idx]
		}
		f, err := ComputeFundamentalMatrixAllPoints(samplePts1, samplePts2, true)
		if err != nil {
			// degenerate sample, try another
			continue
		}
		inliers := supportingInliers(pts1, pts2, f, cfg.InlierThresholdPx)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			// shrink the iteration budget given the achieved inlier ratio
			w := float64(len(bestInliers)) / float64(nPoints)
			if adaptive := adaptiveIterations(cfg.Confidence, w); adaptive < maxIter {
				maxIter = utils.MaxInt(iter+1, adaptive)
			}
		}
	}

	if len(bestInliers) < MinCorrespondences {
		return nil, nil, errors.Wrapf(ErrDegenerateGeometry,
			"no sample reached %d inliers after %d iterations", MinCorrespondences, iter)
	}

	// refit on the full inlier set for numerical stability
	inPts1 := make([]r2.Point, len(bestInliers))
	inPts2 := make([]r2.Point, len(bestInliers))
	for i, idx := range bestInliers {
		inPts1[i] = pts1[idx]
		inPts2[i] = pts2[idx]
	}
	f, err := ComputeFundamentalMatrixAllPoints(inPts1, inPts2, true)
	if err != nil {
		return nil, nil, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	// the refit can shift the inlier boundary; rescore under the final matrix
	finalInliers := supportingInliers(pts1, pts2, f, cfg.InlierThresholdPx)
	if len(finalInliers) < MinCorrespondences {
		finalInliers = bestInliers
	}
	return f, finalInliers, nil
}

// supportingInliers returns indices of correspondences whose symmetric
// epipolar distance under f falls below the threshold.
func supportingInliers(pts1, pts2 []r2.Point, f *mat.Dense, threshold float64) []int {
	inliers := make([]int, 0, len(pts1))
	for i := range pts1 {
		if SymmetricEpipolarDistance(pts1[i], pts2[i], f) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// adaptiveIterations returns the number of samples needed to draw one
// outlier-free minimal sample with the given confidence, when a fraction w of
// the correspondences are inliers.
func adaptiveIterations(confidence, w float64) int {
	pOutlierFree := math.Pow(w, float64(MinCorrespondences))
	if pOutlierFree <= 0 {
		return math.MaxInt32
	}
	if pOutlierFree >= 1 {
		return 1
	}
	n := math.Log(1-confidence) / math.Log(1-pOutlierFree)
	if n < 1 {
		return 1
	}
	if n > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(math.Ceil(n))
}
