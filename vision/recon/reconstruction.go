// Package recon sequences the stereo reconstruction pipeline: feature
// extraction, matching, robust fundamental matrix estimation, pose recovery,
// triangulation and quality metrics.
package recon

import (
	"math/rand"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage"
	"github.com/moseskim1027/multiview-3d-reconstruction/rimage/transform"
	"github.com/moseskim1027/multiview-3d-reconstruction/utils"
	"github.com/moseskim1027/multiview-3d-reconstruction/vision/keypoints"
)

// featureSet holds the per-image output of the feature extraction stage.
type featureSet struct {
	descriptors keypoints.Descriptors
	keypoints   keypoints.KeyPoints
	err         error
}

// extractFeatures runs keypoint detection on both images. The two extractions
// are independent and run concurrently without changing observable results.
func extractFeatures(im1, im2 *rimage.Image, cfg *keypoints.SIFTConfig) (*featureSet, *featureSet, error) {
	grays := []*mat.Dense{rimage.MakeGray(im1), rimage.MakeGray(im2)}
	results := make([]featureSet, 2)
	var wg sync.WaitGroup
	for i := range grays {
		wg.Add(1)
		i := i
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			results[i].descriptors, results[i].keypoints, results[i].err = keypoints.ComputeSIFTKeypoints(grays[i], cfg)
		})
	}
	wg.Wait()
	for i := range results {
		if results[i].err != nil {
			return nil, nil, results[i].err
		}
	}
	return &results[0], &results[1], nil
}

// Reconstruct recovers the scene geometry relating two views. The calibration
// string may be empty, in which case each view gets intrinsics derived from
// its own dimensions. A fixed config seed reproduces identical output on
// identical input.
func Reconstruct(im1, im2 *rimage.Image, calibration string, cfg *ReconstructionConfig, logger golog.Logger) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cam1, cam2, err := transform.ResolveIntrinsics(calibration, im1.Width(), im1.Height(), im2.Width(), im2.Height())
	if err != nil {
		return nil, err
	}

	// detect keypoints and descriptors in both views
	features1, features2, err := extractFeatures(im1, im2, cfg.KeyPointCfg)
	if err != nil {
		return nil, err
	}
	logger.Debugf("keypoints detected: %d left, %d right", len(features1.keypoints), len(features2.keypoints))

	// match descriptors across views
	matches, err := keypoints.MatchDescriptors(features1.descriptors, features2.descriptors, cfg.MatchingCfg, logger)
	if err != nil {
		return nil, err
	}
	matchedKps1, matchedKps2, err := keypoints.GetMatchingKeyPoints(matches, features1.keypoints, features2.keypoints)
	if err != nil {
		return nil, err
	}
	pts1 := keypointsToPoints(matchedKps1)
	pts2 := keypointsToPoints(matchedKps2)

	// fit the epipolar geometry with a seeded consensus search
	r := rand.New(rand.NewSource(cfg.Seed))
	fundamental, inlierIdx, err := transform.EstimateFundamentalMatrixRANSAC(pts1, pts2, cfg.RANSACCfg, r)
	if err != nil {
		return nil, err
	}
	logger.Debugf("inliers after consensus search: %d / %d", len(inlierIdx), len(pts1))

	inPts1 := make([]r2.Point, len(inlierIdx))
	inPts2 := make([]r2.Point, len(inlierIdx))
	for i, idx := range inlierIdx {
		inPts1[i] = pts1[idx]
		inPts2[i] = pts2[idx]
	}
	normPts1 := normalizePixels(inPts1, cam1)
	normPts2 := normalizePixels(inPts2, cam2)

	// recover the relative pose, resolving the four-fold ambiguity
	pose, err := transform.RecoverPose(fundamental, cam1.GetCameraMatrix(), cam2.GetCameraMatrix(), normPts1, normPts2)
	if err != nil {
		return nil, err
	}

	// triangulate inliers and drop points that fail the depth or reprojection
	// sanity checks; dropped points still count toward the inlier metrics
	points := make([]r3.Vector, 0, len(inlierIdx))
	colors := make([]colorful.Color, 0, len(inlierIdx))
	squaredResiduals := make([]float64, 0, len(inlierIdx))
	depths := make([]float64, 0, len(inlierIdx))
	for i := range normPts1 {
		pt, err := transform.TriangulatePointDLT(pose.PoseMat, normPts1[i], normPts2[i])
		if err != nil {
			continue
		}
		inSecond := pose.Transform(pt)
		if pt.Z <= 0 || inSecond.Z <= 0 {
			continue
		}
		// reproject into the second view and compare with the observation
		px, py := cam2.PointToPixel(inSecond.X, inSecond.Y, inSecond.Z)
		residualSq := utils.Square(px-inPts2[i].X) + utils.Square(py-inPts2[i].Y)
		if residualSq > utils.Square(cfg.MaxReprojectionErrorPx) {
			continue
		}
		points = append(points, pt)
		colors = append(colors, im1.SampleColor(inPts1[i].X, inPts1[i].Y))
		squaredResiduals = append(squaredResiduals, residualSq)
		depths = append(depths, pt.Z)
	}
	logger.Debugf("triangulated points kept: %d / %d", len(points), len(inlierIdx))

	metrics := computeMetrics(len(matches), len(inlierIdx), pose.BaselineNorm(), squaredResiduals, depths)
	return &Scene{
		Points:  points,
		Colors:  colors,
		Metrics: metrics,
	}, nil
}

// ReconstructFromBytes decodes two raw images and runs Reconstruct.
func ReconstructFromBytes(raw1, raw2 []byte, calibration string, cfg *ReconstructionConfig, logger golog.Logger) (*Scene, error) {
	im1, err := rimage.DecodeImage(raw1)
	if err != nil {
		return nil, err
	}
	im2, err := rimage.DecodeImage(raw2)
	if err != nil {
		return nil, err
	}
	return Reconstruct(im1, im2, calibration, cfg, logger)
}

// keypointsToPoints converts keypoints to their pixel locations.
func keypointsToPoints(kps keypoints.KeyPoints) []r2.Point {
	pts := make([]r2.Point, len(kps))
	for i, kp := range kps {
		pts[i] = r2.Point{X: kp.X, Y: kp.Y}
	}
	return pts
}

// normalizePixels converts pixel locations into homogeneous normalized camera
// coordinates.
func normalizePixels(pts []r2.Point, cam *transform.PinholeCameraIntrinsics) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = cam.PixelToNormalized(pt)
	}
	return out
}
