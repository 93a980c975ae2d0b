// Command reconstruct recovers a 3D point cloud from a stereo image pair and
// writes it as ASCII PCD together with quality metrics in JSON.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage"
	"github.com/moseskim1027/multiview-3d-reconstruction/vision/keypoints"
	"github.com/moseskim1027/multiview-3d-reconstruction/vision/recon"
)

var logger = golog.NewLogger("reconstruct")

func main() {
	leftPath := flag.String("left", "", "path to the left image (required)")
	rightPath := flag.String("right", "", "path to the right image (required)")
	calibPath := flag.String("calib", "", "path to a Middlebury calibration file (optional)")
	configPath := flag.String("config", "", "path to a pipeline configuration JSON (optional)")
	seed := flag.Int64("seed", 0, "override the random seed of the consensus search")
	maxDim := flag.Int("max-dim", 0, "downscale inputs so their larger side fits this size (0 keeps full size)")
	outPath := flag.String("out", "cloud.pcd", "output path of the PCD point cloud")
	metricsPath := flag.String("metrics", "", "output path of the metrics JSON (default stdout)")
	plotPath := flag.String("plot-matches", "", "write a match visualization PNG to this path (optional)")
	flag.Parse()

	if *leftPath == "" || *rightPath == "" {
		flag.Usage()
		logger.Fatal("both -left and -right are required")
	}

	cfg := recon.NewDefaultReconstructionConfig()
	if *configPath != "" {
		var err error
		cfg, err = recon.LoadReconstructionConfig(*configPath)
		if err != nil {
			logger.Fatalf("cannot load configuration: %v", err)
		}
	}
	if flagWasSet(flag.CommandLine, "seed") {
		cfg.Seed = *seed
	}

	im1, err := loadImage(*leftPath, *maxDim)
	if err != nil {
		logger.Fatalf("cannot load left image: %v", err)
	}
	im2, err := loadImage(*rightPath, *maxDim)
	if err != nil {
		logger.Fatalf("cannot load right image: %v", err)
	}

	calibration := ""
	if *calibPath != "" {
		raw, err := os.ReadFile(*calibPath)
		if err != nil {
			logger.Fatalf("cannot read calibration file: %v", err)
		}
		calibration = string(raw)
	}

	scene, err := recon.Reconstruct(im1, im2, calibration, cfg, logger)
	if err != nil {
		logger.Fatalf("reconstruction failed: %v", err)
	}
	logger.Infof("reconstructed %d points (%d/%d inliers, reprojection RMSE %.3f px)",
		scene.Metrics.Num3DPoints, scene.Metrics.NumInliers, scene.Metrics.NumKeypointsMatched,
		scene.Metrics.ReprojectionRMSE)

	if err := writeCloud(scene, *outPath); err != nil {
		logger.Fatalf("cannot write point cloud: %v", err)
	}
	if err := writeMetrics(scene, *metricsPath); err != nil {
		logger.Fatalf("cannot write metrics: %v", err)
	}
	if *plotPath != "" {
		if err := plotMatches(im1, im2, cfg, *plotPath); err != nil {
			logger.Fatalf("cannot plot matches: %v", err)
		}
	}
}

// flagWasSet reports whether a flag was explicitly provided on the command
// line, so that explicit zero values still override the configuration.
func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadImage reads an image from disk, optionally downscaled so that its larger
// side fits maxDim.
func loadImage(path string, maxDim int) (*rimage.Image, error) {
	im, err := rimage.NewImageFromFile(path)
	if err != nil {
		return nil, err
	}
	if maxDim > 0 && (im.Width() > maxDim || im.Height() > maxDim) {
		resized := imaging.Fit(im.ToRGBA(), maxDim, maxDim, imaging.Lanczos)
		im = rimage.ConvertImage(resized)
	}
	return im, nil
}

func writeCloud(scene *recon.Scene, path string) error {
	//nolint:gosec
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Errorw("cannot close point cloud file", "error", err)
		}
	}()
	return scene.PointCloud().ToPCD(out)
}

func writeMetrics(scene *recon.Scene, path string) error {
	raw, err := json.MarshalIndent(scene.Metrics, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = os.Stdout.Write(append(raw, '\n'))
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o600)
}

// plotMatches reruns extraction and matching to render the surviving
// correspondences side by side.
func plotMatches(im1, im2 *rimage.Image, cfg *recon.ReconstructionConfig, path string) error {
	desc1, kps1, err := keypoints.ComputeSIFTKeypoints(rimage.MakeGray(im1), cfg.KeyPointCfg)
	if err != nil {
		return err
	}
	desc2, kps2, err := keypoints.ComputeSIFTKeypoints(rimage.MakeGray(im2), cfg.KeyPointCfg)
	if err != nil {
		return err
	}
	matches, err := keypoints.MatchDescriptors(desc1, desc2, cfg.MatchingCfg, logger)
	if err != nil {
		return err
	}
	return keypoints.PlotMatchedLines(im1, im2, kps1, kps2, matches, path)
}
