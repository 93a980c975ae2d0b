package recon

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestReconstructionConfigValidate(t *testing.T) {
	cfg := NewDefaultReconstructionConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.MaxReprojectionErrorPx, test.ShouldEqual, 10.0)
	test.That(t, cfg.Seed, test.ShouldEqual, 1)

	missing := NewDefaultReconstructionConfig()
	missing.KeyPointCfg = nil
	test.That(t, missing.Validate(), test.ShouldNotBeNil)

	missing = NewDefaultReconstructionConfig()
	missing.MatchingCfg = nil
	test.That(t, missing.Validate(), test.ShouldNotBeNil)

	missing = NewDefaultReconstructionConfig()
	missing.RANSACCfg = nil
	test.That(t, missing.Validate(), test.ShouldNotBeNil)

	bad := NewDefaultReconstructionConfig()
	bad.MaxReprojectionErrorPx = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = NewDefaultReconstructionConfig()
	bad.RANSACCfg.Confidence = 2
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestLoadReconstructionConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recon.json")
	content := `{
		"kps": {"n_octaves": 3, "scales_per_octave": 3, "sigma0": 1.6, "contrast_threshold": 0.04, "edge_ratio": 10},
		"matching": {"ratio_threshold": 0.75, "do_cross_check": true},
		"ransac": {"max_iterations": 500, "inlier_threshold_px": 2.5, "confidence": 0.95},
		"max_reprojection_error_px": 8,
		"seed": 42
	}`
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	cfg, err := LoadReconstructionConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.KeyPointCfg.NOctaves, test.ShouldEqual, 3)
	test.That(t, cfg.MatchingCfg.RatioThreshold, test.ShouldEqual, 0.75)
	test.That(t, cfg.MatchingCfg.DoCrossCheck, test.ShouldBeTrue)
	test.That(t, cfg.RANSACCfg.MaxIterations, test.ShouldEqual, 500)
	test.That(t, cfg.MaxReprojectionErrorPx, test.ShouldEqual, 8.0)
	test.That(t, cfg.Seed, test.ShouldEqual, 42)

	_, err = LoadReconstructionConfig(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"seed": 1}`), 0o600), test.ShouldBeNil)
	_, err = LoadReconstructionConfig(bad)
	test.That(t, err, test.ShouldNotBeNil)
}
