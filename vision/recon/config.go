package recon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	uts "go.viam.com/utils"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage/transform"
	"github.com/moseskim1027/multiview-3d-reconstruction/vision/keypoints"
)

// ReconstructionConfig contains the parameters needed to reconstruct a scene
// from a stereo image pair.
type ReconstructionConfig struct {
	KeyPointCfg *keypoints.SIFTConfig     `json:"kps"`
	MatchingCfg *keypoints.MatchingConfig `json:"matching"`
	RANSACCfg   *transform.RANSACConfig   `json:"ransac"`
	// MaxReprojectionErrorPx is the sanity bound above which a triangulated
	// point is dropped from the cloud.
	MaxReprojectionErrorPx float64 `json:"max_reprojection_error_px"`
	// Seed drives the consensus search sampling; a fixed seed reproduces
	// identical output.
	Seed int64 `json:"seed"`
}

// NewDefaultReconstructionConfig returns the pipeline parameters used unless
// overridden.
func NewDefaultReconstructionConfig() *ReconstructionConfig {
	return &ReconstructionConfig{
		KeyPointCfg:            keypoints.NewDefaultSIFTConfig(),
		MatchingCfg:            keypoints.NewDefaultMatchingConfig(),
		RANSACCfg:              transform.NewDefaultRANSACConfig(),
		MaxReprojectionErrorPx: 10.0,
		Seed:                   1,
	}
}

// LoadReconstructionConfig loads a reconstruction configuration from a json file.
func LoadReconstructionConfig(path string) (*ReconstructionConfig, error) {
	var config ReconstructionConfig
	//nolint:gosec
	configFile, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer uts.UncheckedErrorFunc(configFile.Close)
	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the ReconstructionConfig are valid.
func (config *ReconstructionConfig) Validate() error {
	if config.KeyPointCfg == nil {
		return errors.New("keypoint configuration is required")
	}
	if config.MatchingCfg == nil {
		return errors.New("matching configuration is required")
	}
	if config.RANSACCfg == nil {
		return errors.New("ransac configuration is required")
	}
	if err := config.KeyPointCfg.Validate(); err != nil {
		return err
	}
	if err := config.MatchingCfg.Validate(); err != nil {
		return err
	}
	if err := config.RANSACCfg.Validate(); err != nil {
		return err
	}
	if config.MaxReprojectionErrorPx <= 0 {
		return errors.New("max_reprojection_error_px should be > 0")
	}
	return nil
}
