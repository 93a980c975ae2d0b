package keypoints

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage/transform"
)

// ErrInsufficientMatches is returned when fewer correspondences survive
// matching than the fundamental matrix solver needs.
var ErrInsufficientMatches = errors.New("insufficient keypoint matches")

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	// RatioThreshold is the Lowe ratio: a nearest neighbor is accepted only
	// when nearest-distance / second-nearest-distance falls below it.
	RatioThreshold float64 `json:"ratio_threshold"`
	DoCrossCheck   bool    `json:"do_cross_check"`
}

// NewDefaultMatchingConfig returns the matching parameters used by the
// reconstruction pipeline unless overridden.
func NewDefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		RatioThreshold: 0.7,
		DoCrossCheck:   false,
	}
}

// Validate ensures all parts of the MatchingConfig are valid.
func (cfg *MatchingConfig) Validate() error {
	if cfg.RatioThreshold <= 0 || cfg.RatioThreshold >= 1 {
		return errors.New("ratio_threshold should be in (0, 1)")
	}
	return nil
}

// Match pairs the Idx1-th descriptor of the first set with the Idx2-th
// descriptor of the second set; Distance is their Euclidean distance.
type Match struct {
	Idx1     int
	Idx2     int
	Distance float64
}

// euclideanDistance returns the L2 distance between two descriptors.
func euclideanDistance(d1, d2 Descriptor) float64 {
	sum := 0.0
	for i := range d1 {
		diff := d1[i] - d2[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// twoNearestNeighbors returns the index and distance of the two closest
// descriptors of set to the query descriptor.
func twoNearestNeighbors(query Descriptor, set Descriptors) (int, float64, float64) {
	best := -1
	d1, d2 := math.Inf(1), math.Inf(1)
	for i := range set {
		d := euclideanDistance(query, set[i])
		switch {
		case d < d1:
			best, d2, d1 = i, d1, d
		case d < d2:
			d2 = d
		}
	}
	return best, d1, d2
}

// MatchDescriptors matches the descriptors of the first set to their nearest
// neighbors in the second set, keeping only unambiguous matches under the Lowe
// ratio test. Each left descriptor contributes at most one match; the result
// is ordered by ascending distance. Fewer surviving matches than the
// fundamental matrix sample size is an ErrInsufficientMatches failure.
func MatchDescriptors(desc1, desc2 Descriptors, cfg *MatchingConfig, logger golog.Logger) ([]Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(desc1) == 0 || len(desc2) == 0 {
		return nil, errors.Wrapf(ErrInsufficientMatches,
			"no descriptors to match (%d left, %d right)", len(desc1), len(desc2))
	}
	matches := make([]Match, 0, len(desc1))
	for i := range desc1 {
		j, d1, d2 := twoNearestNeighbors(desc1[i], desc2)
		if j < 0 {
			continue
		}
		// ambiguous when the two candidates are nearly equidistant
		if d1 >= cfg.RatioThreshold*d2 {
			continue
		}
		if cfg.DoCrossCheck {
			back, _, _ := twoNearestNeighbors(desc2[j], desc1)
			if back != i {
				continue
			}
		}
		matches = append(matches, Match{Idx1: i, Idx2: j, Distance: d1})
	}
	logger.Debugf("matches surviving ratio test: %d / %d", len(matches), len(desc1))
	if len(matches) < transform.MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientMatches,
			"%d matches survive the ratio test, need at least %d", len(matches), transform.MinCorrespondences)
	}
	// order by match quality
	dists := make([]float64, len(matches))
	for i, m := range matches {
		dists[i] = m.Distance
	}
	sortedIndices := make([]int, len(matches))
	floats.Argsort(dists, sortedIndices)
	sorted := make([]Match, len(matches))
	for i, idx := range sortedIndices {
		sorted[i] = matches[idx]
	}
	return sorted, nil
}

// GetMatchingKeyPoints takes the matches and the keypoints of both images and
// returns the two matched keypoint sets, index-aligned with the matches.
func GetMatchingKeyPoints(matches []Match, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	matchedKps1 := make(KeyPoints, len(matches))
	matchedKps2 := make(KeyPoints, len(matches))
	for i, match := range matches {
		if match.Idx1 >= len(kps1) || match.Idx2 >= len(kps2) {
			return nil, nil, errors.New("match indices out of keypoint range")
		}
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}
