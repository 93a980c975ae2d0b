package keypoints

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

const testDescDim = 16

// basisDescriptor returns a one-hot descriptor of dimension testDescDim.
func basisDescriptor(i int) Descriptor {
	d := make(Descriptor, testDescDim)
	d[i] = 1
	return d
}

// perturbedDescriptor returns basisDescriptor(i) with a small component added
// in a dimension no basis descriptor occupies, so its unique nearest neighbor
// is basisDescriptor(i) at distance eps.
func perturbedDescriptor(i int, eps float64) Descriptor {
	d := basisDescriptor(i)
	d[10+(i%6)] += eps
	return d
}

func TestMatchingConfigValidate(t *testing.T) {
	cfg := NewDefaultMatchingConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.RatioThreshold, test.ShouldEqual, 0.7)
	test.That(t, cfg.DoCrossCheck, test.ShouldBeFalse)
	test.That(t, (&MatchingConfig{RatioThreshold: 0}).Validate(), test.ShouldNotBeNil)
	test.That(t, (&MatchingConfig{RatioThreshold: 1}).Validate(), test.ShouldNotBeNil)
}

func TestEuclideanDistance(t *testing.T) {
	test.That(t, euclideanDistance(basisDescriptor(0), basisDescriptor(0)), test.ShouldEqual, 0)
	test.That(t, euclideanDistance(basisDescriptor(0), basisDescriptor(1)), test.ShouldAlmostEqual, 1.4142135623730951)
}

func TestTwoNearestNeighbors(t *testing.T) {
	set := Descriptors{basisDescriptor(0), basisDescriptor(1), basisDescriptor(2)}
	best, d1, d2 := twoNearestNeighbors(perturbedDescriptor(1, 0.1), set)
	test.That(t, best, test.ShouldEqual, 1)
	test.That(t, d1, test.ShouldAlmostEqual, 0.1)
	test.That(t, d2, test.ShouldBeGreaterThan, 1)
}

func TestMatchDescriptors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	desc2 := make(Descriptors, 10)
	desc1 := make(Descriptors, 10)
	for i := 0; i < 10; i++ {
		desc2[i] = basisDescriptor(i)
		desc1[i] = perturbedDescriptor(i, 0.1)
	}
	matches, err := MatchDescriptors(desc1, desc2, NewDefaultMatchingConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches), test.ShouldEqual, 10)
	for _, m := range matches {
		test.That(t, m.Idx2, test.ShouldEqual, m.Idx1)
		test.That(t, m.Distance, test.ShouldAlmostEqual, 0.1)
	}
	// ordered by ascending distance
	for i := 1; i < len(matches); i++ {
		test.That(t, matches[i].Distance, test.ShouldBeGreaterThanOrEqualTo, matches[i-1].Distance)
	}
}

func TestMatchDescriptorsRatioTest(t *testing.T) {
	logger := golog.NewTestLogger(t)
	desc2 := make(Descriptors, 10)
	desc1 := make(Descriptors, 10)
	for i := 0; i < 10; i++ {
		desc2[i] = basisDescriptor(i)
		desc1[i] = perturbedDescriptor(i, 0.1)
	}
	// a duplicated right descriptor makes the left query for it ambiguous:
	// its two nearest neighbors are equidistant
	desc2 = append(desc2, basisDescriptor(0))
	matches, err := MatchDescriptors(desc1, desc2, NewDefaultMatchingConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches), test.ShouldEqual, 9)
	for _, m := range matches {
		test.That(t, m.Idx1, test.ShouldNotEqual, 0)
	}
}

func TestMatchDescriptorsCrossCheck(t *testing.T) {
	logger := golog.NewTestLogger(t)
	desc2 := make(Descriptors, 10)
	desc1 := make(Descriptors, 10)
	for i := 0; i < 10; i++ {
		desc2[i] = basisDescriptor(i)
		desc1[i] = perturbedDescriptor(i, 0.1)
	}
	// an extra left descriptor also nearest to desc2[0], but farther than
	// desc1[0], so the backward pass prefers desc1[0]
	rival := basisDescriptor(0)
	rival[11] += 0.2
	desc1 = append(desc1, rival)

	cfg := NewDefaultMatchingConfig()
	matches, err := MatchDescriptors(desc1, desc2, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches), test.ShouldEqual, 11)

	cfg.DoCrossCheck = true
	matches, err = MatchDescriptors(desc1, desc2, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches), test.ShouldEqual, 10)
	for _, m := range matches {
		test.That(t, m.Idx1, test.ShouldNotEqual, 10)
	}
}

func TestMatchDescriptorsInsufficient(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := NewDefaultMatchingConfig()

	_, err := MatchDescriptors(nil, Descriptors{basisDescriptor(0)}, cfg, logger)
	test.That(t, errors.Is(err, ErrInsufficientMatches), test.ShouldBeTrue)
	_, err = MatchDescriptors(Descriptors{basisDescriptor(0)}, nil, cfg, logger)
	test.That(t, errors.Is(err, ErrInsufficientMatches), test.ShouldBeTrue)

	// fewer surviving matches than the eight-point sample size
	desc2 := make(Descriptors, 5)
	desc1 := make(Descriptors, 5)
	for i := 0; i < 5; i++ {
		desc2[i] = basisDescriptor(i)
		desc1[i] = perturbedDescriptor(i, 0.1)
	}
	_, err = MatchDescriptors(desc1, desc2, cfg, logger)
	test.That(t, errors.Is(err, ErrInsufficientMatches), test.ShouldBeTrue)
}

func TestGetMatchingKeyPoints(t *testing.T) {
	kps1 := KeyPoints{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}}
	kps2 := KeyPoints{{X: 7, Y: 8}, {X: 9, Y: 10}}
	matches := []Match{{Idx1: 2, Idx2: 0}, {Idx1: 0, Idx2: 1}}
	m1, m2, err := GetMatchingKeyPoints(matches, kps1, kps2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m1, test.ShouldResemble, KeyPoints{{X: 5, Y: 6}, {X: 1, Y: 2}})
	test.That(t, m2, test.ShouldResemble, KeyPoints{{X: 7, Y: 8}, {X: 9, Y: 10}})

	_, _, err = GetMatchingKeyPoints([]Match{{Idx1: 5, Idx2: 0}}, kps1, kps2)
	test.That(t, err, test.ShouldNotBeNil)
}
