package keypoints

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage"
)

// minOctaveSize is the smallest image side on which an octave is still built.
const minOctaveSize = 16

// ImagePyramid contains the gaussian scale space of an image and its
// difference-of-gaussian levels, octave by octave.
type ImagePyramid struct {
	// Gaussians[o][i] is the i-th blurred level of octave o.
	Gaussians [][]*mat.Dense
	// DoGs[o][i] = Gaussians[o][i+1] - Gaussians[o][i].
	DoGs [][]*mat.Dense
	// Sigmas[i] is the blur level of Gaussians[o][i] in octave coordinates.
	Sigmas []float64
	// ScalesPerOctave is the number of usable extrema levels per octave.
	ScalesPerOctave int
}

// GetImagePyramid builds the gaussian and difference-of-gaussian scale space
// of a luminance matrix. Each octave holds scalesPerOctave+3 gaussian levels;
// the next octave starts from the level with twice the base sigma, downsampled
// by two.
func GetImagePyramid(im *mat.Dense, nOctaves, scalesPerOctave int, sigma0 float64) (*ImagePyramid, error) {
	if nOctaves < 1 {
		return nil, errors.New("number of octaves should be >= 1")
	}
	if scalesPerOctave < 1 {
		return nil, errors.New("number of scales per octave should be >= 1")
	}
	if sigma0 <= 0 {
		return nil, errors.New("base sigma should be > 0")
	}
	nLevels := scalesPerOctave + 3
	k := math.Pow(2, 1./float64(scalesPerOctave))
	sigmas := make([]float64, nLevels)
	for i := range sigmas {
		sigmas[i] = sigma0 * math.Pow(k, float64(i))
	}

	pyramid := &ImagePyramid{
		Gaussians:       make([][]*mat.Dense, 0, nOctaves),
		DoGs:            make([][]*mat.Dense, 0, nOctaves),
		Sigmas:          sigmas,
		ScalesPerOctave: scalesPerOctave,
	}

	base := rimage.GaussianBlur(im, sigma0)
	for o := 0; o < nOctaves; o++ {
		rows, cols := base.Dims()
		if rows < minOctaveSize || cols < minOctaveSize {
			break
		}
		gaussians := make([]*mat.Dense, nLevels)
		gaussians[0] = base
		for i := 1; i < nLevels; i++ {
			// incremental blur from the previous level
			sigmaDelta := sigmas[i-1] * math.Sqrt(k*k-1)
			gaussians[i] = rimage.GaussianBlur(gaussians[i-1], sigmaDelta)
		}
		dogs := make([]*mat.Dense, nLevels-1)
		for i := 0; i < nLevels-1; i++ {
			d := mat.NewDense(rows, cols, nil)
			d.Sub(gaussians[i+1], gaussians[i])
			dogs[i] = d
		}
		pyramid.Gaussians = append(pyramid.Gaussians, gaussians)
		pyramid.DoGs = append(pyramid.DoGs, dogs)
		// level scalesPerOctave has sigma 2*sigma0; start the next octave there
		base = rimage.Downsample2(gaussians[scalesPerOctave])
	}
	if len(pyramid.Gaussians) == 0 {
		return nil, errors.Errorf("image too small for a %dx%d scale space", minOctaveSize, minOctaveSize)
	}
	return pyramid, nil
}
