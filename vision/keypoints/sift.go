package keypoints

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	uts "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/utils"
)

const (
	// DescriptorSize is the length of a gradient histogram descriptor:
	// 4x4 spatial bins times 8 orientation bins.
	DescriptorSize = 128

	descWidth            = 4  // spatial bins per axis
	descOrientationBins  = 8  // orientation bins per spatial bin
	orientationHistBins  = 36 // bins of the dominant orientation histogram
	descMagnitudeClamp   = 0.2
	orientationSigmaMult = 1.5

	// maxInterpolationSteps bounds the quadratic refinement of an extremum
	// before it is discarded as unstable.
	maxInterpolationSteps = 5
)

// SIFTConfig contains the parameters of scale invariant keypoint detection and
// description.
type SIFTConfig struct {
	// NOctaves bounds the number of octaves of the scale space; fewer are
	// built when the image is small.
	NOctaves int `json:"n_octaves"`
	// ScalesPerOctave is the number of extrema levels per octave.
	ScalesPerOctave int `json:"scales_per_octave"`
	// Sigma0 is the blur of the scale space base level.
	Sigma0 float64 `json:"sigma0"`
	// ContrastThreshold rejects low-contrast extrema.
	ContrastThreshold float64 `json:"contrast_threshold"`
	// EdgeRatio rejects extrema on edges via the ratio of principal
	// curvatures of the difference-of-gaussian response.
	EdgeRatio float64 `json:"edge_ratio"`
}

// NewDefaultSIFTConfig returns the detection parameters used by the
// reconstruction pipeline unless overridden.
func NewDefaultSIFTConfig() *SIFTConfig {
	return &SIFTConfig{
		NOctaves:          4,
		ScalesPerOctave:   3,
		Sigma0:            1.6,
		ContrastThreshold: 0.03,
		EdgeRatio:         10,
	}
}

// LoadSIFTConfiguration loads a SIFTConfig from a json file.
func LoadSIFTConfiguration(file string) (*SIFTConfig, error) {
	var config SIFTConfig
	filePath := filepath.Clean(file)
	//nolint:gosec
	configFile, err := os.Open(filePath)
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

// Validate ensures all parts of the SIFTConfig are valid.
func (config *SIFTConfig) Validate() error {
	if config.NOctaves < 1 {
		return errors.New("n_octaves should be >= 1")
	}
	if config.ScalesPerOctave < 1 {
		return errors.New("scales_per_octave should be >= 1")
	}
	if config.Sigma0 <= 0 {
		return errors.New("sigma0 should be > 0")
	}
	if config.ContrastThreshold <= 0 {
		return errors.New("contrast_threshold should be > 0")
	}
	if config.EdgeRatio <= 0 {
		return errors.New("edge_ratio should be > 0")
	}
	return nil
}

// ComputeSIFTKeypoints detects scale space extrema in a luminance matrix,
// localizes each to subpixel position and scale, and encodes a normalized
// gradient orientation histogram descriptor for each. A uniform image yields
// zero keypoints and no error.
func ComputeSIFTKeypoints(im *mat.Dense, cfg *SIFTConfig) (Descriptors, KeyPoints, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	rows, cols := im.Dims()
	if rows < minOctaveSize || cols < minOctaveSize {
		// too small for even one octave; no detectable extrema
		return Descriptors{}, KeyPoints{}, nil
	}
	pyramid, err := GetImagePyramid(im, cfg.NOctaves, cfg.ScalesPerOctave, cfg.Sigma0)
	if err != nil {
		return nil, nil, err
	}
	descs := make(Descriptors, 0)
	kps := make(KeyPoints, 0)
	type gridKey struct{ level, x, y int }
	for o := range pyramid.DoGs {
		octaveScale := math.Pow(2, float64(o))
		dogs := pyramid.DoGs[o]
		// refinement can pull two raw extrema onto the same location
		seen := map[gridKey]bool{}
		for j := 1; j < len(dogs)-1; j++ {
			oRows, oCols := dogs[j].Dims()
			for y := 1; y < oRows-1; y++ {
				for x := 1; x < oCols-1; x++ {
					if !isScaleSpaceExtremum(dogs, j, x, y, cfg.ContrastThreshold) {
						continue
					}
					if isEdgeResponse(dogs[j], x, y, cfg.EdgeRatio) {
						continue
					}
					level, fx, fy, ds, ok := refineExtremum(dogs, j, x, y, cfg.ContrastThreshold)
					if !ok {
						continue
					}
					key := gridKey{level, int(math.Round(fx)), int(math.Round(fy))}
					if seen[key] {
						continue
					}
					seen[key] = true
					gaussian := pyramid.Gaussians[o][level]
					relSigma := pyramid.Sigmas[level] * math.Pow(2, ds/float64(cfg.ScalesPerOctave))
					orientation, ok := dominantOrientation(gaussian, fx, fy, relSigma)
					if !ok {
						continue
					}
					desc, ok := describeKeypoint(gaussian, fx, fy, relSigma, orientation)
					if !ok {
						continue
					}
					kps = append(kps, KeyPoint{
						X:           fx * octaveScale,
						Y:           fy * octaveScale,
						Scale:       relSigma * octaveScale,
						Orientation: orientation,
					})
					descs = append(descs, desc)
				}
			}
		}
	}
	return descs, kps, nil
}

// isScaleSpaceExtremum reports whether the difference-of-gaussian value at
// (x, y, level j) is a strict extremum over its 26 neighbors and exceeds the
// contrast threshold.
func isScaleSpaceExtremum(dogs []*mat.Dense, j, x, y int, contrast float64) bool {
	v := dogs[j].At(y, x)
	if math.Abs(v) < contrast {
		return false
	}
	isMax, isMin := v > 0, v < 0
	for dj := -1; dj <= 1; dj++ {
		d := dogs[j+dj]
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dj == 0 && dy == 0 && dx == 0 {
					continue
				}
				n := d.At(y+dy, x+dx)
				if n >= v {
					isMax = false
				}
				if n <= v {
					isMin = false
				}
				if !isMax && !isMin {
					return false
				}
			}
		}
	}
	return isMax || isMin
}

// isEdgeResponse applies the principal curvature ratio test on the 2x2 Hessian
// of the difference-of-gaussian level.
func isEdgeResponse(d *mat.Dense, x, y int, edgeRatio float64) bool {
	v := d.At(y, x)
	dxx := d.At(y, x+1) + d.At(y, x-1) - 2*v
	dyy := d.At(y+1, x) + d.At(y-1, x) - 2*v
	dxy := (d.At(y+1, x+1) - d.At(y+1, x-1) - d.At(y-1, x+1) + d.At(y-1, x-1)) / 4
	tr := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 {
		return true
	}
	return tr*tr/det >= utils.Square(edgeRatio+1)/edgeRatio
}

// refineExtremum localizes a raw extremum to subpixel position and scale by
// fitting a quadratic to its difference-of-gaussian neighborhood. When the
// fitted offset leaves the sample cell, the fit is re-anchored on the nearest
// sample, up to maxInterpolationSteps times. Extrema whose interpolated
// contrast falls below the threshold are dropped.
func refineExtremum(dogs []*mat.Dense, j, x, y int, contrast float64) (int, float64, float64, float64, bool) {
	rows, cols := dogs[0].Dims()
	for step := 0; step < maxInterpolationSteps; step++ {
		d := dogs[j]
		v := d.At(y, x)
		gx := (d.At(y, x+1) - d.At(y, x-1)) / 2
		gy := (d.At(y+1, x) - d.At(y-1, x)) / 2
		gs := (dogs[j+1].At(y, x) - dogs[j-1].At(y, x)) / 2
		dxx := d.At(y, x+1) + d.At(y, x-1) - 2*v
		dyy := d.At(y+1, x) + d.At(y-1, x) - 2*v
		dss := dogs[j+1].At(y, x) + dogs[j-1].At(y, x) - 2*v
		dxy := (d.At(y+1, x+1) - d.At(y+1, x-1) - d.At(y-1, x+1) + d.At(y-1, x-1)) / 4
		dxs := (dogs[j+1].At(y, x+1) - dogs[j+1].At(y, x-1) - dogs[j-1].At(y, x+1) + dogs[j-1].At(y, x-1)) / 4
		dys := (dogs[j+1].At(y+1, x) - dogs[j+1].At(y-1, x) - dogs[j-1].At(y+1, x) + dogs[j-1].At(y-1, x)) / 4
		hessian := mat.NewDense(3, 3, []float64{
			dxx, dxy, dxs,
			dxy, dyy, dys,
			dxs, dys, dss,
		})
		grad := mat.NewVecDense(3, []float64{gx, gy, gs})
		var solved mat.VecDense
		if err := solved.SolveVec(hessian, grad); err != nil {
			return 0, 0, 0, 0, false
		}
		offX, offY, offS := -solved.AtVec(0), -solved.AtVec(1), -solved.AtVec(2)
		if math.Abs(offX) < 0.5 && math.Abs(offY) < 0.5 && math.Abs(offS) < 0.5 {
			refined := v + 0.5*(gx*offX+gy*offY+gs*offS)
			if math.Abs(refined) < contrast {
				return 0, 0, 0, 0, false
			}
			return j, float64(x) + offX, float64(y) + offY, offS, true
		}
		x += int(math.Round(offX))
		y += int(math.Round(offY))
		j += int(math.Round(offS))
		if j < 1 || j > len(dogs)-2 || x < 1 || x > cols-2 || y < 1 || y > rows-2 {
			return 0, 0, 0, 0, false
		}
	}
	return 0, 0, 0, 0, false
}

// gradientAt returns the central difference gradient of a gaussian level,
// magnitude and angle in [0, 2pi).
func gradientAt(g *mat.Dense, x, y int) (float64, float64) {
	gx := (g.At(y, x+1) - g.At(y, x-1)) / 2
	gy := (g.At(y+1, x) - g.At(y-1, x)) / 2
	magnitude := math.Hypot(gx, gy)
	angle := math.Atan2(gy, gx)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return magnitude, angle
}

// smoothOrientationHistogram applies one circular pass of the binomial
// [1 4 6 4 1]/16 filter.
func smoothOrientationHistogram(hist []float64) []float64 {
	n := len(hist)
	out := make([]float64, n)
	for i := range hist {
		prev2, prev := hist[(i+n-2)%n], hist[(i+n-1)%n]
		next, next2 := hist[(i+1)%n], hist[(i+2)%n]
		out[i] = (prev2 + next2 + 4*(prev+next) + 6*hist[i]) / 16
	}
	return out
}

// dominantOrientation accumulates a gaussian-weighted gradient orientation
// histogram around the subpixel location (fx, fy), smooths it, and returns
// the parabolically interpolated angle of its peak.
func dominantOrientation(g *mat.Dense, fx, fy, relSigma float64) (float64, bool) {
	rows, cols := g.Dims()
	sigmaOri := orientationSigmaMult * relSigma
	radius := int(math.Round(3 * sigmaOri))
	if radius < 1 {
		radius = 1
	}
	cx, cy := int(math.Round(fx)), int(math.Round(fy))
	hist := make([]float64, orientationHistBins)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			xx, yy := cx+dx, cy+dy
			if xx < 1 || yy < 1 || xx >= cols-1 || yy >= rows-1 {
				continue
			}
			magnitude, angle := gradientAt(g, xx, yy)
			if magnitude == 0 {
				continue
			}
			rx := float64(xx) - fx
			ry := float64(yy) - fy
			weight := math.Exp(-(rx*rx + ry*ry) / (2 * utils.Square(sigmaOri)))
			bin := int(angle/(2*math.Pi)*orientationHistBins) % orientationHistBins
			hist[bin] += weight * magnitude
		}
	}
	smoothed := smoothOrientationHistogram(hist)
	best, bestVal := 0, 0.0
	for i, v := range smoothed {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	if bestVal == 0 {
		return 0, false
	}
	left := smoothed[(best+orientationHistBins-1)%orientationHistBins]
	right := smoothed[(best+1)%orientationHistBins]
	shift := 0.0
	if den := left - 2*smoothed[best] + right; den != 0 {
		shift = 0.5 * (left - right) / den
	}
	angle := (float64(best) + 0.5 + shift) * 2 * math.Pi / orientationHistBins
	if angle < 0 {
		angle += 2 * math.Pi
	}
	if angle >= 2*math.Pi {
		angle -= 2 * math.Pi
	}
	return angle, true
}

// accumulateTrilinear distributes a weighted gradient sample over the two
// nearest bins along each descriptor axis; orientation wraps, spatial shares
// falling outside the 4x4 grid are dropped.
func accumulateTrilinear(desc Descriptor, xBin, yBin, oBin, value float64) {
	x0 := int(math.Floor(xBin))
	y0 := int(math.Floor(yBin))
	o0 := int(math.Floor(oBin))
	wx := [2]float64{1 - (xBin - float64(x0)), xBin - float64(x0)}
	wy := [2]float64{1 - (yBin - float64(y0)), yBin - float64(y0)}
	wo := [2]float64{1 - (oBin - float64(o0)), oBin - float64(o0)}
	for iy := 0; iy < 2; iy++ {
		yb := y0 + iy
		if yb < 0 || yb >= descWidth {
			continue
		}
		for ix := 0; ix < 2; ix++ {
			xb := x0 + ix
			if xb < 0 || xb >= descWidth {
				continue
			}
			for io := 0; io < 2; io++ {
				ob := (o0 + io) % descOrientationBins
				desc[(yb*descWidth+xb)*descOrientationBins+ob] += value * wy[iy] * wx[ix] * wo[io]
			}
		}
	}
}

// describeKeypoint encodes the 4x4x8 gradient histogram of the patch around
// the subpixel location (fx, fy), rotated to the keypoint orientation, with
// each sample shared trilinearly across adjacent spatial and orientation
// bins, then L2-normalized, clamped and renormalized.
func describeKeypoint(g *mat.Dense, fx, fy, relSigma, orientation float64) (Descriptor, bool) {
	rows, cols := g.Dims()
	binWidth := 3 * relSigma
	radius := int(math.Round(binWidth * float64(descWidth+1) / 2 * math.Sqrt2))
	if radius < 2 {
		radius = 2
	}
	cosO, sinO := math.Cos(orientation), math.Sin(orientation)
	cx, cy := int(math.Round(fx)), int(math.Round(fy))
	windowSigma := binWidth * float64(descWidth) / 2
	desc := make(Descriptor, DescriptorSize)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			xx, yy := cx+dx, cy+dy
			if xx < 1 || yy < 1 || xx >= cols-1 || yy >= rows-1 {
				continue
			}
			// rotate the offset into the keypoint frame
			ox := float64(xx) - fx
			oy := float64(yy) - fy
			rx := cosO*ox + sinO*oy
			ry := -sinO*ox + cosO*oy
			xBin := rx/binWidth + float64(descWidth)/2 - 0.5
			yBin := ry/binWidth + float64(descWidth)/2 - 0.5
			if xBin <= -1 || xBin >= float64(descWidth) || yBin <= -1 || yBin >= float64(descWidth) {
				continue
			}
			magnitude, angle := gradientAt(g, xx, yy)
			if magnitude == 0 {
				continue
			}
			relAngle := angle - orientation
			for relAngle < 0 {
				relAngle += 2 * math.Pi
			}
			oBin := relAngle / (2 * math.Pi) * descOrientationBins
			weight := math.Exp(-(rx*rx + ry*ry) / (2 * utils.Square(windowSigma)))
			accumulateTrilinear(desc, xBin, yBin, oBin, weight*magnitude)
		}
	}
	if !normalizeDescriptor(desc) {
		return nil, false
	}
	// clamp large gradients and renormalize for illumination invariance
	for i := range desc {
		if desc[i] > descMagnitudeClamp {
			desc[i] = descMagnitudeClamp
		}
	}
	if !normalizeDescriptor(desc) {
		return nil, false
	}
	return desc, true
}

func normalizeDescriptor(desc Descriptor) bool {
	norm := 0.0
	for _, v := range desc {
		norm += v * v
	}
	if norm == 0 {
		return false
	}
	norm = math.Sqrt(norm)
	for i := range desc {
		desc[i] /= norm
	}
	return true
}
