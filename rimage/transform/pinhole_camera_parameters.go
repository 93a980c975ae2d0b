// Package transform provides the two-view geometry of the reconstruction
// pipeline: camera intrinsics, fundamental and essential matrix estimation,
// pose recovery and triangulation.
package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidCalibration is returned when a calibration file is present but does
// not follow the Middlebury camera matrix grammar.
var ErrInvalidCalibration = errors.New("invalid calibration file")

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective
// projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.New("intrinsics do not exist")
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Errorf("invalid focal length (%v, %v)", params.Fx, params.Fy)
	}
	if params.Ppx < 0 || params.Ppy < 0 {
		return errors.Errorf("invalid principal point (%v, %v)", params.Ppx, params.Ppy)
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PointToPixel projects a 3D point in the camera frame to a subpixel location
// in the image plane.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := (x/z)*params.Fx + params.Ppx
		yPx := (y/z)*params.Fy + params.Ppy
		return xPx, yPx
	}
	// if depth is zero at this pixel, return negative coordinates so that the
	// cropping to image bounds will filter it out
	return -1.0, -1.0
}

// PixelToNormalized converts a pixel location to normalized camera coordinates
// on the z=1 plane.
func (params *PinholeCameraIntrinsics) PixelToNormalized(pt r2.Point) r3.Vector {
	return r3.Vector{
		X: (pt.X - params.Ppx) / params.Fx,
		Y: (pt.Y - params.Ppy) / params.Fy,
		Z: 1,
	}
}

// NewIntrinsicsFromDimensions derives plausible intrinsics from image
// dimensions, with the focal length set to the larger dimension and the
// principal point at the image center. Suitable as a fallback when no
// calibration file is provided.
func NewIntrinsicsFromDimensions(width, height int) *PinholeCameraIntrinsics {
	f := float64(width)
	if height > width {
		f = float64(height)
	}
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     f,
		Fy:     f,
		Ppx:    float64(width) / 2.,
		Ppy:    float64(height) / 2.,
	}
}

// camLineRegexp matches one Middlebury calibration line, e.g.
// cam0=[1000 0 320; 0 1000 240; 0 0 1]
var camLineRegexp = regexp.MustCompile(`^cam([01])=\[([^;\]]+);([^;\]]+);([^;\]]+)\]$`)

// ParseMiddleburyCalibration parses Middlebury-style calibration content into
// one set of intrinsics per camera:
//
//	cam0=[f 0 cx; 0 f cy; 0 0 1]
//	cam1=[f 0 cx; 0 f cy; 0 0 1]
//
// Lines may appear in either order. Any deviation from the grammar returns
// ErrInvalidCalibration.
func ParseMiddleburyCalibration(content string) (*PinholeCameraIntrinsics, *PinholeCameraIntrinsics, error) {
	cams := [2]*PinholeCameraIntrinsics{}
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		groups := camLineRegexp.FindStringSubmatch(line)
		if groups == nil {
			return nil, nil, errors.Wrapf(ErrInvalidCalibration, "cannot parse line %q", line)
		}
		idx := int(groups[1][0] - '0')
		vals := make([]float64, 0, 9)
		for row := 0; row < 3; row++ {
			for _, field := range strings.Fields(groups[2+row]) {
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, nil, errors.Wrapf(ErrInvalidCalibration, "bad matrix entry %q in line %q", field, line)
				}
				vals = append(vals, v)
			}
		}
		if len(vals) != 9 {
			return nil, nil, errors.Wrapf(ErrInvalidCalibration, "expected 9 matrix entries in line %q, got %d", line, len(vals))
		}
		if vals[1] != 0 || vals[3] != 0 || vals[6] != 0 || vals[7] != 0 || vals[8] != 1 {
			return nil, nil, errors.Wrapf(ErrInvalidCalibration, "line %q is not an intrinsic matrix", line)
		}
		cams[idx] = &PinholeCameraIntrinsics{
			Fx:  vals[0],
			Fy:  vals[4],
			Ppx: vals[2],
			Ppy: vals[5],
		}
	}
	if cams[0] == nil || cams[1] == nil {
		return nil, nil, errors.Wrap(ErrInvalidCalibration, "calibration file must define both cam0 and cam1")
	}
	return cams[0], cams[1], nil
}

// WriteMiddleburyCalibration renders two sets of intrinsics in the Middlebury
// calibration grammar accepted by ParseMiddleburyCalibration.
func WriteMiddleburyCalibration(cam0, cam1 *PinholeCameraIntrinsics) string {
	line := func(idx int, c *PinholeCameraIntrinsics) string {
		return fmt.Sprintf("cam%d=[%s 0 %s; 0 %s %s; 0 0 1]",
			idx,
			strconv.FormatFloat(c.Fx, 'g', -1, 64),
			strconv.FormatFloat(c.Ppx, 'g', -1, 64),
			strconv.FormatFloat(c.Fy, 'g', -1, 64),
			strconv.FormatFloat(c.Ppy, 'g', -1, 64),
		)
	}
	return line(0, cam0) + "\n" + line(1, cam1) + "\n"
}

// ResolveIntrinsics returns the intrinsics for both views. If calibration
// content is non-empty it must parse; otherwise each view gets fallback
// intrinsics derived from its own dimensions.
func ResolveIntrinsics(calibration string, w1, h1, w2, h2 int) (*PinholeCameraIntrinsics, *PinholeCameraIntrinsics, error) {
	if strings.TrimSpace(calibration) == "" {
		return NewIntrinsicsFromDimensions(w1, h1), NewIntrinsicsFromDimensions(w2, h2), nil
	}
	cam0, cam1, err := ParseMiddleburyCalibration(calibration)
	if err != nil {
		return nil, nil, err
	}
	cam0.Width, cam0.Height = w1, h1
	cam1.Width, cam1.Height = w2, h2
	if err := cam0.CheckValid(); err != nil {
		return nil, nil, errors.Wrap(ErrInvalidCalibration, err.Error())
	}
	if err := cam1.CheckValid(); err != nil {
		return nil, nil, errors.Wrap(ErrInvalidCalibration, err.Error())
	}
	return cam0, cam1, nil
}

// DistanceToEpipolarLine returns the distance in pixels from point pt2 to the
// epipolar line of pt1 under the fundamental matrix f.
func DistanceToEpipolarLine(pt1, pt2 r2.Point, f *mat.Dense) float64 {
	l := mat.NewVecDense(3, nil)
	l.MulVec(f, mat.NewVecDense(3, []float64{pt1.X, pt1.Y, 1}))
	den := math.Hypot(l.AtVec(0), l.AtVec(1))
	if den == 0 {
		return math.Inf(1)
	}
	return math.Abs(pt2.X*l.AtVec(0)+pt2.Y*l.AtVec(1)+l.AtVec(2)) / den
}
