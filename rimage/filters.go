package rimage

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/utils"
)

// Helper for convolving matrices together. When used with i, dx := range
// makeRangeArray(n), i is the position within the kernel and dx gives the
// offset within the image.
func makeRangeArray(length int) []int {
	if length <= 0 {
		return make([]int, 0)
	}
	rangeArray := make([]int, length)
	span := (length - 1) / 2
	for i := 0; i < length; i++ {
		rangeArray[i] = i - span
	}
	return rangeArray
}

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for
// weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*utils.Square(p)/utils.Square(sigma)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// GaussianKernel1D returns a normalized separable gaussian kernel covering
// 3 sigma on each side.
func GaussianKernel1D(sigma float64) []float64 {
	gaus := GaussianFunction1D(sigma)
	k := utils.MaxInt(3, 1+2*int(math.Ceil(3.*sigma)))
	xRange := makeRangeArray(k)
	kernel := make([]float64, k)
	sum := 0.0
	for i, x := range xRange {
		kernel[i] = gaus(float64(x))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolve1D applies a 1D kernel along one axis of m with border replication.
// horizontal selects the axis.
func convolve1D(m *mat.Dense, kernel []float64, horizontal bool) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	offsets := makeRangeArray(len(kernel))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			val := 0.0
			for i, d := range offsets {
				yy, xx := y, x
				if horizontal {
					xx = int(utils.Clamp(float64(x+d), 0, float64(cols-1)))
				} else {
					yy = int(utils.Clamp(float64(y+d), 0, float64(rows-1)))
				}
				val += kernel[i] * m.At(yy, xx)
			}
			out.Set(y, x, val)
		}
	}
	return out
}

// GaussianBlur blurs a luminance matrix with an isotropic gaussian of the given
// sigma, applied as two separable 1D passes.
func GaussianBlur(m *mat.Dense, sigma float64) *mat.Dense {
	if sigma <= 0. {
		out := mat.DenseCopyOf(m)
		return out
	}
	kernel := GaussianKernel1D(sigma)
	return convolve1D(convolve1D(m, kernel, true), kernel, false)
}

// Downsample2 halves a luminance matrix by keeping every other pixel.
func Downsample2(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense((rows+1)/2, (cols+1)/2, nil)
	for y := 0; y < rows; y += 2 {
		for x := 0; x < cols; x += 2 {
			out.Set(y/2, x/2, m.At(y, x))
		}
	}
	return out
}
