// Package rimage defines the image representations and low-level processing
// used by the reconstruction pipeline.
package rimage

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
)

// ErrDecodeFailure is returned when input bytes cannot be interpreted as an image.
var ErrDecodeFailure = errors.New("cannot decode bytes into an image")

// Image is an immutable pixel grid with color channels in [0, 1].
type Image struct {
	data          []colorful.Color
	width, height int
}

// NewImage returns a black image of the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		data:   make([]colorful.Color, width*height),
		width:  width,
		height: height,
	}
}

// ConvertImage converts any image.Image into an Image.
func ConvertImage(img image.Image) *Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c, _ := colorful.MakeColor(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			out.data[y*w+x] = c
		}
	}
	return out
}

// DecodeImage decodes raw image bytes (PNG, JPEG, BMP, TIFF, GIF) into an Image.
func DecodeImage(raw []byte) (*Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(ErrDecodeFailure, err.Error())
	}
	return ConvertImage(img), nil
}

// NewImageFromFile loads an image from a file on disk.
func NewImageFromFile(fn string) (*Image, error) {
	//nolint:gosec
	raw, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	return DecodeImage(raw)
}

// Width returns the horizontal width of the image.
func (i *Image) Width() int {
	return i.width
}

// Height returns the vertical height of the image.
func (i *Image) Height() int {
	return i.height
}

// In returns whether the point (x,y) lands inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

// GetXY returns the color at (x,y).
func (i *Image) GetXY(x, y int) colorful.Color {
	return i.data[y*i.width+x]
}

// SetXY sets the color at (x,y). Only used while building an image.
func (i *Image) SetXY(x, y int, c colorful.Color) {
	i.data[y*i.width+x] = c
}

// SampleColor returns the color at the pixel nearest to the floating point
// location (x,y), clipped to the image bounds.
func (i *Image) SampleColor(x, y float64) colorful.Color {
	xi := int(x + 0.5)
	yi := int(y + 0.5)
	if xi < 0 {
		xi = 0
	}
	if xi >= i.width {
		xi = i.width - 1
	}
	if yi < 0 {
		yi = 0
	}
	if yi >= i.height {
		yi = i.height - 1
	}
	return i.GetXY(xi, yi)
}

// ToRGBA renders the image into a standard library RGBA image.
func (i *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, i.width, i.height))
	for y := 0; y < i.height; y++ {
		for x := 0; x < i.width; x++ {
			out.Set(x, y, i.GetXY(x, y))
		}
	}
	return out
}

// Luminance returns the perceived brightness of a color in [0, 1].
func Luminance(c colorful.Color) float64 {
	return 0.299*c.R + 0.587*c.G + 0.114*c.B
}

// MakeGray converts an Image into a dense matrix of luminance values in [0, 1],
// with rows indexed by y and columns by x.
func MakeGray(pic *Image) *mat.Dense {
	m := mat.NewDense(pic.height, pic.width, nil)
	for y := 0; y < pic.height; y++ {
		for x := 0; x < pic.width; x++ {
			m.Set(y, x, Luminance(pic.GetXY(x, y)))
		}
	}
	return m
}
