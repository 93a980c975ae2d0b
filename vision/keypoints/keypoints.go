// Package keypoints implements scale and rotation invariant keypoint detection,
// description and matching for pairs of images.
package keypoints

import (
	"github.com/fogleman/gg"

	"github.com/moseskim1027/multiview-3d-reconstruction/rimage"
)

// KeyPoint is a salient image location with subpixel coordinates, the scale at
// which it was detected and its dominant gradient orientation in radians.
type KeyPoint struct {
	X           float64
	Y           float64
	Scale       float64
	Orientation float64
}

// KeyPoints is a set of keypoints detected in one image.
type KeyPoints []KeyPoint

// Descriptor is the fixed-length gradient histogram encoding of the patch
// around a keypoint, L2-normalized for illumination invariance.
type Descriptor []float64

// Descriptors is a set of descriptors, 1:1 with a KeyPoints set.
type Descriptors []Descriptor

// PlotKeypoints plots keypoints on image.
func PlotKeypoints(img *rimage.Image, kps KeyPoints, outName string) error {
	dc := gg.NewContext(img.Width(), img.Height())
	dc.DrawImage(img.ToRGBA(), 0, 0)

	// draw keypoints on image
	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps {
		dc.DrawCircle(p.X, p.Y, 3.0)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}

// PlotMatchedLines draws the two images side by side with one line per
// matched keypoint pair.
func PlotMatchedLines(im1, im2 *rimage.Image, kps1, kps2 KeyPoints, matches []Match, outName string) error {
	w := im1.Width() + im2.Width()
	h := im1.Height()
	if im2.Height() > h {
		h = im2.Height()
	}
	dc := gg.NewContext(w, h)
	dc.DrawImage(im1.ToRGBA(), 0, 0)
	dc.DrawImage(im2.ToRGBA(), im1.Width(), 0)

	dc.SetRGBA(0, 1, 0, 0.6)
	dc.SetLineWidth(1.25)
	for _, m := range matches {
		p1 := kps1[m.Idx1]
		p2 := kps2[m.Idx2]
		dc.DrawLine(p1.X, p1.Y, p2.X+float64(im1.Width()), p2.Y)
		dc.Stroke()
	}
	return dc.SavePNG(outName)
}
