// Package pointcloud defines an ordered, colored point cloud and its PCD
// serialization. Insertion order is preserved so that point and color
// sequences stay index-aligned with the correspondences they came from.
package pointcloud

import (
	"fmt"
	"io"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
)

// PointCloud is an ordered sequence of 3D points with one color per point.
type PointCloud struct {
	points []r3.Vector
	colors []colorful.Color
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with capacity for size points.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{
		points: make([]r3.Vector, 0, size),
		colors: make([]colorful.Color, 0, size),
	}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	return len(cloud.points)
}

// Append adds a point and its color at the end of the cloud.
func (cloud *PointCloud) Append(p r3.Vector, c colorful.Color) {
	cloud.points = append(cloud.points, p)
	cloud.colors = append(cloud.colors, c)
}

// At returns the i-th point and its color.
func (cloud *PointCloud) At(i int) (r3.Vector, colorful.Color) {
	return cloud.points[i], cloud.colors[i]
}

// Points returns the point sequence in insertion order.
func (cloud *PointCloud) Points() []r3.Vector {
	return cloud.points
}

// Colors returns the color sequence, index-aligned with Points.
func (cloud *PointCloud) Colors() []colorful.Color {
	return cloud.colors
}

// colorToPCDInt packs a color into the single integer rgb field of the PCD
// format.
func colorToPCDInt(c colorful.Color) int {
	r, g, b := c.RGB255()
	x := 0
	x |= int(r) << 16
	x |= int(g) << 8
	x |= int(b)
	return x
}

// ToPCD writes the cloud to out in the ASCII PCD format.
func (cloud *PointCloud) ToPCD(out io.Writer) error {
	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z rgb\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F I\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA ascii\n",
		cloud.Size(), cloud.Size()); err != nil {
		return err
	}
	for i, p := range cloud.points {
		if _, err := fmt.Fprintf(out, "%f %f %f %d\n", p.X, p.Y, p.Z, colorToPCDInt(cloud.colors[i])); err != nil {
			return err
		}
	}
	return nil
}
