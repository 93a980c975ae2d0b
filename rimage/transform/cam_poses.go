package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/moseskim1027/multiview-3d-reconstruction/utils"
)

// maxCheiralityProbes caps the number of inliers triangulated while
// disambiguating the pose decomposition.
const maxCheiralityProbes = 50

// CamPose stores the 3x4 pose matrix as well as the 3D rotation and
// translation matrices of the second camera relative to the first.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	U3 := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// BaselineNorm returns the norm of the translation vector. The pipeline
// normalizes the translation during essential matrix decomposition, so this is
// the two-view baseline only up to the inherent scale ambiguity.
func (cp *CamPose) BaselineNorm() float64 {
	t := cp.Translation
	return math.Sqrt(utils.Square(t.At(0, 0)) + utils.Square(t.At(1, 0)) + utils.Square(t.At(2, 0)))
}

// Transform applies the pose to a point in the first camera frame, returning
// its coordinates in the second camera frame.
func (cp *CamPose) Transform(pt r3.Vector) r3.Vector {
	r := cp.Rotation
	t := cp.Translation
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + t.At(0, 0),
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + t.At(1, 0),
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + t.At(2, 0),
	}
}

// adjustPoseSign adjusts the sign of a pose so that its rotation has a
// positive determinant.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	// take 3x3 sub-matrix
	subPose := pose.Slice(0, 3, 0, 3)

	// if determinant is negative, scale by -1
	if m := mat.DenseCopyOf(subPose); mat.Det(m) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential
// matrix: two rotations times two translation signs.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]mat.Dense, 4)
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	// adjust sign of poses
	posesOut := make([]*mat.Dense, 4)
	for i := range poses {
		posesOut[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}

	return posesOut, nil
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// TriangulatePointDLT computes the 3D position of one correspondence given in
// homogeneous normalized camera coordinates, by stacking the cross-product
// constraints of both projections and taking the singular vector of the
// smallest singular value.
func TriangulatePointDLT(pose *mat.Dense, pt1, pt2 r3.Vector) (r3.Vector, error) {
	// identity projection for the first camera
	P := mat.NewDense(3, 4, nil)
	P.Set(0, 0, 1)
	P.Set(1, 1, 1)
	P.Set(2, 2, 1)
	return triangulateWithProjections(P, pose, pt1, pt2)
}

func triangulateWithProjections(P, Pdash *mat.Dense, pt1, pt2 r3.Vector) (r3.Vector, error) {
	p1Cross := getCrossProductMatFromPoint(pt1)
	p2Cross := getCrossProductMatFromPoint(pt2)
	p1CrossP := mat.NewDense(3, 4, nil)
	p1CrossP.Mul(p1Cross, P)
	p2CrossPdash := mat.NewDense(3, 4, nil)
	p2CrossPdash.Mul(p2Cross, Pdash)
	var A mat.Dense
	A.Stack(p1CrossP, p2CrossPdash)

	var svd mat.SVD
	ok := svd.Factorize(&A, mat.SVDFull)
	if !ok {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	const rcond = 1e-15
	if svd.Rank(rcond) == 0 {
		return r3.Vector{}, errors.New("zero rank triangulation system")
	}
	var V mat.Dense
	svd.VTo(&V)
	pt3d := V.ColView(3)
	wHom := pt3d.AtVec(3)
	if wHom == 0 {
		return r3.Vector{}, errors.New("triangulated point at infinity")
	}
	return r3.Vector{
		X: pt3d.AtVec(0) / wHom,
		Y: pt3d.AtVec(1) / wHom,
		Z: pt3d.AtVec(2) / wHom,
	}, nil
}

// GetLinearTriangulatedPoints computes triangulated 3D points for all
// correspondences with the linear method. Points are expressed in the first
// camera frame.
func GetLinearTriangulatedPoints(pose *mat.Dense, pts1, pts2 []r3.Vector) ([]r3.Vector, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	pts3d := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		pt, err := TriangulatePointDLT(pose, pts1[i], pts2[i])
		if err != nil {
			return nil, err
		}
		pts3d[i] = pt
	}
	return pts3d, nil
}

// getNumberPositiveDepth computes the number of triangulated points with
// positive depth in both camera frames under the candidate pose.
func getNumberPositiveDepth(pose *mat.Dense, pts1, pts2 []r3.Vector) int {
	cp := NewCamPoseFromMat(mat.DenseCopyOf(pose))
	nPositiveDepth := 0
	for i := range pts1 {
		pt, err := TriangulatePointDLT(pose, pts1[i], pts2[i])
		if err != nil {
			continue
		}
		if pt.Z > 0 && cp.Transform(pt).Z > 0 {
			nPositiveDepth++
		}
	}
	return nPositiveDepth
}

// SelectCameraPose returns the candidate pose with the most triangulated
// points in front of both cameras. It fails with ErrDegenerateGeometry when no
// candidate places a strict majority of the probe points at positive depth.
func SelectCameraPose(poses []*mat.Dense, pts1, pts2 []r3.Vector) (*CamPose, error) {
	nProbes := utils.MinInt(len(pts1), maxCheiralityProbes)
	probe1 := pts1[:nProbes]
	probe2 := pts2[:nProbes]
	maxNumPosDepth := 0
	var correctPose *mat.Dense
	for _, pose := range poses {
		nPosDepth := getNumberPositiveDepth(pose, probe1, probe2)
		if nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = mat.DenseCopyOf(pose)
		}
	}
	if correctPose == nil || maxNumPosDepth*2 <= nProbes {
		return nil, errors.Wrapf(ErrDegenerateGeometry,
			"no pose candidate puts a majority of %d probe points in front of both cameras", nProbes)
	}
	return NewCamPoseFromMat(correctPose), nil
}

// RecoverPose recovers the relative pose of the second camera from the
// fundamental matrix and both sets of intrinsics, resolving the four-fold
// decomposition ambiguity with a cheirality check over the given inlier
// correspondences in normalized camera coordinates.
func RecoverPose(f *mat.Dense, k1, k2 *mat.Dense, normPts1, normPts2 []r3.Vector) (*CamPose, error) {
	essMat, err := GetEssentialMatrixFromFundamental(k1, k2, f)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(essMat)
	if err != nil {
		return nil, err
	}
	return SelectCameraPose(poses, normPts1, normPts2)
}
