package pose

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// solution is a pose of an object in OpenCV camera axes with its RMS
// reprojection error in pixels.
type solution struct {
	pose  geometry.Pose3d
	error float64
}

// squareModel returns the marker corners in the marker frame, matching the
// order the detector reports image corners in.
func squareModel(size float64) [4]r3.Vec {
	h := size / 2
	return [4]r3.Vec{
		{X: -h, Y: h},
		{X: h, Y: h},
		{X: h, Y: -h},
		{X: -h, Y: -h},
	}
}

// reprojectionError is the RMS pixel distance between observed corners and
// the model projected through pose.
func reprojectionError(cam Camera, pose geometry.Pose3d, model []r3.Vec, image []vision.Point) float64 {
	var sum float64
	for i, m := range model {
		p := cam.Project(pose.Apply(m))
		dx, dy := p.X-image[i].X, p.Y-image[i].Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(2*len(model)))
}

// homography estimates H mapping planar model points (X, Y) to normalized
// image points, scaled so that H[2][2] is 1.
func homography(model [4]r3.Vec, image [4][2]float64) (*mat.Dense, bool) {
	a := mat.NewDense(8, 9, nil)
	for i := 0; i < 4; i++ {
		X, Y := model[i].X, model[i].Y
		x, y := image[i][0], image[i][1]
		a.SetRow(2*i, []float64{X, Y, 1, 0, 0, 0, -x * X, -x * Y, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, X, Y, 1, -y * X, -y * Y, -y})
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, false
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[len(values)-1]/values[0] < 1e-10 {
		return nil, false
	}
	var v mat.Dense
	svd.VTo(&v)
	h := mat.Col(nil, 8, &v)
	if math.Abs(h[8]) < 1e-12 {
		return nil, false
	}
	for i := range h {
		h[i] /= h[8]
	}
	return mat.NewDense(3, 3, h), true
}

// rotateZTo returns a rotation taking the z axis onto the direction of v.
func rotateZTo(v r3.Vec) *mat.Dense {
	a := r3.Unit(v)
	c := a.Z
	if math.Abs(1+c) < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	}
	d := 1 / (1 + c)
	// Transpose of the rotation taking v onto z.
	return mat.NewDense(3, 3, []float64{
		1 - a.X*a.X*d, -a.X * a.Y * d, a.X,
		-a.X * a.Y * d, 1 - a.Y*a.Y*d, a.Y,
		-a.X, -a.Y, 1 - (a.X*a.X+a.Y*a.Y)*d,
	})
}

// ippeRotations computes the two rotations consistent with the Jacobian
// of the homography at the model origin (Collins and Bartoli, IPPE).
func ippeRotations(h *mat.Dense) (*mat.Dense, *mat.Dense, bool) {
	p, q := h.At(0, 2), h.At(1, 2)
	j := mat.NewDense(2, 2, []float64{
		h.At(0, 0) - h.At(2, 0)*p, h.At(0, 1) - h.At(2, 1)*p,
		h.At(1, 0) - h.At(2, 0)*q, h.At(1, 1) - h.At(2, 1)*q,
	})
	if math.Abs(mat.Det(j)) < 1e-14 {
		return nil, nil, false
	}

	rv := rotateZTo(r3.Vec{X: p, Y: q, Z: 1})
	proj := mat.NewDense(2, 3, []float64{1, 0, -p, 0, 1, -q})
	var b mat.Dense
	b.Mul(proj, rv.Slice(0, 3, 0, 2))
	var bInv mat.Dense
	if err := bInv.Inverse(&b); err != nil {
		return nil, nil, false
	}
	var a mat.Dense
	a.Mul(&bInv, j)

	var svd mat.SVD
	if !svd.Factorize(&a, mat.SVDNone) {
		return nil, nil, false
	}
	gamma := svd.Values(nil)[0]
	if gamma < 1e-7 {
		return nil, nil, false
	}
	r00, r01 := a.At(0, 0)/gamma, a.At(0, 1)/gamma
	r10, r11 := a.At(1, 0)/gamma, a.At(1, 1)/gamma

	b0 := math.Sqrt(math.Max(0, 1-r00*r00-r10*r10))
	b1 := math.Sqrt(math.Max(0, 1-r01*r01-r11*r11))
	if -r00*r01-r10*r11 < 0 {
		b1 = -b1
	}

	build := func(b0, b1 float64) *mat.Dense {
		c0 := r3.Vec{X: r00, Y: r10, Z: b0}
		c1 := r3.Vec{X: r01, Y: r11, Z: b1}
		c2 := r3.Cross(c0, c1)
		local := mat.NewDense(3, 3, []float64{
			c0.X, c1.X, c2.X,
			c0.Y, c1.Y, c2.Y,
			c0.Z, c1.Z, c2.Z,
		})
		var r mat.Dense
		r.Mul(rv, local)
		return &r
	}
	return build(b0, b1), build(-b0, -b1), true
}

// translation solves for t given the rotation, in a least squares sense
// over all correspondences.
func translation(r *mat.Dense, model [4]r3.Vec, image [4][2]float64) (r3.Vec, bool) {
	a := mat.NewDense(8, 3, nil)
	rhs := mat.NewVecDense(8, nil)
	for i, m := range model {
		x, y := image[i][0], image[i][1]
		r1 := r.At(0, 0)*m.X + r.At(0, 1)*m.Y + r.At(0, 2)*m.Z
		r2 := r.At(1, 0)*m.X + r.At(1, 1)*m.Y + r.At(1, 2)*m.Z
		r3z := r.At(2, 0)*m.X + r.At(2, 1)*m.Y + r.At(2, 2)*m.Z
		a.SetRow(2*i, []float64{1, 0, -x})
		a.SetRow(2*i+1, []float64{0, 1, -y})
		rhs.SetVec(2*i, x*r3z-r1)
		rhs.SetVec(2*i+1, y*r3z-r2)
	}
	var t mat.VecDense
	if err := t.SolveVec(a, rhs); err != nil {
		return r3.Vec{}, false
	}
	v := r3.Vec{X: t.AtVec(0), Y: t.AtVec(1), Z: t.AtVec(2)}
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) {
		return r3.Vec{}, false
	}
	return v, true
}

// solveSquare returns both IPPE solutions for a square marker of the given
// edge length, ordered by increasing reprojection error.
func solveSquare(cam Camera, corners [4]vision.Point, size float64) ([]solution, bool) {
	if size <= 0 {
		return nil, false
	}
	model := squareModel(size)
	var norm [4][2]float64
	for i, c := range corners {
		norm[i][0], norm[i][1] = cam.Normalize(c)
	}
	h, ok := homography(model, norm)
	if !ok {
		return nil, false
	}
	rA, rB, ok := ippeRotations(h)
	if !ok {
		return nil, false
	}

	modelSlice := model[:]
	image := corners[:]
	var out []solution
	for _, r := range []*mat.Dense{rA, rB} {
		t, ok := translation(r, model, norm)
		if !ok {
			return nil, false
		}
		p := geometry.NewPose(t, geometry.RotationFromMatrix(r))
		out = append(out, solution{pose: p, error: reprojectionError(cam, p, modelSlice, image)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].error < out[j].error })
	return out, true
}

// SolveTag estimates the camera-to-tag pose of one marker. Both hypotheses
// are always returned; Pose0 has the lower reprojection error.
func SolveTag(cam Camera, obs vision.ImageObservation, size float64) (vision.FiducialPoseObservation, bool) {
	sols, ok := solveSquare(cam, obs.Corners, size)
	if !ok {
		return vision.FiducialPoseObservation{}, false
	}
	return vision.FiducialPoseObservation{
		TagID: obs.TagID,
		HypothesisPair: vision.HypothesisPair{
			Pose0:     geometry.OpenCVPoseToRobot(sols[0].pose),
			Error0:    sols[0].error,
			Pose1:     geometry.OpenCVPoseToRobot(sols[1].pose),
			Error1:    sols[1].error,
			Ambiguous: true,
		},
	}, true
}
