package geometry

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose3d is a rigid transform: a rotation followed by a translation.
type Pose3d struct {
	Translation r3.Vec
	Rotation    Rotation
}

// NewPose builds a pose from a translation and a rotation.
func NewPose(t r3.Vec, r Rotation) Pose3d {
	return Pose3d{Translation: t, Rotation: r}
}

// Apply maps a point from the pose's local frame into its parent frame.
func (p Pose3d) Apply(v r3.Vec) r3.Vec {
	return r3.Add(p.Rotation.Rotate(v), p.Translation)
}

// TransformBy composes p with other expressed in p's local frame.
func (p Pose3d) TransformBy(other Pose3d) Pose3d {
	return Pose3d{
		Translation: p.Apply(other.Translation),
		Rotation:    other.Rotation.Then(p.Rotation),
	}
}

// Inverse returns the transform that undoes p.
func (p Pose3d) Inverse() Pose3d {
	inv := p.Rotation.Inverse()
	return Pose3d{
		Translation: r3.Scale(-1, inv.Rotate(p.Translation)),
		Rotation:    inv,
	}
}

// Norm returns the length of the translation.
func (p Pose3d) Norm() float64 {
	return r3.Norm(p.Translation)
}

// Components returns tx, ty, tz, qw, qx, qy, qz.
func (p Pose3d) Components() [7]float64 {
	w, x, y, z := p.Rotation.Quaternion()
	return [7]float64{p.Translation.X, p.Translation.Y, p.Translation.Z, w, x, y, z}
}

// PoseFromComponents is the inverse of Components.
func PoseFromComponents(c [7]float64) Pose3d {
	return Pose3d{
		Translation: r3.Vec{X: c[0], Y: c[1], Z: c[2]},
		Rotation:    RotationFromQuaternion(c[3], c[4], c[5], c[6]),
	}
}

// cvToRobot maps OpenCV camera axes onto robot axes: x=z, y=-x, z=-y.
var cvToRobot = mat.NewDense(3, 3, []float64{
	0, 0, 1,
	-1, 0, 0,
	0, -1, 0,
})

// OpenCVToRobot converts an OpenCV translation and Rodrigues rotation
// vector into a pose in the robot convention.
func OpenCVToRobot(tvec, rvec r3.Vec) Pose3d {
	return Pose3d{
		Translation: r3.Vec{X: tvec.Z, Y: -tvec.X, Z: -tvec.Y},
		Rotation:    RotationFromVector(r3.Vec{X: rvec.Z, Y: -rvec.X, Z: -rvec.Y}),
	}
}

// OpenCVPoseToRobot converts a pose whose translation and rotation are both
// expressed with OpenCV axes.
func OpenCVPoseToRobot(p Pose3d) Pose3d {
	return OpenCVToRobot(p.Translation, p.Rotation.Vector())
}

// RobotToOpenCV is the inverse of OpenCVPoseToRobot.
func RobotToOpenCV(p Pose3d) Pose3d {
	rv := p.Rotation.Vector()
	return Pose3d{
		Translation: RobotTranslationToOpenCV(p.Translation),
		Rotation:    RotationFromVector(RobotTranslationToOpenCV(rv)),
	}
}

// RobotTranslationToOpenCV reorders a robot-frame vector into OpenCV axes.
func RobotTranslationToOpenCV(t r3.Vec) r3.Vec {
	return r3.Vec{X: -t.Y, Y: -t.Z, Z: t.X}
}

// ConversionMatrix returns a copy of the OpenCV to robot axis matrix.
func ConversionMatrix() *mat.Dense {
	return mat.DenseCopyOf(cvToRobot)
}
