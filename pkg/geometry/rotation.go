// Package geometry holds the rigid-body types shared by the pose pipeline and
// the conversions between the OpenCV camera convention (x right, y down,
// z forward) and the robot field convention (x forward, y left, z up).
package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a 3D rotation stored as a unit quaternion.
type Rotation struct {
	q quat.Number
}

// IdentityRotation returns the rotation that leaves every vector unchanged.
func IdentityRotation() Rotation {
	return Rotation{q: quat.Number{Real: 1}}
}

// RotationFromQuaternion builds a rotation from (w, x, y, z). The input is
// normalised; a zero quaternion yields the identity.
func RotationFromQuaternion(w, x, y, z float64) Rotation {
	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	n := quat.Abs(q)
	if n < 1e-12 {
		return IdentityRotation()
	}
	return Rotation{q: quat.Scale(1/n, q)}
}

// RotationFromAxisAngle builds a rotation of angle radians about axis.
func RotationFromAxisAngle(axis r3.Vec, angle float64) Rotation {
	n := r3.Norm(axis)
	if n < 1e-12 || angle == 0 {
		return IdentityRotation()
	}
	a := r3.Scale(1/n, axis)
	s := math.Sin(angle / 2)
	return Rotation{q: quat.Number{Real: math.Cos(angle / 2), Imag: a.X * s, Jmag: a.Y * s, Kmag: a.Z * s}}
}

// RotationFromVector builds a rotation from a Rodrigues rotation vector
// (axis scaled by angle), the form returned by OpenCV solvers.
func RotationFromVector(v r3.Vec) Rotation {
	return RotationFromAxisAngle(v, r3.Norm(v))
}

// RotationFromMatrix converts a 3x3 rotation matrix into a rotation.
func RotationFromMatrix(m mat.Matrix) Rotation {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var w, x, y, z float64
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		w = 0.25 / s
		x = (m21 - m12) * s
		y = (m02 - m20) * s
		z = (m10 - m01) * s
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}
	return RotationFromQuaternion(w, x, y, z)
}

// Quaternion returns the rotation as (w, x, y, z) with w >= 0.
func (r Rotation) Quaternion() (w, x, y, z float64) {
	q := r.q
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q.Real, q.Imag, q.Jmag, q.Kmag
}

// Matrix returns the 3x3 rotation matrix.
func (r Rotation) Matrix() *mat.Dense {
	w, x, y, z := r.q.Real, r.q.Imag, r.q.Jmag, r.q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// Vector returns the Rodrigues rotation vector.
func (r Rotation) Vector() r3.Vec {
	w, x, y, z := r.Quaternion()
	s := math.Sqrt(x*x + y*y + z*z)
	if s < 1e-12 {
		return r3.Vec{}
	}
	angle := 2 * math.Atan2(s, w)
	return r3.Scale(angle/s, r3.Vec{X: x, Y: y, Z: z})
}

// Angle returns the rotation magnitude in radians, in [0, pi].
func (r Rotation) Angle() float64 {
	return r3.Norm(r.Vector())
}

// Rotate applies the rotation to v.
func (r Rotation) Rotate(v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(r.q, p), quat.Conj(r.q))
	return r3.Vec{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// Then returns the rotation that applies r first and other second.
func (r Rotation) Then(other Rotation) Rotation {
	return normalized(quat.Mul(other.q, r.q))
}

// Inverse returns the opposite rotation.
func (r Rotation) Inverse() Rotation {
	return Rotation{q: quat.Conj(r.q)}
}

// AngleTo returns the angle in radians of the relative rotation between r and other.
func (r Rotation) AngleTo(other Rotation) float64 {
	return r.Inverse().Then(other).Angle()
}

func normalized(q quat.Number) Rotation {
	n := quat.Abs(q)
	if n < 1e-12 {
		return IdentityRotation()
	}
	return Rotation{q: quat.Scale(1/n, q)}
}
