// Package pose solves marker and camera poses from image corners.
//
// Poses returned by the exported functions use the robot convention.
// Internally, solutions are computed in OpenCV camera axes.
package pose

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// ErrUncalibrated is returned when no usable intrinsics are loaded.
var ErrUncalibrated = errors.New("camera is not calibrated")

const undistortIterations = 20

// Camera is a pinhole model with OpenCV's radial-tangential distortion
// (k1, k2, p1, p2, k3, then the rational k4, k5, k6).
type Camera struct {
	fx, fy, cx, cy, skew float64
	k1, k2, p1, p2, k3   float64
	k4, k5, k6           float64
}

// NewCamera builds a camera model from a loaded calibration.
func NewCamera(cal config.Calibration) (Camera, error) {
	if !cal.Valid() {
		return Camera{}, ErrUncalibrated
	}
	k := cal.CameraMatrix
	c := Camera{
		fx:   k.At(0, 0),
		fy:   k.At(1, 1),
		cx:   k.At(0, 2),
		cy:   k.At(1, 2),
		skew: k.At(0, 1),
	}
	if c.fx == 0 || c.fy == 0 {
		return Camera{}, ErrUncalibrated
	}
	d := make([]float64, 8)
	copy(d, cal.Distortion)
	c.k1, c.k2, c.p1, c.p2, c.k3 = d[0], d[1], d[2], d[3], d[4]
	c.k4, c.k5, c.k6 = d[5], d[6], d[7]
	return c, nil
}

// distort applies the lens model to a normalized image point.
func (c Camera) distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + c.k1*r2 + c.k2*r4 + c.k3*r6) / (1 + c.k4*r2 + c.k5*r4 + c.k6*r6)
	xd := x*radial + 2*c.p1*x*y + c.p2*(r2+2*x*x)
	yd := y*radial + c.p1*(r2+2*y*y) + 2*c.p2*x*y
	return xd, yd
}

// Normalize removes intrinsics and distortion from a pixel, returning the
// ideal normalized coordinates (x/z, y/z).
func (c Camera) Normalize(p vision.Point) (float64, float64) {
	y0 := (p.Y - c.cy) / c.fy
	x0 := (p.X - c.cx - c.skew*y0) / c.fx
	x, y := x0, y0
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		icdist := (1 + ((c.k6*r2+c.k5)*r2+c.k4)*r2) / (1 + ((c.k3*r2+c.k2)*r2+c.k1)*r2)
		if icdist < 0 {
			return x0, y0
		}
		dx := 2*c.p1*x*y + c.p2*(r2+2*x*x)
		dy := c.p1*(r2+2*y*y) + 2*c.p2*x*y
		nx := (x0 - dx) * icdist
		ny := (y0 - dy) * icdist
		if math.Abs(nx-x) < 1e-12 && math.Abs(ny-y) < 1e-12 {
			return nx, ny
		}
		x, y = nx, ny
	}
	return x, y
}

// Undistort maps a distorted pixel to the pixel an ideal pinhole camera
// with the same intrinsics would have seen.
func (c Camera) Undistort(p vision.Point) vision.Point {
	x, y := c.Normalize(p)
	return c.pixel(x, y)
}

// Bearing converts a pixel to horizontal and vertical angles from the optical axis.
func (c Camera) Bearing(p vision.Point) vision.Bearing {
	x, y := c.Normalize(p)
	return vision.Bearing{X: math.Atan(x), Y: math.Atan(y)}
}

// Project maps a point in OpenCV camera axes to a distorted pixel.
func (c Camera) Project(v r3.Vec) vision.Point {
	z := v.Z
	if math.Abs(z) < 1e-9 {
		z = math.Copysign(1e-9, z)
	}
	xd, yd := c.distort(v.X/z, v.Y/z)
	return c.pixel(xd, yd)
}

func (c Camera) pixel(x, y float64) vision.Point {
	return vision.Point{X: c.fx*x + c.skew*y + c.cx, Y: c.fy*y + c.cy}
}
