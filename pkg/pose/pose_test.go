package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const tagSize = 0.1651

func testCamera(t *testing.T) Camera {
	t.Helper()
	cam, err := NewCamera(config.Calibration{
		CameraMatrix: mat.NewDense(3, 3, []float64{900, 0, 640, 0, 905, 360, 0, 0, 1}),
		Distortion:   []float64{0.05, -0.01, 0.001, -0.0005, 0.002},
	})
	require.NoError(t, err)
	return cam
}

func yaw(a float64) geometry.Rotation {
	return geometry.RotationFromAxisAngle(r3.Vec{Z: 1}, a)
}

func assertPose(t *testing.T, want, got geometry.Pose3d, tol float64) {
	t.Helper()
	assert.InDelta(t, 0, r3.Norm(r3.Sub(want.Translation, got.Translation)), tol, "translation %v != %v", want.Translation, got.Translation)
	assert.InDelta(t, 0, want.Rotation.AngleTo(got.Rotation), tol, "rotation")
}

// renderTag projects a field tag into the image of a camera placed at
// fieldToCam.
func renderTag(cam Camera, id int, fieldToTag, fieldToCam geometry.Pose3d) vision.ImageObservation {
	cv := geometry.RobotToOpenCV(fieldToCam.Inverse())
	obs := vision.ImageObservation{TagID: id}
	for i, c := range fieldCorners(fieldToTag, tagSize) {
		obs.Corners[i] = cam.Project(cv.Apply(c))
	}
	return obs
}

func TestUncalibrated(t *testing.T) {
	_, err := NewCamera(config.Calibration{})
	assert.ErrorIs(t, err, ErrUncalibrated)
}

func TestNormalizeInvertsProject(t *testing.T) {
	cam := testCamera(t)
	for _, v := range []r3.Vec{{X: 0.3, Y: -0.2, Z: 1}, {X: -0.5, Y: 0.35, Z: 2}, {Z: 1}} {
		x, y := cam.Normalize(cam.Project(v))
		assert.InDelta(t, v.X/v.Z, x, 1e-9)
		assert.InDelta(t, v.Y/v.Z, y, 1e-9)
	}
}

func TestSolveSquareRecoversPose(t *testing.T) {
	cam := testCamera(t)
	truth := geometry.NewPose(
		r3.Vec{X: 0.2, Y: -0.1, Z: 2.0},
		geometry.RotationFromAxisAngle(r3.Vec{X: 1}, math.Pi-0.35).Then(geometry.RotationFromAxisAngle(r3.Vec{Y: 1}, 0.25)),
	)
	var corners [4]vision.Point
	for i, m := range squareModel(tagSize) {
		corners[i] = cam.Project(truth.Apply(m))
	}

	sols, ok := solveSquare(cam, corners, tagSize)
	require.True(t, ok)
	require.Len(t, sols, 2)
	assertPose(t, truth, sols[0].pose, 1e-6)
	assert.Less(t, sols[0].error, 1e-6)
	assert.LessOrEqual(t, sols[0].error, sols[1].error)

	obs, ok := SolveTag(cam, vision.ImageObservation{TagID: 5, Corners: corners}, tagSize)
	require.True(t, ok)
	assert.Equal(t, 5, obs.TagID)
	assert.Equal(t, 2, obs.Count())
	assert.LessOrEqual(t, obs.Error0, obs.Error1)
	assertPose(t, geometry.OpenCVPoseToRobot(truth), obs.Pose0, 1e-6)
}

func TestSolveTagDegenerate(t *testing.T) {
	cam, err := NewCamera(config.Calibration{
		CameraMatrix: mat.NewDense(3, 3, []float64{900, 0, 640, 0, 900, 360, 0, 0, 1}),
		Distortion:   []float64{0, 0, 0, 0, 0},
	})
	require.NoError(t, err)
	collinear := vision.ImageObservation{Corners: [4]vision.Point{{X: 100, Y: 100}, {X: 200, Y: 200}, {X: 300, Y: 300}, {X: 400, Y: 400}}}
	_, ok := SolveTag(cam, collinear, tagSize)
	assert.False(t, ok)

	square := vision.ImageObservation{Corners: [4]vision.Point{{X: 600, Y: 300}, {X: 700, Y: 300}, {X: 700, Y: 400}, {X: 600, Y: 400}}}
	_, ok = SolveTag(cam, square, 0)
	assert.False(t, ok)
}

func TestTagAngles(t *testing.T) {
	cam := testCamera(t)
	fieldToCam := geometry.NewPose(r3.Vec{Z: 0.5}, yaw(0.05))
	fieldToTag := geometry.NewPose(r3.Vec{X: 3, Y: 0.4, Z: 0.7}, yaw(math.Pi+0.3))
	obs := renderTag(cam, 7, fieldToTag, fieldToCam)

	angles, ok := TagAngles(cam, obs, tagSize)
	require.True(t, ok)
	assert.Equal(t, 7, angles.TagID)
	camToTag := fieldToCam.Inverse().TransformBy(fieldToTag)
	assert.InDelta(t, camToTag.Norm(), angles.Distance, 1e-6)

	cv := geometry.RobotToOpenCV(fieldToCam.Inverse())
	corner := cv.Apply(fieldCorners(fieldToTag, tagSize)[2])
	assert.InDelta(t, math.Atan(corner.X/corner.Z), angles.Corners[2].X, 1e-9)
	assert.InDelta(t, math.Atan(corner.Y/corner.Z), angles.Corners[2].Y, 1e-9)
}

func testLayout() *config.TagLayout {
	return config.NewTagLayout(map[int]geometry.Pose3d{
		1:                geometry.NewPose(r3.Vec{X: 3, Y: 0, Z: 0.6}, yaw(math.Pi+0.1)),
		2:                geometry.NewPose(r3.Vec{X: 4.5, Y: 1.2, Z: 1.0}, yaw(math.Pi-0.3)),
		3:                geometry.NewPose(r3.Vec{X: 4.5, Y: -1.3, Z: 0.3}, yaw(math.Pi+0.4)),
		vision.DemoTagID: geometry.NewPose(r3.Vec{X: 3.5, Y: 0.5, Z: 0.5}, yaw(math.Pi)),
	})
}

func TestSolveCameraMultiTagCollapses(t *testing.T) {
	cam := testCamera(t)
	layout := testLayout()
	fieldToCam := geometry.NewPose(r3.Vec{X: 0.2, Y: 0.1, Z: 0.5}, yaw(0.05))

	var tags []vision.ImageObservation
	for _, id := range []int{1, 2, 3, vision.DemoTagID} {
		p, _ := layout.Pose(id)
		tags = append(tags, renderTag(cam, id, p, fieldToCam))
	}

	obs, ok := SolveCamera(cam, tags, layout, tagSize)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, obs.TagIDs)
	assert.False(t, obs.Ambiguous, "three tags should leave one hypothesis")
	assert.Equal(t, 1, obs.Count())
	assertPose(t, fieldToCam, obs.Pose0, 1e-5)
	assert.Less(t, obs.Error0, 1e-4)
}

func TestSolveCameraSingleTagKeepsBoth(t *testing.T) {
	cam := testCamera(t)
	layout := testLayout()
	fieldToCam := geometry.NewPose(r3.Vec{X: 0.2, Y: 0.1, Z: 0.5}, yaw(0.05))
	p, _ := layout.Pose(3)
	tags := []vision.ImageObservation{renderTag(cam, 3, p, fieldToCam)}

	obs, ok := SolveCamera(cam, tags, layout, tagSize)
	require.True(t, ok)
	assert.Equal(t, []int{3}, obs.TagIDs)
	require.True(t, obs.Ambiguous)
	assert.LessOrEqual(t, obs.Error0, obs.Error1)
	assertPose(t, fieldToCam, obs.Pose0, 1e-5)
	assert.Greater(t, r3.Norm(r3.Sub(obs.Pose0.Translation, obs.Pose1.Translation)), 1e-3)
}

func TestSolveCameraNoUsableTags(t *testing.T) {
	cam := testCamera(t)
	layout := testLayout()
	fieldToCam := geometry.NewPose(r3.Vec{Z: 0.5}, yaw(0))
	p, _ := layout.Pose(vision.DemoTagID)

	_, ok := SolveCamera(cam, []vision.ImageObservation{renderTag(cam, vision.DemoTagID, p, fieldToCam)}, layout, tagSize)
	assert.False(t, ok, "demo tag alone")

	_, ok = SolveCamera(cam, nil, layout, tagSize)
	assert.False(t, ok, "no tags")

	_, ok = SolveCamera(cam, []vision.ImageObservation{renderTag(cam, 9, p, fieldToCam)}, layout, tagSize)
	assert.False(t, ok, "tag missing from layout")

	_, ok = SolveCamera(cam, []vision.ImageObservation{renderTag(cam, 1, p, fieldToCam)}, nil, tagSize)
	assert.False(t, ok, "no layout")
}

func TestEstimate(t *testing.T) {
	cam := testCamera(t)
	layout := testLayout()
	fieldToCam := geometry.NewPose(r3.Vec{Z: 0.5}, yaw(0.05))
	var tags []vision.ImageObservation
	for _, id := range []int{2, vision.DemoTagID, 1} {
		p, _ := layout.Pose(id)
		tags = append(tags, renderTag(cam, id, p, fieldToCam))
	}

	camera, angles, demo := Estimate(cam, tags, layout, tagSize)
	require.NotNil(t, camera)
	require.NotNil(t, demo)
	assert.Equal(t, vision.DemoTagID, demo.TagID)
	assert.Equal(t, 2, demo.Count())
	require.Len(t, angles, 2)
	assert.Equal(t, 2, angles[0].TagID)
	assert.Equal(t, 1, angles[1].TagID)
}
