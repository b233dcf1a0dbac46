package publisher

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wachiwi/tagvision/pkg/bus"
	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

var approx = cmpopts.EquateApprox(0, 1e-12)

func pose(x, y, z, yaw float64) geometry.Pose3d {
	return geometry.NewPose(r3.Vec{X: x, Y: y, Z: z}, geometry.RotationFromAxisAngle(r3.Vec{Z: 1}, yaw))
}

func bearings(base float64) [4]vision.Bearing {
	return [4]vision.Bearing{{X: base, Y: -base}, {X: base + 0.01, Y: -base}, {X: base + 0.01, Y: -base - 0.01}, {X: base, Y: -base - 0.01}}
}

func TestObservationsRoundTrip(t *testing.T) {
	camera := &vision.CameraPoseObservation{
		TagIDs: []int{1, 2},
		HypothesisPair: vision.HypothesisPair{
			Pose0: pose(1, 2, 0.5, 0.3), Error0: 0.12,
			Pose1: pose(1.1, 1.9, 0.4, -0.2), Error1: 0.4,
			Ambiguous: true,
		},
	}
	angles := []vision.TagAngleObservation{
		{TagID: 1, Corners: bearings(0.1), Distance: 2.5},
		{TagID: 2, Corners: bearings(-0.2), Distance: 3.25},
	}

	data := EncodeObservations(camera, angles)
	require.Len(t, data, 1+2*poseLen+2*tagAngleLen)
	assert.Equal(t, 2.0, data[0])
	assert.Equal(t, 0.12, data[1])
	assert.Equal(t, 0.4, data[1+poseLen])
	assert.Equal(t, 1.0, data[1+2*poseLen], "tag blocks follow the hypotheses")

	gotCamera, gotAngles, err := DecodeObservations(data)
	require.NoError(t, err)
	require.NotNil(t, gotCamera)
	assert.Equal(t, 2, gotCamera.Count())
	assert.Equal(t, camera.Error0, gotCamera.Error0)
	assert.Equal(t, camera.Error1, gotCamera.Error1)
	if diff := cmp.Diff(camera.Pose0.Components(), gotCamera.Pose0.Components(), approx); diff != "" {
		t.Errorf("pose 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(camera.Pose1.Components(), gotCamera.Pose1.Components(), approx); diff != "" {
		t.Errorf("pose 1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(angles, gotAngles); diff != "" {
		t.Errorf("tag angles mismatch (-want +got):\n%s", diff)
	}
}

func TestObservationsSingleHypothesis(t *testing.T) {
	camera := &vision.CameraPoseObservation{HypothesisPair: vision.HypothesisPair{Pose0: pose(3, 1, 0.2, 1), Error0: 0.05}}

	data := EncodeObservations(camera, nil)
	assert.Len(t, data, 1+poseLen)
	assert.Equal(t, 1.0, data[0])

	got, angles, err := DecodeObservations(data)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count())
	assert.Empty(t, angles)
}

func TestObservationsWithoutCameraPose(t *testing.T) {
	angles := []vision.TagAngleObservation{{TagID: 7, Corners: bearings(0), Distance: 1}}
	data := EncodeObservations(nil, angles)
	assert.Equal(t, 0.0, data[0])
	assert.Len(t, data, 1+tagAngleLen)

	camera, got, err := DecodeObservations(data)
	require.NoError(t, err)
	assert.Nil(t, camera)
	assert.Equal(t, angles, got)
}

func TestDecodeObservationsErrors(t *testing.T) {
	tests := map[string][]float64{
		"empty":          {},
		"bad count":      {3},
		"fractional":     {1.5},
		"short pose":     {1, 0.1, 0, 0},
		"partial blocks": {0, 5, 1, 2},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeObservations(data)
			assert.Error(t, err)
		})
	}
}

func TestDemo(t *testing.T) {
	assert.Empty(t, EncodeDemo(nil))
	assert.NotNil(t, EncodeDemo(nil), "an unseen demo tag publishes an empty array")

	demo := &vision.FiducialPoseObservation{
		TagID: vision.DemoTagID,
		HypothesisPair: vision.HypothesisPair{
			Pose0: pose(0, 0, 1, 0), Error0: 0.1,
			Pose1: pose(0, 0.1, 1, 0.1), Error1: 0.2,
			Ambiguous: true,
		},
	}
	data := EncodeDemo(demo)
	assert.Len(t, data, 16)

	got, err := DecodeDemo(data)
	require.NoError(t, err)
	assert.Equal(t, vision.DemoTagID, got.TagID)
	assert.Equal(t, 0.2, got.Error1)

	none, err := DecodeDemo(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = DecodeDemo(make([]float64, 8))
	assert.Error(t, err)
}

func TestObjDetect(t *testing.T) {
	obs := []vision.ObjDetectObservation{
		{ClassID: 0, Confidence: 0.9, Corners: bearings(0.3), CornerPixels: [4]vision.Point{{X: 1, Y: 2}}},
		{ClassID: 2, Confidence: 0.5, Corners: bearings(-0.1)},
	}
	data := EncodeObjDetect(obs)
	require.Len(t, data, 2*objDetectLen)
	assert.Equal(t, []float64{0, 0.9, 0.3, -0.3}, data[:4])

	got, err := DecodeObjDetect(data)
	require.NoError(t, err)
	want := []vision.ObjDetectObservation{
		{ClassID: 0, Confidence: 0.9, Corners: bearings(0.3)},
		{ClassID: 2, Confidence: 0.5, Corners: bearings(-0.1)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("detections mismatch, pixel corners must not be published (-want +got):\n%s", diff)
	}
}

func TestPublisherWritesOutputTable(t *testing.T) {
	mem := bus.NewMemoryTransport()
	client := bus.NewClient(mem)
	require.NoError(t, client.Connect("robot1"))
	p := New(client, "robot1")

	ts := time.UnixMicro(1_700_000_000_123_456).Add(789 * time.Nanosecond)
	res := vision.FiducialResult{
		Timestamp: ts,
		TagAngles: []vision.TagAngleObservation{{TagID: 5, Corners: bearings(0.05), Distance: 2}},
	}
	require.NoError(t, p.PublishFiducial(res))
	require.NoError(t, p.PublishObjDetect(vision.ObjDetectResult{Timestamp: ts}))
	require.NoError(t, p.PublishFPS("apriltags", ts, 30))

	payload, ok := mem.Retained("robot1/output/observations")
	require.True(t, ok)
	stamp, err := bus.Timestamp(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123_456), stamp, "timestamps are floored to microseconds")

	var data []float64
	require.NoError(t, bus.Decode(payload, &data))
	assert.Equal(t, EncodeObservations(nil, res.TagAngles), data)

	payload, ok = mem.Retained("robot1/output/demo_observations")
	require.True(t, ok)
	require.NoError(t, bus.Decode(payload, &data))
	assert.Empty(t, data)

	table := client.Table("/robot1/output")
	assert.Equal(t, int64(30), table.Int("fps_apriltags", 0))
	assert.NotNil(t, table.Floats(KeyObjDetectObservations))
}
