package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/tagvision/pkg/bus"
)

func TestParseLocalDefaults(t *testing.T) {
	cfg, err := ParseLocal([]byte(`{
		"device_id": "northstar_0",
		"server_ip": "10.63.28.2",
		"capture_impl": "",
		"obj_detect_model": "model.onnx",
		"apriltags_enable": true,
		"video_folder": "/videos/"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "northstar_0", cfg.DeviceID)
	assert.Equal(t, 8000, cfg.AprilTagsStreamPort)
	assert.Equal(t, 8001, cfg.ObjDetectStreamPort)
	assert.Equal(t, 1883, cfg.ServerPort)
	assert.Equal(t, -1.0, cfg.ObjDetectMaxFPS)
	assert.True(t, cfg.AprilTagsEnable)
	assert.True(t, cfg.ObjDetectEnable)
	assert.Equal(t, "libx264", cfg.VideoCodec)
}

func TestParseLocalInvalid(t *testing.T) {
	tests := map[string]string{
		"missing device": `{"server_ip": "x", "objdetect_enable": false}`,
		"bad port":       `{"device_id": "d", "server_ip": "x", "objdetect_enable": false, "apriltags_stream_port": 70000}`,
		"model missing":  `{"device_id": "d", "server_ip": "x"}`,
		"zero fps":       `{"device_id": "d", "server_ip": "x", "objdetect_enable": false, "obj_detect_max_fps": 0}`,
		"malformed":      `{"device_id": `,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLocal([]byte(doc))
			assert.Error(t, err)
		})
	}
}

const calibrationJSON = `{
  "calibration_time": "today",
  "camera_matrix": {"type_id": "opencv-matrix", "rows": 3, "cols": 3, "dt": "d",
    "data": [900.0, 0.0, 640.0, 0.0, 905.0, 360.0, 0.0, 0.0, 1.0]},
  "distortion_coefficients": {"type_id": "opencv-matrix", "rows": 1, "cols": 5, "dt": "d",
    "data": [0.1, -0.2, 0.001, 0.002, 0.05]}
}`

const calibrationYAML = `%YAML:1.0
---
calibration_time: "today"
camera_matrix: !!opencv-matrix
   rows: 3
   cols: 3
   dt: d
   data: [ 900., 0., 640., 0., 905., 360., 0., 0., 1. ]
distortion_coefficients: !!opencv-matrix
   rows: 1
   cols: 5
   dt: d
   data: [ 0.1, -0.2, 0.001, 0.002, 0.05 ]
`

func TestLoadCalibration(t *testing.T) {
	dir := t.TempDir()
	for name, doc := range map[string]string{"cal.json": calibrationJSON, "cal.yml": calibrationYAML} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			cal, err := LoadCalibration(path)
			require.NoError(t, err)
			require.True(t, cal.Valid())
			assert.Equal(t, 905.0, cal.CameraMatrix.At(1, 1))
			assert.Equal(t, 360.0, cal.CameraMatrix.At(1, 2))
			assert.Equal(t, []float64{0.1, -0.2, 0.001, 0.002, 0.05}, cal.Distortion)
		})
	}
}

func TestCalibrationMissingMatrix(t *testing.T) {
	cal, err := ParseCalibrationJSON([]byte(`{"camera_matrix": {"rows": 3, "cols": 3, "data": [1,0,0,0,1,0,0,0,1]}}`))
	require.NoError(t, err)
	assert.False(t, cal.Valid())

	_, err = LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

const layoutJSON = `{
  "tags": [
    {"ID": 1, "pose": {"translation": {"x": 1.0, "y": 2.0, "z": 0.5},
      "rotation": {"quaternion": {"W": 0.0, "X": 0.0, "Y": 0.0, "Z": 1.0}}}},
    {"ID": 7, "pose": {"translation": {"x": 3.0, "y": 0.0, "z": 0.5},
      "rotation": {"quaternion": {"W": 1.0, "X": 0.0, "Y": 0.0, "Z": 0.0}}}}
  ],
  "field": {"length": 16.54, "width": 8.21}
}`

func TestRemoteSourceSnapshot(t *testing.T) {
	tr := bus.NewMemoryTransport()
	client := bus.NewClient(tr)
	require.NoError(t, client.Connect("dev"))
	table := client.Table("/dev/config")
	require.NoError(t, table.Set("camera_id", "0"))
	require.NoError(t, table.Set("camera_resolution_width", 1280))
	require.NoError(t, table.Set("camera_resolution_height", 720))
	require.NoError(t, table.Set("camera_gain", 1.5))
	require.NoError(t, table.Set("fiducial_size_m", 0.1651))
	require.NoError(t, table.Set("tag_layout", layoutJSON))
	require.NoError(t, table.Set("is_recording", true))
	require.NoError(t, table.Set("timestamp", 1700000000))

	src := NewRemoteSource(client, "dev")
	snap := src.Snapshot()
	assert.Equal(t, "0", snap.CameraID)
	assert.Equal(t, 1280, snap.Width)
	assert.Equal(t, 720, snap.Height)
	assert.Equal(t, 1.5, snap.Gain)
	assert.True(t, snap.IsRecording)
	assert.Equal(t, int64(1700000000), snap.Timestamp)
	require.NotNil(t, snap.TagLayout)
	assert.Equal(t, []int{1, 7}, snap.TagLayout.IDs())
	pose, ok := snap.TagLayout.Pose(1)
	require.True(t, ok)
	assert.Equal(t, 2.0, pose.Translation.Y)
	assert.Same(t, snap.TagLayout, src.Snapshot().TagLayout)

	require.NoError(t, table.Set("tag_layout", "{not json"))
	assert.Nil(t, src.Snapshot().TagLayout)
}
