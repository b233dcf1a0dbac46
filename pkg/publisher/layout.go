package publisher

import (
	"fmt"

	"github.com/wachiwi/tagvision/pkg/geometry"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const (
	poseLen      = 1 + 7 // error, tx, ty, tz, qw, qx, qy, qz
	tagAngleLen  = 1 + 8 + 1
	objDetectLen = 2 + 8
)

func appendPose(data []float64, err float64, p geometry.Pose3d) []float64 {
	c := p.Components()
	data = append(data, err)
	return append(data, c[:]...)
}

func readPose(data []float64) (float64, geometry.Pose3d) {
	var c [7]float64
	copy(c[:], data[1:poseLen])
	return data[0], geometry.PoseFromComponents(c)
}

func appendBearings(data []float64, corners [4]vision.Bearing) []float64 {
	for _, c := range corners {
		data = append(data, c.X, c.Y)
	}
	return data
}

func readBearings(data []float64) [4]vision.Bearing {
	var out [4]vision.Bearing
	for i := range out {
		out[i] = vision.Bearing{X: data[2*i], Y: data[2*i+1]}
	}
	return out
}

// EncodeObservations builds the "observations" array: the hypothesis count
// (0, 1 or 2), each hypothesis as error plus pose, then one block per tag
// angle observation of tag id, eight corner angles and distance.
func EncodeObservations(camera *vision.CameraPoseObservation, angles []vision.TagAngleObservation) []float64 {
	data := []float64{0}
	if camera != nil {
		data[0] = float64(camera.Count())
		data = appendPose(data, camera.Error0, camera.Pose0)
		if camera.Ambiguous {
			data = appendPose(data, camera.Error1, camera.Pose1)
		}
	}
	for _, a := range angles {
		data = append(data, float64(a.TagID))
		data = appendBearings(data, a.Corners)
		data = append(data, a.Distance)
	}
	return data
}

// DecodeObservations parses an "observations" array. The contributing tag
// ids are not part of the layout and stay empty.
func DecodeObservations(data []float64) (*vision.CameraPoseObservation, []vision.TagAngleObservation, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("observations: empty array")
	}
	count := int(data[0])
	if count < 0 || count > 2 || float64(count) != data[0] {
		return nil, nil, fmt.Errorf("observations: invalid hypothesis count %v", data[0])
	}
	rest := data[1:]
	if len(rest) < count*poseLen {
		return nil, nil, fmt.Errorf("observations: %d hypotheses need %d values, have %d", count, count*poseLen, len(rest))
	}

	var camera *vision.CameraPoseObservation
	if count > 0 {
		camera = &vision.CameraPoseObservation{}
		camera.Error0, camera.Pose0 = readPose(rest)
		if count == 2 {
			camera.Error1, camera.Pose1 = readPose(rest[poseLen:])
			camera.Ambiguous = true
		}
		rest = rest[count*poseLen:]
	}

	if len(rest)%tagAngleLen != 0 {
		return nil, nil, fmt.Errorf("observations: %d trailing values do not form tag angle blocks", len(rest))
	}
	var angles []vision.TagAngleObservation
	for ; len(rest) > 0; rest = rest[tagAngleLen:] {
		angles = append(angles, vision.TagAngleObservation{
			TagID:    int(rest[0]),
			Corners:  readBearings(rest[1:9]),
			Distance: rest[9],
		})
	}
	return camera, angles, nil
}

// EncodeDemo builds the "demo_observations" array: both hypotheses of the
// demo tag (16 values), or nothing when it was not seen.
func EncodeDemo(demo *vision.FiducialPoseObservation) []float64 {
	if demo == nil {
		return []float64{}
	}
	data := make([]float64, 0, 2*poseLen)
	data = appendPose(data, demo.Error0, demo.Pose0)
	return appendPose(data, demo.Error1, demo.Pose1)
}

// DecodeDemo parses a "demo_observations" array.
func DecodeDemo(data []float64) (*vision.FiducialPoseObservation, error) {
	switch len(data) {
	case 0:
		return nil, nil
	case 2 * poseLen:
	default:
		return nil, fmt.Errorf("demo_observations: want 0 or %d values, have %d", 2*poseLen, len(data))
	}
	demo := &vision.FiducialPoseObservation{TagID: vision.DemoTagID}
	demo.Error0, demo.Pose0 = readPose(data)
	demo.Error1, demo.Pose1 = readPose(data[poseLen:])
	demo.Ambiguous = true
	return demo, nil
}

// EncodeObjDetect builds the "objdetect_observations" array: class id,
// confidence and eight corner angles per detection.
func EncodeObjDetect(obs []vision.ObjDetectObservation) []float64 {
	data := make([]float64, 0, len(obs)*objDetectLen)
	for _, o := range obs {
		data = append(data, float64(o.ClassID), o.Confidence)
		data = appendBearings(data, o.Corners)
	}
	return data
}

// DecodeObjDetect parses an "objdetect_observations" array.
func DecodeObjDetect(data []float64) ([]vision.ObjDetectObservation, error) {
	if len(data)%objDetectLen != 0 {
		return nil, fmt.Errorf("objdetect_observations: %d values do not form detection blocks", len(data))
	}
	var out []vision.ObjDetectObservation
	for ; len(data) > 0; data = data[objDetectLen:] {
		out = append(out, vision.ObjDetectObservation{
			ClassID:    int(data[0]),
			Confidence: data[1],
			Corners:    readBearings(data[2:]),
		})
	}
	return out, nil
}
