package pipeline

import (
	"log/slog"

	"github.com/wachiwi/tagvision/pkg/pose"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// TagDetector finds fiducial markers in a frame.
type TagDetector interface {
	Detect(frame vision.Frame) []vision.ImageObservation
}

// ObjectDetector runs a detection model and returns boxes in frame pixels.
type ObjectDetector interface {
	Detect(frame vision.Frame) ([]vision.Detection, error)
}

// FiducialProcessor detects tags and runs the pose solves.
type FiducialProcessor struct {
	Detector TagDetector
	Camera   pose.Camera
}

func (p FiducialProcessor) Process(j Job) vision.FiducialResult {
	tags := p.Detector.Detect(j.Frame)
	camera, angles, demo := pose.Estimate(p.Camera, tags, j.Config.TagLayout, j.Config.FiducialSize)
	return vision.FiducialResult{
		Timestamp:  j.Timestamp,
		Tags:       tags,
		CameraPose: camera,
		TagAngles:  angles,
		Demo:       demo,
	}
}

// ObjDetectProcessor detects objects and converts their corners to bearings.
type ObjDetectProcessor struct {
	Detector ObjectDetector
	Camera   pose.Camera
}

func (p ObjDetectProcessor) Process(j Job) vision.ObjDetectResult {
	res := vision.ObjDetectResult{Timestamp: j.Timestamp}
	dets, err := p.Detector.Detect(j.Frame)
	if err != nil {
		slog.Warn("object detection failed", "error", err)
		return res
	}
	for _, d := range dets {
		obs := vision.ObjDetectObservation{
			ClassID:      d.ClassID,
			Confidence:   d.Confidence,
			CornerPixels: d.Box.Corners(),
		}
		for i, c := range obs.CornerPixels {
			obs.Corners[i] = p.Camera.Bearing(c)
		}
		res.Observations = append(res.Observations, obs)
	}
	return res
}
