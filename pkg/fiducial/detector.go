// Package fiducial finds AprilTag 36h11 markers with OpenCV's ArUco module.
package fiducial

import (
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Family is the marker dictionary searched for.
const Family = gocv.ArucoDictAprilTag_36h11

// Detector is not safe for concurrent use. Each pipeline owns one.
type Detector struct {
	detector gocv.ArucoDetector
}

// NewDetector loads the dictionary. Close releases it.
func NewDetector() *Detector {
	dict := gocv.GetPredefinedDictionary(Family)
	params := gocv.NewArucoDetectorParameters()
	return &Detector{detector: gocv.NewArucoDetectorWithParams(dict, params)}
}

func (d *Detector) Close() {
	d.detector.Close()
}

// Detect returns one observation per decoded marker with corners in marker
// order, top-left first and clockwise.
func (d *Detector) Detect(frame vision.Frame) []vision.ImageObservation {
	m, err := cvframe.ToMat(frame)
	if err != nil {
		slog.Warn("cannot run tag detection", "error", err)
		return nil
	}
	defer m.Close()
	gray := cvframe.Gray(m)
	defer gray.Close()

	corners, ids, _ := d.detector.DetectMarkers(gray)
	return observations(corners, ids)
}

func observations(corners [][]gocv.Point2f, ids []int) []vision.ImageObservation {
	out := make([]vision.ImageObservation, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		obs := vision.ImageObservation{TagID: id}
		for j, p := range corners[i] {
			obs.Corners[j] = vision.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		out = append(out, obs)
	}
	return out
}
