package objdetect

import (
	"fmt"

	"github.com/wachiwi/tagvision/pkg/vision"
)

// decode reads a YOLO-style output tensor laid out as attrs rows of anchors
// columns. The first four rows are the box centre and size on the model
// canvas, the rest are per-class scores.
func decode(out []float32, attrs, anchors int) ([]vision.Detection, error) {
	if attrs <= 4 {
		return nil, fmt.Errorf("model output has %d attributes, need at least 5", attrs)
	}
	if len(out) < attrs*anchors {
		return nil, fmt.Errorf("model output too short: %d < %d", len(out), attrs*anchors)
	}
	at := func(row, col int) float64 { return float64(out[row*anchors+col]) }

	scores := make([]float64, attrs-4)
	dets := make([]vision.Detection, 0, anchors)
	for i := range anchors {
		for c := range scores {
			scores[c] = at(4+c, i)
		}
		class, conf := vision.SelectClass(scores)
		dets = append(dets, vision.Detection{
			Box:        vision.BoxFromCenter(at(0, i), at(1, i), at(2, i), at(3, i)),
			ClassID:    class,
			Confidence: conf,
		})
	}
	return dets, nil
}

// toSource maps canvas boxes back into frame pixels.
func toSource(dets []vision.Detection, lb vision.Letterbox) []vision.Detection {
	out := make([]vision.Detection, len(dets))
	for i, d := range dets {
		p0 := lb.ToSource(vision.Point{X: d.Box.X0, Y: d.Box.Y0})
		p1 := lb.ToSource(vision.Point{X: d.Box.X1, Y: d.Box.Y1})
		d.Box = vision.Box{X0: p0.X, Y0: p0.Y, X1: p1.X, Y1: p1.Y}
		out[i] = d
	}
	return out
}
