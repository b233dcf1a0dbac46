package vision

import (
	"math"
	"sort"
)

// Letterbox describes an aspect-preserving resize of a source image into a
// square canvas of Size pixels, centred with padding on the short axis.
type Letterbox struct {
	Size    int
	Scale   float64
	ScaledW int
	ScaledH int
	PadX    int
	PadY    int
}

// NewLetterbox computes the letterbox geometry for a width x height source.
func NewLetterbox(width, height, size int) Letterbox {
	scale := math.Min(float64(size)/float64(width), float64(size)/float64(height))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return Letterbox{
		Size:    size,
		Scale:   scale,
		ScaledW: w,
		ScaledH: h,
		PadX:    (size - w) / 2,
		PadY:    (size - h) / 2,
	}
}

// ToSource maps a point on the square canvas back to source pixels.
func (l Letterbox) ToSource(p Point) Point {
	return Point{
		X: (p.X - float64(l.PadX)) / l.Scale,
		Y: (p.Y - float64(l.PadY)) / l.Scale,
	}
}

// Box is an axis-aligned rectangle in pixels.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// BoxFromCenter builds a box from its centre and size.
func BoxFromCenter(cx, cy, w, h float64) Box {
	return Box{X0: cx - w/2, Y0: cy - h/2, X1: cx + w/2, Y1: cy + h/2}
}

// Area returns the box area, zero for inverted boxes.
func (b Box) Area() float64 {
	return math.Max(0, b.X1-b.X0) * math.Max(0, b.Y1-b.Y0)
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	inter := Box{
		X0: math.Max(b.X0, o.X0),
		Y0: math.Max(b.Y0, o.Y0),
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
	}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Corners returns top-left, top-right, bottom-left, bottom-right. This is
// the order object corners are published in.
func (b Box) Corners() [4]Point {
	return [4]Point{{b.X0, b.Y0}, {b.X1, b.Y0}, {b.X0, b.Y1}, {b.X1, b.Y1}}
}

// Detection is a raw model candidate before suppression.
type Detection struct {
	Box        Box
	ClassID    int
	Confidence float64
}

// SelectClass returns the index and raw value of the highest class score.
func SelectClass(scores []float64) (int, float64) {
	best, bestScore := -1, math.Inf(-1)
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// Suppress drops candidates below minConfidence and then runs greedy per-class
// non-maximum suppression. The result is ordered by descending confidence.
func Suppress(dets []Detection, minConfidence, iouThreshold float64) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })

	var out []Detection
	for _, d := range kept {
		overlaps := false
		for _, o := range out {
			if o.ClassID == d.ClassID && o.Box.IoU(d.Box) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, d)
		}
	}
	return out
}
