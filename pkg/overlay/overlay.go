// Package overlay draws detections onto frames for debug streams and recordings.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/vision"
)

var (
	tagColor    = color.RGBA{G: 255, A: 255}
	objectColor = color.RGBA{R: 255, G: 128, A: 255}
	grayColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// ink picks the drawing colour for m. Single channel Mats only take the
// first scalar component, so they are drawn in white.
func ink(m *gocv.Mat, c color.RGBA) color.RGBA {
	if m.Channels() == 1 {
		return grayColor
	}
	return c
}

// Label is the caption drawn above a detected object.
func Label(classID int, confidence float64) string {
	return fmt.Sprintf("%d (%d%%)", classID, int(math.Round(confidence*100)))
}

// Bounds returns the integer rectangle enclosing four corners.
func Bounds(corners [4]vision.Point) image.Rectangle {
	var r image.Rectangle
	for _, c := range corners {
		p := pt(c)
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

func pt(p vision.Point) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// DrawTags outlines each marker and writes its id at the centre.
func DrawTags(m *gocv.Mat, tags []vision.ImageObservation) {
	col := ink(m, tagColor)
	for _, tag := range tags {
		var cx, cy float64
		for i, c := range tag.Corners {
			gocv.Line(m, pt(c), pt(tag.Corners[(i+1)%4]), col, 2)
			cx += c.X / 4
			cy += c.Y / 4
		}
		gocv.PutText(m, fmt.Sprint(tag.TagID), pt(vision.Point{X: cx, Y: cy}),
			gocv.FontHersheySimplex, 0.8, col, 2)
	}
}

// DrawObjects boxes each detection and captions it with class and confidence.
func DrawObjects(m *gocv.Mat, objects []vision.ObjDetectObservation) {
	col := ink(m, objectColor)
	for _, o := range objects {
		r := Bounds(o.CornerPixels)
		gocv.Rectangle(m, r, col, 2)
		org := r.Min.Add(image.Pt(0, -6))
		if org.Y < 12 {
			org.Y = r.Min.Y + 16
		}
		gocv.PutText(m, Label(o.ClassID, o.Confidence), org, gocv.FontHersheySimplex, 0.5, col, 1)
	}
}

// Annotate returns a new frame with tags and objects drawn in. The channel
// count of frame is kept; gray frames get white outlines.
func Annotate(frame vision.Frame, tags []vision.ImageObservation, objects []vision.ObjDetectObservation) (vision.Frame, error) {
	m, err := cvframe.ToMat(frame)
	if err != nil {
		return vision.Frame{}, err
	}
	defer m.Close()
	DrawTags(&m, tags)
	DrawObjects(&m, objects)
	return cvframe.FromMat(m)
}

// Fiducial renders a debug image for the fiducial pipeline.
func Fiducial(frame vision.Frame, result vision.FiducialResult) ([]byte, error) {
	return render(frame, func(m *gocv.Mat) { DrawTags(m, result.Tags) })
}

// ObjDetect renders a debug image for the object detection pipeline.
func ObjDetect(frame vision.Frame, result vision.ObjDetectResult) ([]byte, error) {
	return render(frame, func(m *gocv.Mat) { DrawObjects(m, result.Observations) })
}

func render(frame vision.Frame, draw func(*gocv.Mat)) ([]byte, error) {
	m, err := cvframe.ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	bgr := cvframe.BGR(m)
	defer bgr.Close()
	draw(&bgr)
	return cvframe.EncodeJPEG(bgr)
}
