// Package vision defines the frames and observation records passed between
// capture, the pipelines, the recorder and the publisher.
package vision

import (
	"time"

	"github.com/wachiwi/tagvision/pkg/geometry"
)

// DemoTagID is reserved for demonstrations. It never contributes to the
// camera pose and is solved on its own.
const DemoTagID = 42

// Point is an image-plane position in pixels.
type Point struct {
	X, Y float64
}

// Bearing is a horizontal and vertical angle in radians from the optical axis.
type Bearing struct {
	X, Y float64
}

// Frame is a row-major 8-bit image, either gray (1 channel) or BGR (3 channels).
type Frame struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) Frame {
	return Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]byte, width*height*channels),
	}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := f
	out.Data = make([]byte, len(f.Data))
	copy(out.Data, f.Data)
	return out
}

// PixelFormat is the ffmpeg raw pixel format name matching the channel count.
func (f Frame) PixelFormat() string {
	if f.Channels == 1 {
		return "gray"
	}
	return "bgr24"
}

// ImageObservation is one detected marker footprint. Corners run
// top-left, top-right, bottom-right, bottom-left as seen on the marker.
type ImageObservation struct {
	TagID   int
	Corners [4]Point
}

// HypothesisPair holds up to two pose solutions. Pose0 always has the lower
// error; Pose1 is only meaningful when Ambiguous is set.
type HypothesisPair struct {
	Pose0     geometry.Pose3d
	Error0    float64
	Pose1     geometry.Pose3d
	Error1    float64
	Ambiguous bool
}

// Count returns the number of hypotheses present.
func (h HypothesisPair) Count() int {
	if h.Ambiguous {
		return 2
	}
	return 1
}

// Best returns the pose with the lower error.
func (h HypothesisPair) Best() geometry.Pose3d {
	return h.Pose0
}

// FiducialPoseObservation is a single tag solved in the camera frame.
type FiducialPoseObservation struct {
	TagID int
	HypothesisPair
}

// CameraPoseObservation is the camera pose in field coordinates fused from
// every tag in TagIDs.
type CameraPoseObservation struct {
	TagIDs []int
	HypothesisPair
}

// TagAngleObservation carries the corner bearings of one tag and its distance in meters.
type TagAngleObservation struct {
	TagID    int
	Corners  [4]Bearing
	Distance float64
}

// ObjDetectObservation is one detected object. Corners and CornerPixels run
// top-left, top-right, bottom-left, bottom-right. CornerPixels are kept for
// overlays only and never published.
type ObjDetectObservation struct {
	ClassID      int
	Confidence   float64
	Corners      [4]Bearing
	CornerPixels [4]Point
}

// FiducialResult is what the fiducial pipeline emits per processed frame.
type FiducialResult struct {
	Timestamp  time.Time
	Tags       []ImageObservation
	CameraPose *CameraPoseObservation
	TagAngles  []TagAngleObservation
	Demo       *FiducialPoseObservation
}

// ObjDetectResult is what the object detection pipeline emits per processed frame.
type ObjDetectResult struct {
	Timestamp    time.Time
	Observations []ObjDetectObservation
}
