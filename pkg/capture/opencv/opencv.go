// Package opencv implements capture backends on top of gocv.VideoCapture.
package opencv

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/wachiwi/tagvision/pkg/capture"
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/vision"
)

type device struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (d *device) Read() (vision.Frame, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return vision.Frame{}, fmt.Errorf("no frame from camera")
	}
	return cvframe.FromMat(d.mat)
}

func (d *device) Close() error {
	d.mat.Close()
	return d.vc.Close()
}

// Default opens the camera id directly and applies the settings through
// capture properties. Settings changes are applied by reopening in process.
type Default struct{}

func NewDefault() capture.Backend { return Default{} }

func (Default) Policy() capture.Policy {
	return capture.Policy{HotSwap: true}
}

func (Default) Open(s config.CameraSettings) (capture.Device, error) {
	vc, err := gocv.OpenVideoCapture(s.CameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %q: %w", s.CameraID, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	vc.Set(gocv.VideoCaptureAutoExposure, float64(s.AutoExposure))
	vc.Set(gocv.VideoCaptureExposure, float64(s.Exposure))
	vc.Set(gocv.VideoCaptureGain, float64(int(s.Gain)))
	return &device{vc: vc, mat: gocv.NewMat()}, nil
}

// GStreamer reads a V4L2 device through an MJPG GStreamer pipeline with the
// exposure controls passed to v4l2src. A failed read is fatal.
type GStreamer struct{}

func NewGStreamer() capture.Backend { return GStreamer{} }

func (GStreamer) Policy() capture.Policy {
	return capture.Policy{HotSwap: true, FatalReadFailure: true, ReopenDelay: 2 * time.Second}
}

func (GStreamer) Open(s config.CameraSettings) (capture.Device, error) {
	vc, err := gocv.OpenVideoCaptureWithAPI(Pipeline(s), gocv.VideoCaptureGstreamer)
	if err != nil {
		return nil, fmt.Errorf("failed to open gstreamer pipeline for %q: %w", s.CameraID, err)
	}
	return &device{vc: vc, mat: gocv.NewMat()}, nil
}

// Pipeline is the GStreamer description used for a V4L2 camera.
func Pipeline(s config.CameraSettings) string {
	return fmt.Sprintf("v4l2src device=%s extra_controls=\"c,exposure_auto=%d,exposure_absolute=%d,gain=%d,sharpness=0,brightness=0\""+
		" ! image/jpeg,format=MJPG,width=%d,height=%d ! jpegdec ! video/x-raw ! appsink drop=1",
		s.CameraID, s.AutoExposure, s.Exposure, int(s.Gain), s.Width, s.Height)
}
