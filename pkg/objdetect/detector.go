// Package objdetect runs an ONNX detection model through OpenCV's DNN module.
package objdetect

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const (
	InputSize     = 640
	MinConfidence = 0.25
	IoUThreshold  = 0.45
)

var padColor = color.RGBA{R: 114, G: 114, B: 114}

// Detector owns a loaded network. It is not safe for concurrent use.
type Detector struct {
	net  gocv.Net
	size int
}

// Load reads the model at path.
func Load(path string) (*Detector, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model %s", path)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to select dnn backend: %w", err)
	}
	return &Detector{net: net, size: InputSize}, nil
}

func (d *Detector) Close() error {
	return d.net.Close()
}

// Detect returns suppressed detections in frame pixels.
func (d *Detector) Detect(frame vision.Frame) ([]vision.Detection, error) {
	m, err := cvframe.ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	bgr := cvframe.BGR(m)
	defer bgr.Close()

	lb := vision.NewLetterbox(frame.Width, frame.Height, d.size)
	canvas := letterbox(bgr, lb)
	defer canvas.Close()

	blob := gocv.BlobFromImage(canvas, 1.0/255.0, image.Pt(d.size, d.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	if err := d.net.SetInput(blob, ""); err != nil {
		return nil, fmt.Errorf("failed to set model input: %w", err)
	}
	out := d.net.Forward("")
	defer out.Close()

	// [1, attrs, anchors]
	shape := out.Size()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected model output shape %v", shape)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}
	dets, err := decode(data, shape[1], shape[2])
	if err != nil {
		return nil, err
	}
	return toSource(vision.Suppress(dets, MinConfidence, IoUThreshold), lb), nil
}

func letterbox(src gocv.Mat, lb vision.Letterbox) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(lb.ScaledW, lb.ScaledH), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &canvas,
		lb.PadY, lb.Size-lb.ScaledH-lb.PadY,
		lb.PadX, lb.Size-lb.ScaledW-lb.PadX,
		gocv.BorderConstant, padColor)
	return canvas
}
