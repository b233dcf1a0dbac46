// Package cvframe converts between vision.Frame and gocv matrices.
package cvframe

import (
	"fmt"
	"runtime"

	"gocv.io/x/gocv"

	"github.com/wachiwi/tagvision/pkg/vision"
)

// JPEGQuality is used for debug streams and calibration captures.
const JPEGQuality = 80

// ToMat wraps a copy of the frame in a Mat. The caller closes it.
func ToMat(f vision.Frame) (gocv.Mat, error) {
	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	// The wrapper points into f.Data; the clone owns its pixels.
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create mat: %w", err)
	}
	defer view.Close()
	m := view.Clone()
	runtime.KeepAlive(f.Data)
	return m, nil
}

// FromMat copies an 8-bit Mat into a Frame.
func FromMat(m gocv.Mat) (vision.Frame, error) {
	if m.Empty() {
		return vision.Frame{}, fmt.Errorf("empty mat")
	}
	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3:
	default:
		return vision.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
	}
	return vision.Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
		Data:     m.ToBytes(),
	}, nil
}

// Gray returns a single channel copy of m. The caller closes it.
func Gray(m gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if m.Channels() == 1 {
		m.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	return gray
}

// BGR returns a three channel copy of m. The caller closes it.
func BGR(m gocv.Mat) gocv.Mat {
	bgr := gocv.NewMat()
	if m.Channels() == 3 {
		m.CopyTo(&bgr)
		return bgr
	}
	gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR)
	return bgr
}

// EncodeJPEG encodes m as JPEG.
func EncodeJPEG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// EncodeFrame encodes a frame as JPEG.
func EncodeFrame(f vision.Frame) ([]byte, error) {
	m, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return EncodeJPEG(m)
}

// DecodeJPEG decodes a JPEG into a BGR frame.
func DecodeJPEG(data []byte) (vision.Frame, error) {
	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	defer m.Close()
	return FromMat(m)
}
