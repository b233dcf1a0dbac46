package mjpeg

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/tagvision/pkg/capture"
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

func jpegBytes(payload ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

func TestPumpSplitsFrames(t *testing.T) {
	r, w := io.Pipe()
	p := NewPump(r)

	first := jpegBytes(1, 2, 3)
	go func() {
		// Leading garbage, then a frame.
		_, _ = w.Write(append([]byte{0x00, 0x42}, first...))
	}()
	got, err := p.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := jpegBytes(9, 8, 7, 6)
	go func() {
		// Split inside the end marker.
		_, _ = w.Write(second[:len(second)-1])
		_, _ = w.Write(second[len(second)-1:])
	}()
	got, err = p.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Equal(t, 2, p.Frames())

	require.NoError(t, w.Close())
	_, err = p.Next(time.Second)
	assert.ErrorContains(t, err, "stream ended")
}

func TestPumpStale(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPump(r)

	_, err := p.Next(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStale)
}

func TestPumpSeveralFramesInOneRead(t *testing.T) {
	r, w := io.Pipe()
	p := NewPump(r)

	last := jpegBytes(3)
	go func() {
		data := append(jpegBytes(1), jpegBytes(2)...)
		_, _ = w.Write(append(data, last...))
		_ = w.Close()
	}()

	got, err := p.Next(time.Second)
	require.NoError(t, err)
	assert.Len(t, got, len(last))
	assert.Eventually(t, func() bool { return p.Frames() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBackendReadsProcessOutput(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	path := filepath.Join(t.TempDir(), "stream.mjpg")
	require.NoError(t, os.WriteFile(path, jpegBytes(7, 7), 0o644))

	b := &Backend{
		name:    "test",
		command: func(config.CameraSettings) (*exec.Cmd, error) { return exec.Command("cat", path), nil },
		policy:  capture.Policy{HotSwap: true, FatalReadFailure: true},
		decode: func(data []byte) (vision.Frame, error) {
			return vision.Frame{Width: len(data), Height: 1, Channels: 1, Data: data}, nil
		},
		timeout: time.Second,
	}

	s := capture.NewSession(b)
	frame, err := s.Frame(config.Remote{CameraID: "0", Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Equal(t, 6, frame.Width)

	// The process exited after one frame; the next read fails fatally.
	_, err = s.Frame(config.Remote{CameraID: "0", Width: 640, Height: 480})
	assert.True(t, capture.IsFatal(err))
}

func TestCommandArgs(t *testing.T) {
	s := config.CameraSettings{CameraID: "1", Width: 1456, Height: 1088, Exposure: 8000, Gain: 2}
	assert.Equal(t, []string{
		"--width", "1456", "--height", "1088", "--timeout", "0", "--nopreview",
		"--codec", "mjpeg", "--output", "-", "--awb", "auto", "--metering", "average",
		"--camera", "1", "--shutter", "8000", "--gain", "2",
	}, rpicamArgs(s))

	assert.Contains(t, avfoundationArgs(s), "1456x1088")
}
