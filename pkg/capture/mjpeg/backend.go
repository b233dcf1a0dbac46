package mjpeg

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/wachiwi/tagvision/pkg/capture"
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/cvframe"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// FrameTimeout is how long a read waits before the stream counts as stale.
const FrameTimeout = 5 * time.Second

// Decoder turns one JPEG into a frame.
type Decoder func(jpeg []byte) (vision.Frame, error)

// Backend runs a capture process and decodes its MJPEG output.
type Backend struct {
	name    string
	command func(config.CameraSettings) (*exec.Cmd, error)
	policy  capture.Policy
	decode  Decoder
	timeout time.Duration
}

// NewRPicam captures from a Raspberry Pi camera module with rpicam-vid, or
// libcamera-vid on older systems.
func NewRPicam() capture.Backend {
	return &Backend{
		name:    "rpicam",
		command: rpicamCommand,
		policy:  capture.Policy{HotSwap: true, FatalReadFailure: true},
		decode:  cvframe.DecodeJPEG,
		timeout: FrameTimeout,
	}
}

// NewAVFoundation captures a macOS camera through ffmpeg. It cannot be
// reconfigured in process.
func NewAVFoundation() capture.Backend {
	return &Backend{
		name:    "avfoundation",
		command: avfoundationCommand,
		policy:  capture.Policy{FatalReadFailure: true, FatalNotFound: true},
		decode:  cvframe.DecodeJPEG,
		timeout: FrameTimeout,
	}
}

func (b *Backend) Policy() capture.Policy { return b.policy }

func (b *Backend) Open(s config.CameraSettings) (capture.Device, error) {
	cmd, err := b.command(s)
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	slog.Info("started camera streaming process", "backend", b.name, "command", cmd.Path,
		"width", s.Width, "height", s.Height)

	d := &device{
		cmd:     cmd,
		pump:    NewPump(stdout),
		decode:  b.decode,
		timeout: b.timeout,
		exited:  make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			slog.Warn("camera streaming process exited", "backend", b.name, "error", err, "stderr", stderr.String())
		} else {
			slog.Info("camera streaming process exited cleanly", "backend", b.name)
		}
		close(d.exited)
	}()
	return d, nil
}

type device struct {
	cmd     *exec.Cmd
	pump    *Pump
	decode  Decoder
	timeout time.Duration
	exited  chan struct{}
}

func (d *device) Read() (vision.Frame, error) {
	jpeg, err := d.pump.Next(d.timeout)
	if err != nil {
		return vision.Frame{}, err
	}
	return d.decode(jpeg)
}

func (d *device) Close() error {
	select {
	case <-d.exited:
		return nil
	default:
	}
	if err := d.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop camera process: %w", err)
	}
	<-d.exited
	return nil
}

func rpicamArgs(s config.CameraSettings) []string {
	args := []string{
		"--width", strconv.Itoa(s.Width),
		"--height", strconv.Itoa(s.Height),
		"--timeout", "0",
		"--nopreview",
		"--codec", "mjpeg",
		"--output", "-",
		"--awb", "auto",
		"--metering", "average",
	}
	if s.CameraID != "" {
		args = append(args, "--camera", s.CameraID)
	}
	if s.AutoExposure == 0 && s.Exposure > 0 {
		args = append(args, "--shutter", strconv.Itoa(s.Exposure))
	}
	if s.Gain > 0 {
		args = append(args, "--gain", strconv.FormatFloat(s.Gain, 'f', -1, 64))
	}
	return args
}

func avfoundationArgs(s config.CameraSettings) []string {
	return []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", s.CameraID,
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}
}
