// Package recorder writes annotated frames to video files through ffmpeg.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Framerate is the fixed rate written into every file.
const Framerate = 25

var framesDropped metric.Int64Counter

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/tagvision/pkg/recorder")
	framesDropped, err = meter.Int64Counter("tagvision.recorder.frames.dropped",
		metric.WithDescription("Frames dropped because the encoder was busy"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create recorder metrics", "error", err)
	}
}

// Encoder is a running encoder process fed with raw frames.
type Encoder interface {
	io.Writer
	// Kill terminates the process.
	Kill() error
}

// Launcher starts an encoder with the given command line arguments.
type Launcher func(args []string) (Encoder, error)

// Overlay draws detections onto a frame and returns the result.
type Overlay func(frame vision.Frame, tags []vision.ImageObservation, objects []vision.ObjDetectObservation) (vision.Frame, error)

// Options configure a Recorder.
type Options struct {
	DeviceID    string
	VideoFolder string
	Codec       string
	Launch      Launcher
	Overlay     Overlay
}

type job struct {
	frame   vision.Frame
	tags    []vision.ImageObservation
	objects []vision.ObjDetectObservation
}

// Recorder owns one encoder process at a time and a writer goroutine that
// feeds it.
type Recorder struct {
	opts Options

	enc      Encoder
	file     string
	width    int
	height   int
	channels int
	frames   chan job
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped recorder.
func New(opts Options) *Recorder {
	if opts.Launch == nil {
		opts.Launch = FFmpeg
	}
	if opts.Codec == "" {
		opts.Codec = "libx264"
	}
	return &Recorder{opts: opts}
}

// Filename is the output path for a recording started at the remote sync
// timestamp ts (seconds).
func Filename(folder, deviceID string, ts int64) string {
	return folder + deviceID + "_" + time.Unix(ts, 0).Local().Format("20060102_150405") + ".mkv"
}

// Args is the ffmpeg command line for raw frames of the given size and
// pixel format.
func Args(width, height int, pixelFormat, codec, file string) []string {
	return []string{
		"-y",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-pixel_format", pixelFormat,
		"-r", strconv.Itoa(Framerate),
		"-re",
		"-f", "rawvideo",
		"-i", "pipe:",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		"-vf", "setpts=PTS-STARTPTS",
		file,
	}
}

// File returns the current output path, empty while stopped.
func (r *Recorder) File() string {
	return r.file
}

// Start opens a new file sized from the remote resolution. The pixel format
// follows the channel count of frame.
func (r *Recorder) Start(remote config.Remote, frame vision.Frame) error {
	if r.enc != nil {
		r.Stop()
	}
	if r.opts.VideoFolder != "" {
		// The folder is a path prefix, "videos/" or "videos/cam_".
		if err := os.MkdirAll(filepath.Dir(r.opts.VideoFolder+"x"), 0o755); err != nil {
			return fmt.Errorf("failed to create video folder: %w", err)
		}
	}
	file := Filename(r.opts.VideoFolder, r.opts.DeviceID, remote.Timestamp)
	enc, err := r.opts.Launch(Args(remote.Width, remote.Height, frame.PixelFormat(), r.opts.Codec, file))
	if err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	slog.Info("recording started", "file", file, "width", remote.Width, "height", remote.Height,
		"pixel_format", frame.PixelFormat())

	r.enc = enc
	r.file = file
	r.width, r.height, r.channels = remote.Width, remote.Height, frame.Channels
	r.frames = make(chan job, 1)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.write(r.enc, r.frames, r.done)
	return nil
}

// Write hands a frame to the writer without blocking. It reports false when
// the writer is busy or the recorder is stopped.
func (r *Recorder) Write(frame vision.Frame, tags []vision.ImageObservation, objects []vision.ObjDetectObservation) bool {
	if r.enc == nil {
		return false
	}
	select {
	case r.frames <- job{frame: frame, tags: tags, objects: objects}:
		return true
	default:
		if framesDropped != nil {
			framesDropped.Add(context.Background(), 1)
		}
		return false
	}
}

// Stop signals the writer, waits for it and kills the encoder.
func (r *Recorder) Stop() {
	if r.enc == nil {
		return
	}
	close(r.done)
	r.wg.Wait()
	if err := r.enc.Kill(); err != nil {
		slog.Warn("failed to stop encoder", "error", err)
	}
	slog.Info("recording stopped", "file", r.file)
	r.enc = nil
	r.file = ""
}

func (r *Recorder) write(enc Encoder, frames <-chan job, done <-chan struct{}) {
	defer r.wg.Done()
	failed := false
	for {
		select {
		case <-done:
			return
		case j := <-frames:
			if failed {
				continue
			}
			if j.frame.Width != r.width || j.frame.Height != r.height || j.frame.Channels != r.channels {
				slog.Warn("skipping frame with unexpected size", "width", j.frame.Width, "height", j.frame.Height)
				continue
			}
			frame := j.frame.Clone()
			if r.opts.Overlay != nil {
				out, err := r.opts.Overlay(frame, j.tags, j.objects)
				if err != nil {
					slog.Warn("failed to draw overlay", "error", err)
				} else {
					frame = out
				}
			}
			if _, err := enc.Write(frame.Data); err != nil {
				slog.Error("encoder write failed, dropping remaining frames", "file", r.file, "error", err)
				failed = true
			}
		}
	}
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// FFmpeg launches ffmpeg reading raw frames from stdin.
func FFmpeg(args []string) (Encoder, error) {
	cmd := exec.Command("ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &process{cmd: cmd, stdin: stdin}, nil
}

func (p *process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *process) Kill() error {
	_ = p.stdin.Close()
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = p.cmd.Wait()
	return nil
}
