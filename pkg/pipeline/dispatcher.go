package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wachiwi/tagvision/pkg/capture"
	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

const (
	// IdleDelay is slept after a failed capture or while uncalibrated.
	IdleDelay = 500 * time.Millisecond

	// RecordDelay is how many frames the recorder lags behind capture.
	RecordDelay = 2

	// RecordRetryDelay is how long to wait before starting the recorder
	// again after a failed start.
	RecordRetryDelay = 5 * time.Second

	FiducialName  = "apriltags"
	ObjDetectName = "objdetect"
)

// ErrCalibrationComplete ends Run after a calibration session was finished.
var ErrCalibrationComplete = errors.New("calibration complete")

// RemoteSource provides the remote configuration snapshot for a tick.
type RemoteSource interface {
	Snapshot() config.Remote
}

// Capturer returns one frame per call.
type Capturer interface {
	Frame(remote config.Remote) (vision.Frame, error)
}

// CalibrationCommands is the operator's calibration switch.
type CalibrationCommands interface {
	Active() bool
	CaptureRequested() bool
}

// CalibrationSession collects calibration frames until finished.
type CalibrationSession interface {
	ProcessFrame(frame vision.Frame, capture bool)
	Finish() error
}

// Publisher sends results to the telemetry bus.
type Publisher interface {
	PublishFiducial(result vision.FiducialResult) error
	PublishObjDetect(result vision.ObjDetectResult) error
	PublishFPS(pipeline string, ts time.Time, fps int) error
}

// Recorder writes annotated frames to a video file.
type Recorder interface {
	Start(remote config.Remote, frame vision.Frame) error
	Stop()
	Write(frame vision.Frame, tags []vision.ImageObservation, objects []vision.ObjDetectObservation) bool
}

// Pipeline is the dispatcher's view of a Worker.
type Pipeline[R any] interface {
	Submit(Job) bool
	Poll() (R, bool)
}

// Options wires a Dispatcher. Fiducial, ObjDetect, Calibration and Recorder
// may be nil when the feature is disabled.
type Options struct {
	Remote     RemoteSource
	Capture    Capturer
	Calibrated bool

	Calibration           CalibrationCommands
	NewCalibrationSession func() (CalibrationSession, error)

	Fiducial        Pipeline[vision.FiducialResult]
	ObjDetect       Pipeline[vision.ObjDetectResult]
	ObjDetectMaxFPS float64

	Publisher Publisher
	Recorder  Recorder

	Now   func() time.Time
	Sleep func(time.Duration)
}

// Dispatcher is the main loop. It is not safe for concurrent use; one
// goroutine calls Tick or Run.
type Dispatcher struct {
	opts Options

	throttle     *Throttle
	fiducialFPS  FPSCounter
	objdetectFPS FPSCounter

	calibration CalibrationSession
	recording   bool
	retryAt     time.Time
	buffer      *RecordBuffer
	lastTags    []vision.ImageObservation
	lastObjects []vision.ObjDetectObservation
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Dispatcher{
		opts:     opts,
		throttle: NewThrottle(opts.ObjDetectMaxFPS),
		buffer:   NewRecordBuffer(RecordDelay),
	}
}

// Run ticks until ctx is done, a fatal capture error occurs or a
// calibration session completes.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stopRecording()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.Tick(); err != nil {
			return err
		}
	}
}

// Tick runs one iteration of the main loop.
func (d *Dispatcher) Tick() error {
	remote := d.opts.Remote.Snapshot()
	ts := d.opts.Now()

	frame, err := d.opts.Capture.Frame(remote)
	if err != nil {
		if capture.IsFatal(err) {
			return err
		}
		slog.Debug("no frame", "error", err)
		d.opts.Sleep(IdleDelay)
		return nil
	}

	switch {
	case d.opts.Calibration != nil && d.opts.Calibration.Active():
		d.stopRecording()
		return d.calibrate(frame)

	case d.calibration != nil:
		d.stopRecording()
		slog.Info("finishing calibration session")
		if err := d.calibration.Finish(); err != nil {
			return err
		}
		d.calibration = nil
		return ErrCalibrationComplete

	case d.opts.Calibrated:
		job := Job{Timestamp: ts, Frame: frame, Config: remote}
		d.runFiducial(job)
		d.runObjDetect(job)
		d.record(ts, remote, frame)

	default:
		d.stopRecording()
		slog.Info("no calibration found")
		d.opts.Sleep(IdleDelay)
	}
	return nil
}

func (d *Dispatcher) calibrate(frame vision.Frame) error {
	if d.calibration == nil {
		if d.opts.NewCalibrationSession == nil {
			return errors.New("calibration requested but not available")
		}
		s, err := d.opts.NewCalibrationSession()
		if err != nil {
			return err
		}
		slog.Info("calibration session started")
		d.calibration = s
	}
	d.calibration.ProcessFrame(frame, d.opts.Calibration.CaptureRequested())
	return nil
}

func (d *Dispatcher) runFiducial(job Job) {
	if d.opts.Fiducial == nil {
		return
	}
	d.opts.Fiducial.Submit(job)

	res, ok := d.opts.Fiducial.Poll()
	if !ok {
		return
	}
	if err := d.opts.Publisher.PublishFiducial(res); err != nil {
		slog.Warn("failed to publish observations", "error", err)
	}
	d.lastTags = res.Tags
	d.reportFPS(&d.fiducialFPS, FiducialName, res.Timestamp)
}

func (d *Dispatcher) runObjDetect(job Job) {
	if d.opts.ObjDetect == nil {
		return
	}
	if d.throttle.Allow(job.Timestamp) {
		d.opts.ObjDetect.Submit(job)
	}

	res, ok := d.opts.ObjDetect.Poll()
	if !ok {
		return
	}
	if err := d.opts.Publisher.PublishObjDetect(res); err != nil {
		slog.Warn("failed to publish object detections", "error", err)
	}
	d.lastObjects = res.Observations
	d.reportFPS(&d.objdetectFPS, ObjDetectName, res.Timestamp)
}

func (d *Dispatcher) reportFPS(c *FPSCounter, name string, ts time.Time) {
	fps, ok := c.Tick(d.opts.Now())
	if !ok {
		return
	}
	slog.Info("pipeline running", "pipeline", name, "fps", fps)
	if pipelineFPS != nil {
		pipelineFPS.Record(context.Background(), int64(fps), pipelineAttr(name))
	}
	if err := d.opts.Publisher.PublishFPS(name, ts, fps); err != nil {
		slog.Warn("failed to publish fps", "pipeline", name, "error", err)
	}
}

// updateRecording starts or stops the recorder on the edges of shouldRecord.
// A failed start is retried after RecordRetryDelay.
func (d *Dispatcher) updateRecording(shouldRecord bool, ts time.Time, remote config.Remote, frame vision.Frame) {
	switch {
	case shouldRecord && !d.recording:
		if ts.Before(d.retryAt) {
			return
		}
		slog.Info("starting recording")
		if err := d.opts.Recorder.Start(remote, frame); err != nil {
			slog.Error("failed to start recording", "error", err, "retry_in", RecordRetryDelay)
			d.retryAt = ts.Add(RecordRetryDelay)
			return
		}
		d.recording = true
		d.retryAt = time.Time{}
	case !shouldRecord:
		d.retryAt = time.Time{}
		d.stopRecording()
	}
}

func (d *Dispatcher) stopRecording() {
	if !d.recording {
		return
	}
	slog.Info("stopping recording")
	d.opts.Recorder.Stop()
	d.recording = false
	d.buffer.Clear()
}

// record feeds the delayed frame to the recorder. It only runs while
// inference is active.
func (d *Dispatcher) record(ts time.Time, remote config.Remote, frame vision.Frame) {
	shouldRecord := d.opts.Recorder != nil && remote.IsRecording &&
		remote.Width > 0 && remote.Height > 0 && remote.Timestamp > 0
	d.updateRecording(shouldRecord, ts, remote, frame)
	if !d.recording {
		d.buffer.Clear()
		return
	}
	if out, ok := d.buffer.Push(frame); ok {
		d.opts.Recorder.Write(out, d.lastTags, d.lastObjects)
	}
}
