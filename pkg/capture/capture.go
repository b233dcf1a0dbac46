// Package capture owns the camera. A Session opens a device through a
// Backend, watches the remote camera settings for changes and hands out
// one frame per call.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Kind classifies capture failures.
type Kind int

const (
	NotConfigured Kind = iota
	DeviceNotFound
	ReadFailed
	ConfigChanged
)

func (k Kind) String() string {
	switch k {
	case NotConfigured:
		return "not configured"
	case DeviceNotFound:
		return "device not found"
	case ReadFailed:
		return "read failed"
	case ConfigChanged:
		return "config changed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by Session.Frame. Fatal errors cannot be recovered in
// process; the caller is expected to exit and let a supervisor restart it.
type Error struct {
	Kind  Kind
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
	}
	return "capture: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a fatal capture error.
func IsFatal(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Fatal
}

// Device is an open camera.
type Device interface {
	Read() (vision.Frame, error)
	Close() error
}

// Policy describes how a backend reacts to trouble.
type Policy struct {
	// HotSwap allows reopening the device in process after a settings change.
	HotSwap bool
	// FatalReadFailure makes a failed read terminate the process.
	FatalReadFailure bool
	// FatalNotFound makes a configured but missing device terminate the process.
	FatalNotFound bool
	// ReopenDelay is waited between closing and reopening on a settings change.
	ReopenDelay time.Duration
}

// Backend opens devices for one capture implementation.
type Backend interface {
	Open(settings config.CameraSettings) (Device, error)
	Policy() Policy
}

// State of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session drives one backend through Disconnected, Connecting and Streaming.
type Session struct {
	backend Backend
	policy  Policy
	state   State
	device  Device
	applied config.CameraSettings
	sleep   func(time.Duration)
}

// NewSession creates a disconnected session.
func NewSession(b Backend) *Session {
	return &Session{
		backend: b,
		policy:  b.Policy(),
		sleep:   time.Sleep,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Frame returns the next frame for the given remote snapshot, opening or
// reopening the device as needed.
func (s *Session) Frame(remote config.Remote) (vision.Frame, error) {
	settings := remote.Camera()

	if s.state == Streaming && settings != s.applied {
		slog.Info("camera settings changed, restarting capture session",
			"camera", settings.CameraID, "width", settings.Width, "height", settings.Height)
		s.close()
		if !s.policy.HotSwap {
			return vision.Frame{}, &Error{Kind: ConfigChanged, Fatal: true}
		}
		if s.policy.ReopenDelay > 0 {
			s.sleep(s.policy.ReopenDelay)
		}
	}

	if s.state == Disconnected {
		if settings.CameraID == "" {
			slog.Debug("no camera id, waiting to start capture session")
			return vision.Frame{}, &Error{Kind: NotConfigured}
		}
		if err := s.open(settings); err != nil {
			return vision.Frame{}, err
		}
	}

	frame, err := s.device.Read()
	if err == nil && frame.Empty() {
		err = errors.New("empty frame")
	}
	if err != nil {
		slog.Warn("capture session failed", "camera", s.applied.CameraID, "error", err)
		s.close()
		return vision.Frame{}, &Error{Kind: ReadFailed, Fatal: s.policy.FatalReadFailure, Err: err}
	}
	return frame, nil
}

// Close releases the device.
func (s *Session) Close() error {
	if s.device == nil {
		return nil
	}
	err := s.device.Close()
	s.device = nil
	s.state = Disconnected
	return err
}

func (s *Session) open(settings config.CameraSettings) error {
	s.state = Connecting
	slog.Info("starting capture session", "camera", settings.CameraID,
		"width", settings.Width, "height", settings.Height)
	dev, err := s.backend.Open(settings)
	if err != nil {
		s.state = Disconnected
		return &Error{Kind: DeviceNotFound, Fatal: s.policy.FatalNotFound, Err: err}
	}
	s.device = dev
	s.applied = settings
	s.state = Streaming
	slog.Info("capture session ready", "camera", settings.CameraID)
	return nil
}

func (s *Session) close() {
	if err := s.Close(); err != nil {
		slog.Warn("failed to release camera", "error", err)
	}
}
