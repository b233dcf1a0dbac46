package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wachiwi/tagvision/pkg/vision"
)

// ManifestName is the file written into the session folder on Finish.
const ManifestName = "manifest.json"

// Stream shows the raw camera image while calibrating.
type Stream interface {
	Viewers() int
	SetFrame(jpeg []byte)
	Close(ctx context.Context) error
}

// Encoder turns a frame into JPEG bytes.
type Encoder func(vision.Frame) ([]byte, error)

// Options configure a Session.
type Options struct {
	Folder string
	Stream Stream
	Encode Encoder
	Now    func() time.Time
}

// Capture is one stored calibration image.
type Capture struct {
	File      string    `json:"file"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest describes a finished session.
type Manifest struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Captures []Capture `json:"captures"`
}

// Session stores frames on request into its own folder and serves the live
// image to the operator.
type Session struct {
	opts     Options
	id       string
	dir      string
	started  time.Time
	captures []Capture
}

// NewSession creates the session folder below opts.Folder.
func NewSession(opts Options) (*Session, error) {
	if opts.Encode == nil {
		return nil, fmt.Errorf("calibration session needs an encoder")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	id := uuid.NewString()
	dir := filepath.Join(opts.Folder, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create calibration folder: %w", err)
	}
	slog.Info("calibration session folder created", "dir", dir)
	return &Session{opts: opts, id: id, dir: dir, started: opts.Now()}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dir returns the folder captures are written to.
func (s *Session) Dir() string { return s.dir }

// Captures returns the stored images so far.
func (s *Session) Captures() []Capture { return s.captures }

// ProcessFrame shows frame and stores it when capture is set.
func (s *Session) ProcessFrame(frame vision.Frame, capture bool) {
	show := s.opts.Stream != nil && s.opts.Stream.Viewers() > 0
	if frame.Empty() || (!show && !capture) {
		return
	}
	jpeg, err := s.opts.Encode(frame)
	if err != nil {
		slog.Warn("failed to encode calibration frame", "error", err)
		return
	}
	if show {
		s.opts.Stream.SetFrame(jpeg)
	}
	if capture {
		s.store(frame, jpeg)
	}
}

func (s *Session) store(frame vision.Frame, jpeg []byte) {
	name := fmt.Sprintf("frame_%03d.jpg", len(s.captures))
	if err := os.WriteFile(filepath.Join(s.dir, name), jpeg, 0o644); err != nil {
		slog.Error("failed to store calibration frame", "file", name, "error", err)
		return
	}
	s.captures = append(s.captures, Capture{
		File:      name,
		Width:     frame.Width,
		Height:    frame.Height,
		Timestamp: s.opts.Now(),
	})
	slog.Info("calibration frame captured", "file", name, "count", len(s.captures))
}

// Finish stops the stream and writes the manifest.
func (s *Session) Finish() error {
	if s.opts.Stream != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.opts.Stream.Close(ctx); err != nil {
			slog.Warn("failed to close calibration stream", "error", err)
		}
	}

	m := Manifest{ID: s.id, Started: s.started, Finished: s.opts.Now(), Captures: s.captures}
	if m.Captures == nil {
		m.Captures = []Capture{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	slog.Info("calibration session finished", "dir", s.dir, "captures", len(s.captures))
	return nil
}
