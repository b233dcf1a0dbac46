package config

import (
	"log/slog"

	"github.com/wachiwi/tagvision/pkg/bus"
)

// Remote is one snapshot of the configuration published on the bus.
// Consumers receive it by value and never share it.
type Remote struct {
	CameraID     string
	Width        int
	Height       int
	AutoExposure int
	Exposure     int
	Gain         float64
	FiducialSize float64
	TagLayout    *TagLayout
	IsRecording  bool
	Timestamp    int64
}

// CameraSettings is the part of Remote that requires reopening the camera.
type CameraSettings struct {
	CameraID     string
	Width        int
	Height       int
	AutoExposure int
	Exposure     int
	Gain         float64
}

// Camera returns the camera-relevant fields.
func (r Remote) Camera() CameraSettings {
	return CameraSettings{
		CameraID:     r.CameraID,
		Width:        r.Width,
		Height:       r.Height,
		AutoExposure: r.AutoExposure,
		Exposure:     r.Exposure,
		Gain:         r.Gain,
	}
}

// RemoteSource reads Remote snapshots from the "/<device>/config" table.
type RemoteSource struct {
	table *bus.Table

	layoutRaw string
	layout    *TagLayout
}

// NewRemoteSource binds a source to a connected bus client.
func NewRemoteSource(client *bus.Client, deviceID string) *RemoteSource {
	return &RemoteSource{table: client.Table("/" + deviceID + "/config")}
}

// Snapshot returns the current remote configuration.
func (s *RemoteSource) Snapshot() Remote {
	t := s.table
	return Remote{
		CameraID:     t.String("camera_id", ""),
		Width:        int(t.Int("camera_resolution_width", 0)),
		Height:       int(t.Int("camera_resolution_height", 0)),
		AutoExposure: int(t.Int("camera_auto_exposure", 0)),
		Exposure:     int(t.Int("camera_exposure", 0)),
		Gain:         t.Float("camera_gain", 0),
		FiducialSize: t.Float("fiducial_size_m", 0),
		TagLayout:    s.tagLayout(t.String("tag_layout", "")),
		IsRecording:  t.Bool("is_recording", false),
		Timestamp:    t.Int("timestamp", 0),
	}
}

// tagLayout parses the layout string, reusing the last parse while the
// published text is unchanged.
func (s *RemoteSource) tagLayout(raw string) *TagLayout {
	if raw == s.layoutRaw {
		return s.layout
	}
	s.layoutRaw = raw
	s.layout = nil
	if raw == "" {
		return nil
	}
	l, err := ParseTagLayout([]byte(raw))
	if err != nil {
		slog.Debug("ignoring malformed tag layout", "error", err)
		return nil
	}
	s.layout = l
	return l
}
