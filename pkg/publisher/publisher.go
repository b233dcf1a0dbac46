// Package publisher writes pipeline results to the "/<device>/output" table.
package publisher

import (
	"errors"
	"fmt"
	"time"

	"github.com/wachiwi/tagvision/pkg/bus"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Keys in the output table.
const (
	KeyObservations          = "observations"
	KeyDemoObservations      = "demo_observations"
	KeyObjDetectObservations = "objdetect_observations"
	KeyFPSPrefix             = "fps_"
)

// Publisher serializes observations into numeric arrays.
type Publisher struct {
	table *bus.Table
}

// New publishes below "/<deviceID>/output" on a connected client.
func New(client *bus.Client, deviceID string) *Publisher {
	return &Publisher{table: client.Table("/" + deviceID + "/output")}
}

// PublishFiducial sends the camera pose, tag angles and demo tag of one frame,
// stamped with the frame's capture time.
func (p *Publisher) PublishFiducial(res vision.FiducialResult) error {
	return errors.Join(
		p.table.SetAt(KeyObservations, EncodeObservations(res.CameraPose, res.TagAngles), res.Timestamp),
		p.table.SetAt(KeyDemoObservations, EncodeDemo(res.Demo), res.Timestamp),
	)
}

// PublishObjDetect sends the detections of one frame.
func (p *Publisher) PublishObjDetect(res vision.ObjDetectResult) error {
	return p.table.SetAt(KeyObjDetectObservations, EncodeObjDetect(res.Observations), res.Timestamp)
}

// PublishFPS sends the throughput of a pipeline, e.g. "fps_apriltags".
func (p *Publisher) PublishFPS(pipeline string, ts time.Time, fps int) error {
	if err := p.table.SetAt(KeyFPSPrefix+pipeline, fps, ts); err != nil {
		return fmt.Errorf("publish fps: %w", err)
	}
	return nil
}
