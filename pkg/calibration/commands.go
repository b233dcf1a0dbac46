// Package calibration collects camera calibration frames on operator command.
package calibration

import (
	"fmt"
	"log/slog"

	"github.com/wachiwi/tagvision/pkg/bus"
)

const (
	KeyActive      = "active"
	KeyCaptureFlag = "capture_flag"
)

// Commands reads the operator switches from the "/<device>/calibration" table.
type Commands struct {
	table *bus.Table
}

// NewCommands binds to a connected client and resets both switches so a
// stale retained value cannot start a session.
func NewCommands(client *bus.Client, deviceID string) (*Commands, error) {
	c := &Commands{table: client.Table("/" + deviceID + "/calibration")}
	if err := c.table.Set(KeyActive, false); err != nil {
		return nil, fmt.Errorf("failed to reset calibration switch: %w", err)
	}
	if err := c.table.Set(KeyCaptureFlag, false); err != nil {
		return nil, fmt.Errorf("failed to reset capture flag: %w", err)
	}
	return c, nil
}

// Active reports whether calibration mode is requested. While inactive the
// capture flag is held at false.
func (c *Commands) Active() bool {
	active := c.table.Bool(KeyActive, false)
	if !active && c.table.Bool(KeyCaptureFlag, false) {
		c.clearCapture()
	}
	return active
}

// CaptureRequested consumes a pending capture request. Requests made while
// calibration is inactive are discarded.
func (c *Commands) CaptureRequested() bool {
	if !c.table.Bool(KeyCaptureFlag, false) {
		return false
	}
	c.clearCapture()
	return c.Active()
}

func (c *Commands) clearCapture() {
	if err := c.table.Set(KeyCaptureFlag, false); err != nil {
		slog.Warn("failed to reset capture flag", "error", err)
	}
}
