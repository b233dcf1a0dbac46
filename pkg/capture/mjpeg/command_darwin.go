//go:build darwin

package mjpeg

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/wachiwi/tagvision/pkg/config"
)

func rpicamCommand(config.CameraSettings) (*exec.Cmd, error) {
	return nil, fmt.Errorf("raspberry pi camera not available on this platform")
}

func avfoundationCommand(s config.CameraSettings) (*exec.Cmd, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	// ffmpeg has no exposure or gain controls for avfoundation inputs.
	slog.Debug("ignoring exposure settings for avfoundation", "exposure", s.Exposure, "gain", s.Gain)
	return exec.Command("ffmpeg", avfoundationArgs(s)...), nil
}
