//go:build !darwin && !linux

package mjpeg

import (
	"fmt"
	"os/exec"

	"github.com/wachiwi/tagvision/pkg/config"
)

func rpicamCommand(config.CameraSettings) (*exec.Cmd, error) {
	return nil, fmt.Errorf("raspberry pi camera not available on this platform")
}

func avfoundationCommand(config.CameraSettings) (*exec.Cmd, error) {
	return nil, fmt.Errorf("avfoundation capture is only available on macOS")
}
