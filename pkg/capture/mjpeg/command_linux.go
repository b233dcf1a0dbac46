//go:build linux

package mjpeg

import (
	"fmt"
	"os/exec"

	"github.com/wachiwi/tagvision/pkg/config"
)

func rpicamCommand(s config.CameraSettings) (*exec.Cmd, error) {
	// rpicam-vid on current Raspberry Pi OS, libcamera-vid before Bookworm.
	name := "rpicam-vid"
	if _, err := exec.LookPath(name); err != nil {
		name = "libcamera-vid"
		if _, err := exec.LookPath(name); err != nil {
			return nil, fmt.Errorf("neither rpicam-vid nor libcamera-vid found")
		}
	}
	return exec.Command(name, rpicamArgs(s)...), nil
}

func avfoundationCommand(config.CameraSettings) (*exec.Cmd, error) {
	return nil, fmt.Errorf("avfoundation capture is only available on macOS")
}
