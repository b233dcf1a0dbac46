// Package config loads the process-lifetime local configuration and
// calibration, and reads the remote configuration from the telemetry bus.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Local is read once at startup and never changes afterwards.
type Local struct {
	DeviceID              string  `json:"device_id"`
	ServerIP              string  `json:"server_ip"`
	ServerPort            int     `json:"server_port"`
	AprilTagsStreamPort   int     `json:"apriltags_stream_port"`
	ObjDetectStreamPort   int     `json:"objdetect_stream_port"`
	CalibrationStreamPort int     `json:"calibration_stream_port"`
	CaptureImpl           string  `json:"capture_impl"`
	ObjDetectModel        string  `json:"obj_detect_model"`
	ObjDetectMaxFPS       float64 `json:"obj_detect_max_fps"`
	AprilTagsEnable       bool    `json:"apriltags_enable"`
	ObjDetectEnable       bool    `json:"objdetect_enable"`
	VideoFolder           string  `json:"video_folder"`
	VideoCodec            string  `json:"video_codec"`
	VideoRetentionHours   float64 `json:"video_retention_hours"`
	CalibrationFolder     string  `json:"calibration_folder"`
	LogLevel              string  `json:"log_level"`
	OTelEndpoint          string  `json:"otel_endpoint"`
}

// DefaultLocal returns the values used for fields missing from the file.
func DefaultLocal() Local {
	return Local{
		ServerPort:            1883,
		AprilTagsStreamPort:   8000,
		ObjDetectStreamPort:   8001,
		CalibrationStreamPort: 7999,
		ObjDetectMaxFPS:       -1,
		ObjDetectEnable:       true,
		VideoCodec:            "libx264",
		CalibrationFolder:     "calibration/",
		LogLevel:              "info",
	}
}

// LoadLocal reads a JSON config file on top of DefaultLocal.
func LoadLocal(path string) (Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Local{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseLocal(data)
}

// ParseLocal decodes and validates a JSON config document.
func ParseLocal(data []byte) (Local, error) {
	cfg := DefaultLocal()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Local{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Local{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the process cannot run without.
func (c Local) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.ServerIP == "" {
		return fmt.Errorf("server_ip is required")
	}
	for name, port := range map[string]int{
		"server_port":             c.ServerPort,
		"apriltags_stream_port":   c.AprilTagsStreamPort,
		"objdetect_stream_port":   c.ObjDetectStreamPort,
		"calibration_stream_port": c.CalibrationStreamPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.ObjDetectEnable && c.ObjDetectModel == "" {
		return fmt.Errorf("obj_detect_model is required when objdetect_enable is set")
	}
	if c.ObjDetectMaxFPS == 0 {
		return fmt.Errorf("obj_detect_max_fps must be positive or negative to disable")
	}
	return nil
}
