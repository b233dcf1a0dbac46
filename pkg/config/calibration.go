package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Calibration holds the camera intrinsics. The zero value is uncalibrated.
type Calibration struct {
	CameraMatrix *mat.Dense
	Distortion   []float64
}

// Valid reports whether both the camera matrix and distortion are present.
func (c Calibration) Valid() bool {
	if c.CameraMatrix == nil || c.Distortion == nil {
		return false
	}
	r, cols := c.CameraMatrix.Dims()
	return r == 3 && cols == 3
}

// storageMatrix is a matrix node in an OpenCV FileStorage document.
type storageMatrix struct {
	Rows int       `json:"rows" yaml:"rows"`
	Cols int       `json:"cols" yaml:"cols"`
	DT   string    `json:"dt" yaml:"dt"`
	Data []float64 `json:"data" yaml:"data"`
}

type storageDocument struct {
	CameraMatrix *storageMatrix `json:"camera_matrix" yaml:"camera_matrix"`
	Distortion   *storageMatrix `json:"distortion_coefficients" yaml:"distortion_coefficients"`
}

var (
	yamlDirective = regexp.MustCompile(`(?m)^%YAML[: ].*$`)
	yamlCustomTag = regexp.MustCompile(`!!opencv-[a-z-]+`)
)

// LoadCalibration reads an OpenCV FileStorage calibration in JSON or YAML form.
// A readable document missing either matrix returns an uncalibrated value.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return ParseCalibrationYAML(data)
	default:
		return ParseCalibrationJSON(data)
	}
}

// ParseCalibrationJSON decodes the JSON flavour of FileStorage.
func ParseCalibrationJSON(data []byte) (Calibration, error) {
	var doc storageDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Calibration{}, fmt.Errorf("failed to parse calibration: %w", err)
	}
	return doc.calibration()
}

// ParseCalibrationYAML decodes the YAML flavour of FileStorage.
func ParseCalibrationYAML(data []byte) (Calibration, error) {
	text := yamlDirective.ReplaceAllString(string(data), "")
	text = yamlCustomTag.ReplaceAllString(text, "")
	var doc storageDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return Calibration{}, fmt.Errorf("failed to parse calibration: %w", err)
	}
	return doc.calibration()
}

func (d storageDocument) calibration() (Calibration, error) {
	if d.CameraMatrix == nil || d.Distortion == nil {
		return Calibration{}, nil
	}
	k := d.CameraMatrix
	if k.Rows != 3 || k.Cols != 3 || len(k.Data) != 9 {
		return Calibration{}, fmt.Errorf("camera_matrix must be 3x3, got %dx%d with %d values", k.Rows, k.Cols, len(k.Data))
	}
	if n := d.Distortion.Rows * d.Distortion.Cols; n != len(d.Distortion.Data) || n == 0 {
		return Calibration{}, fmt.Errorf("distortion_coefficients has %d values for %dx%d", len(d.Distortion.Data), d.Distortion.Rows, d.Distortion.Cols)
	}
	return Calibration{
		CameraMatrix: mat.NewDense(3, 3, append([]float64(nil), k.Data...)),
		Distortion:   append([]float64(nil), d.Distortion.Data...),
	}, nil
}
