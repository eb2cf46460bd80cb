package volume

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Metadata is the YAML sidecar describing a raw voxel file, as emitted
// by the ingestion pipeline. It carries everything needed to interpret
// the buffer: geometry, sample format and the DICOM-derived calibration
// constants.
type Metadata struct {
	// Dims, Spacing and Origin describe the voxel grid geometry.
	Dims    [3]int     `yaml:"dims"`
	Spacing [3]float64 `yaml:"spacing"`
	Origin  [3]float64 `yaml:"origin"`

	// SampleType names the scalar format: uint8, uint16, int16 or
	// float32.
	SampleType string `yaml:"sampleType"`

	// Modality tags the acquisition type.
	Modality string `yaml:"modality"`

	// WindowLevel and WindowWidth are the acquisition's default
	// display window.
	WindowLevel float64 `yaml:"windowLevel"`
	WindowWidth float64 `yaml:"windowWidth"`

	// RescaleSlope and RescaleIntercept calibrate raw samples. A zero
	// slope is treated as the identity slope of 1.
	RescaleSlope     float64 `yaml:"rescaleSlope"`
	RescaleIntercept float64 `yaml:"rescaleIntercept"`

	// Tags carries acquisition/study metadata opaquely.
	Tags map[string]string `yaml:"tags"`
}

// LoadRaw reads a raw voxel file and its YAML sidecar into a
// VolumeData ready for upload. The returned volume is validated.
func LoadRaw(rawPath, metaPath string) (*VolumeData, error) {
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read volume metadata: %w", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parse volume metadata: %w", err)
	}

	sampleType, err := ParseSampleType(meta.SampleType)
	if err != nil {
		return nil, fmt.Errorf("parse volume metadata: %w", err)
	}

	data, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("read voxel data: %w", err)
	}

	slope := meta.RescaleSlope
	if slope == 0 {
		slope = 1
	}

	vol := &VolumeData{
		ID:               rawPath,
		Dims:             meta.Dims,
		Spacing:          meta.Spacing,
		Origin:           meta.Origin,
		Data:             data,
		SampleType:       sampleType,
		Modality:         meta.Modality,
		WindowLevel:      meta.WindowLevel,
		WindowWidth:      meta.WindowWidth,
		RescaleSlope:     slope,
		RescaleIntercept: meta.RescaleIntercept,
		Metadata:         meta.Tags,
	}
	// Sidecars from older exporters omit the display window; derive one
	// from the intensity distribution so the volume stays renderable.
	if vol.WindowWidth <= 0 && vol.Dims[0] > 0 && vol.Dims[1] > 0 && vol.Dims[2] > 0 &&
		vol.SizeBytes() == len(vol.Data) {
		stats := ComputeStats(vol)
		vol.WindowLevel, vol.WindowWidth = stats.AutoWindow()
	}

	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", rawPath, err)
	}
	return vol, nil
}
