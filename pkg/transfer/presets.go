package transfer

import "fmt"

// Built-in medical presets, seeded into the engine at initialization.
// Control point values are in windowed (post window level/width)
// intensity space, so the same preset works across modalities as long
// as the display window is set sensibly.
const (
	PresetBone       = "bone"
	PresetSoftTissue = "soft-tissue"
)

// Preset returns a fresh copy of a built-in transfer function by name.
// Each call returns an independent value so callers can tweak the
// points before baking without affecting the seed tables.
func Preset(name string) (*TransferFunction, error) {
	switch name {
	case PresetBone:
		return &TransferFunction{
			Name:   "Bone",
			Preset: PresetBone,
			ColorPoints: []ColorPoint{
				{Value: 0.00, R: 0.00, G: 0.00, B: 0.00},
				{Value: 0.45, R: 0.55, G: 0.33, B: 0.18},
				{Value: 0.65, R: 0.90, G: 0.82, B: 0.70},
				{Value: 1.00, R: 1.00, G: 1.00, B: 1.00},
			},
			OpacityPoints: []OpacityPoint{
				{Value: 0.00, Opacity: 0.00},
				{Value: 0.40, Opacity: 0.00},
				{Value: 0.55, Opacity: 0.15},
				{Value: 0.80, Opacity: 0.85},
				{Value: 1.00, Opacity: 0.95},
			},
		}, nil

	case PresetSoftTissue:
		return &TransferFunction{
			Name:   "Soft Tissue",
			Preset: PresetSoftTissue,
			ColorPoints: []ColorPoint{
				{Value: 0.00, R: 0.00, G: 0.00, B: 0.00},
				{Value: 0.30, R: 0.55, G: 0.25, B: 0.20},
				{Value: 0.50, R: 0.88, G: 0.60, B: 0.50},
				{Value: 1.00, R: 1.00, G: 0.94, B: 0.90},
			},
			OpacityPoints: []OpacityPoint{
				{Value: 0.00, Opacity: 0.00},
				{Value: 0.15, Opacity: 0.00},
				{Value: 0.30, Opacity: 0.08},
				{Value: 0.50, Opacity: 0.35},
				{Value: 1.00, Opacity: 0.60},
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown transfer function preset %q", name)
	}
}

// PresetNames lists the built-in presets in a stable order.
func PresetNames() []string {
	return []string{PresetBone, PresetSoftTissue}
}
