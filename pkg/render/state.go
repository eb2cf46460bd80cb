// Package render implements the volumetric rendering engine: resource
// management for uploaded volumes and transfer functions, the
// per-frame rendering state, and the ray-march algorithm executed by
// the active backend.
package render

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// RenderMode selects the per-ray algorithm for one Render call. The
// four modes are mutually exclusive; only the GPU uniform boundary sees
// the raw integer code.
type RenderMode int

const (
	// ModeDVR is direct volume rendering: front-to-back alpha
	// compositing of transfer-function-colored samples.
	ModeDVR RenderMode = iota

	// ModeMIP displays the maximum windowed intensity along each ray.
	ModeMIP

	// ModeMinIP displays the minimum windowed intensity along each ray.
	ModeMinIP

	// ModeIsosurface shades the first crossing of the iso threshold.
	ModeIsosurface
)

// String returns the canonical lower-case mode name.
func (m RenderMode) String() string {
	switch m {
	case ModeDVR:
		return "dvr"
	case ModeMIP:
		return "mip"
	case ModeMinIP:
		return "minip"
	case ModeIsosurface:
		return "isosurface"
	default:
		return fmt.Sprintf("RenderMode(%d)", int(m))
	}
}

// ParseRenderMode maps a mode name from config or CLI flags.
func ParseRenderMode(name string) (RenderMode, error) {
	switch name {
	case "dvr":
		return ModeDVR, nil
	case "mip":
		return ModeMIP, nil
	case "minip":
		return ModeMinIP, nil
	case "isosurface":
		return ModeIsosurface, nil
	default:
		return 0, fmt.Errorf("unknown render mode %q", name)
	}
}

// QualityLevel is a named trade-off between render speed and sampling
// density.
type QualityLevel int

const (
	QualityDraft QualityLevel = iota
	QualityStandard
	QualityHigh
	QualityUltra
)

// String returns the canonical lower-case level name.
func (q QualityLevel) String() string {
	switch q {
	case QualityDraft:
		return "draft"
	case QualityStandard:
		return "standard"
	case QualityHigh:
		return "high"
	case QualityUltra:
		return "ultra"
	default:
		return fmt.Sprintf("QualityLevel(%d)", int(q))
	}
}

// ParseQualityLevel maps a level name from config or CLI flags.
func ParseQualityLevel(name string) (QualityLevel, error) {
	switch name {
	case "draft":
		return QualityDraft, nil
	case "standard":
		return QualityStandard, nil
	case "high":
		return QualityHigh, nil
	case "ultra":
		return QualityUltra, nil
	default:
		return 0, fmt.Errorf("unknown quality level %q", name)
	}
}

// Sampling returns the deterministic (stepSize, maxSteps) pair for a
// quality level. Step sizes are expressed in units of the volume's
// largest physical extent, so a full traversal of the volume at
// standard quality takes on the order of a hundred steps regardless of
// the scan's physical size.
func (q QualityLevel) Sampling() (stepSize float64, maxSteps int, err error) {
	switch q {
	case QualityDraft:
		return 0.02, 256, nil
	case QualityStandard:
		return 0.015, 384, nil
	case QualityHigh:
		return 0.01, 512, nil
	case QualityUltra:
		return 0.005, 1024, nil
	default:
		return 0, 0, fmt.Errorf("unknown quality level %d", int(q))
	}
}

// ClippingPlane cuts away the half-space behind it. A world point is
// clipped when dot(point, normal) + distance < 0 for any enabled plane.
type ClippingPlane struct {
	// Normal is the unit plane normal.
	Normal mgl64.Vec3

	// Distance is the signed distance term of the plane equation.
	Distance float64

	// Enabled toggles the plane without removing it from the state.
	Enabled bool
}

// Clips reports whether the plane rejects a world-space point.
func (p ClippingPlane) Clips(point mgl64.Vec3) bool {
	return p.Enabled && point.Dot(p.Normal)+p.Distance < 0
}

// RenderingState holds every per-frame parameter of the ray march. It
// is mutated only through Merge and never shared by reference with
// callers; the engine hands out and accepts copies.
type RenderingState struct {
	// ViewMatrix and ProjectionMatrix define the camera.
	ViewMatrix       mgl64.Mat4
	ProjectionMatrix mgl64.Mat4

	// VolumeToWorld places the volume's physical bounding box in world
	// space.
	VolumeToWorld mgl64.Mat4

	// LightDirection points from the scene toward the light source.
	LightDirection mgl64.Vec3

	// LightColor is the directional light's RGB intensity.
	LightColor mgl64.Vec3

	// AmbientStrength is the ambient term of the Phong model.
	AmbientStrength float64

	// StepSize is the march increment in units of the volume's largest
	// physical extent; MaxSteps caps the iterations per ray.
	StepSize float64
	MaxSteps int

	// IsoValue is the windowed-intensity threshold for isosurface mode.
	IsoValue float64

	// ClippingEnabled gates the clipping planes as a group.
	ClippingEnabled bool
	ClippingPlanes  []ClippingPlane

	// ShadingEnabled turns on gradient-based Phong shading; it also
	// controls whether gradients are precomputed at volume load.
	ShadingEnabled bool

	// AdaptiveSampling shrinks the step size in high-gradient regions.
	AdaptiveSampling bool
}

// DefaultState returns the initial rendering state: identity
// transforms, a headlight-style directional light, and standard
// quality sampling.
func DefaultState() RenderingState {
	step, maxSteps, _ := QualityStandard.Sampling()
	return RenderingState{
		ViewMatrix:       mgl64.Ident4(),
		ProjectionMatrix: mgl64.Ident4(),
		VolumeToWorld:    mgl64.Ident4(),
		LightDirection:   mgl64.Vec3{0.5, 0.7, 1}.Normalize(),
		LightColor:       mgl64.Vec3{1, 1, 1},
		AmbientStrength:  0.25,
		StepSize:         step,
		MaxSteps:         maxSteps,
		IsoValue:         0.5,
		ShadingEnabled:   true,
	}
}

// Clone returns a deep copy; the clipping plane slice is duplicated so
// the copy shares no mutable storage with the original.
func (s RenderingState) Clone() RenderingState {
	c := s
	if s.ClippingPlanes != nil {
		c.ClippingPlanes = make([]ClippingPlane, len(s.ClippingPlanes))
		copy(c.ClippingPlanes, s.ClippingPlanes)
	}
	return c
}

// StateDelta is a partial rendering state for UpdateRenderingState.
// Nil fields leave the corresponding state field untouched; a non-nil
// ClippingPlanes replaces the whole plane list.
type StateDelta struct {
	ViewMatrix       *mgl64.Mat4
	ProjectionMatrix *mgl64.Mat4
	VolumeToWorld    *mgl64.Mat4
	LightDirection   *mgl64.Vec3
	LightColor       *mgl64.Vec3
	AmbientStrength  *float64
	StepSize         *float64
	MaxSteps         *int
	IsoValue         *float64
	ClippingEnabled  *bool
	ClippingPlanes   []ClippingPlane
	ShadingEnabled   *bool
	AdaptiveSampling *bool
}

// Merge applies a shallow field-wise merge: every non-nil delta field
// overwrites the current value, everything else keeps its prior value.
func (s *RenderingState) Merge(d StateDelta) {
	if d.ViewMatrix != nil {
		s.ViewMatrix = *d.ViewMatrix
	}
	if d.ProjectionMatrix != nil {
		s.ProjectionMatrix = *d.ProjectionMatrix
	}
	if d.VolumeToWorld != nil {
		s.VolumeToWorld = *d.VolumeToWorld
	}
	if d.LightDirection != nil {
		s.LightDirection = *d.LightDirection
	}
	if d.LightColor != nil {
		s.LightColor = *d.LightColor
	}
	if d.AmbientStrength != nil {
		s.AmbientStrength = *d.AmbientStrength
	}
	if d.StepSize != nil {
		s.StepSize = *d.StepSize
	}
	if d.MaxSteps != nil {
		s.MaxSteps = *d.MaxSteps
	}
	if d.IsoValue != nil {
		s.IsoValue = *d.IsoValue
	}
	if d.ClippingEnabled != nil {
		s.ClippingEnabled = *d.ClippingEnabled
	}
	if d.ClippingPlanes != nil {
		s.ClippingPlanes = make([]ClippingPlane, len(d.ClippingPlanes))
		copy(s.ClippingPlanes, d.ClippingPlanes)
	}
	if d.ShadingEnabled != nil {
		s.ShadingEnabled = *d.ShadingEnabled
	}
	if d.AdaptiveSampling != nil {
		s.AdaptiveSampling = *d.AdaptiveSampling
	}
}
