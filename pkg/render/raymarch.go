package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// Per-sample thresholds of the march. opacityEpsilon skips compositing
// of effectively transparent samples; gradientEpsilon marks homogeneous
// tissue where shading is visually meaningless; earlyExitAlpha is the
// accumulated opacity at which a DVR ray is visually opaque and
// terminates early; isoEpsilon is the windowed-intensity tolerance of
// the isosurface hit test.
const (
	opacityEpsilon  = 0.01
	gradientEpsilon = 0.1
	earlyExitAlpha  = 0.95
	isoEpsilon      = 0.01
	specularPower   = 32.0
	specularGain    = 0.3
)

// marcher carries the per-frame constants of the ray march so the
// per-pixel loop touches no shared mutable state. One marcher serves
// all worker goroutines of a frame.
type marcher struct {
	vol  *volume.VolumeData
	grad *volume.GradientField
	lut  *transfer.LUT

	state RenderingState
	mode  RenderMode
	cam   frameCamera

	boxMin mgl64.Vec3
	boxMax mgl64.Vec3
	extent mgl64.Vec3

	// worldStep is the march increment in volume units: the state's
	// normalized step size scaled by the largest box extent.
	worldStep float64
}

func newMarcher(vol *volume.VolumeData, grad *volume.GradientField, lut *transfer.LUT, state RenderingState, mode RenderMode, width, height int) *marcher {
	boxMin := vol.BoundsMin()
	boxMax := vol.BoundsMax()
	extent := boxMax.Sub(boxMin)
	maxExtent := math.Max(extent.X(), math.Max(extent.Y(), extent.Z()))

	return &marcher{
		vol:       vol,
		grad:      grad,
		lut:       lut,
		state:     state,
		mode:      mode,
		cam:       newFrameCamera(&state, width, height),
		boxMin:    boxMin,
		boxMax:    boxMax,
		extent:    extent,
		worldStep: state.StepSize * maxExtent,
	}
}

// renderPixel marches the ray through pixel (x, y) and returns the
// final straight-alpha color. Rays that miss the volume return fully
// transparent black; that is the expected case for most of the frame
// border, not an error.
func (m *marcher) renderPixel(x, y int) (r, g, b, a float64) {
	ry := m.cam.rayThrough(x, y)

	tNear, tFar, hit := rayBoxIntersection(ry, m.boxMin, m.boxMax)
	if !hit {
		return 0, 0, 0, 0
	}
	// Camera inside the volume: start at the eye, not behind it.
	if tNear < 0 {
		tNear = 0
	}

	var accumR, accumG, accumB, accumA float64
	maxWindowed := 0.0
	minWindowed := 1.0
	sampled := false

	t := tNear
	for step := 0; step < m.state.MaxSteps && t < tFar; step++ {
		pos := ry.origin.Add(ry.dir.Mul(t))
		advance := m.worldStep

		// Normalized volume coordinates; samples that land outside the
		// unit cube are skipped, not clamped into it.
		norm := mgl64.Vec3{
			(pos.X() - m.boxMin.X()) / m.extent.X(),
			(pos.Y() - m.boxMin.Y()) / m.extent.Y(),
			(pos.Z() - m.boxMin.Z()) / m.extent.Z(),
		}
		if norm.X() < 0 || norm.X() > 1 || norm.Y() < 0 || norm.Y() > 1 || norm.Z() < 0 || norm.Z() > 1 {
			t += advance
			continue
		}

		if m.state.ClippingEnabled && m.clipped(pos) {
			t += advance
			continue
		}

		// Medical windowing: calibrate the raw sample, then map the
		// display window onto [0,1]. Monotonic non-decreasing in the
		// raw sample for fixed calibration.
		raw := m.vol.SampleNormalized(norm)
		windowed := windowedIntensity(raw, m.vol.RescaleSlope, m.vol.RescaleIntercept, m.vol.WindowLevel, m.vol.WindowWidth)
		sampled = true

		var gradVec mgl64.Vec3
		gradMag := 0.0
		if m.grad != nil {
			gradVec = m.grad.SampleNormalized(norm)
			gradMag = gradVec.Len()
		}

		if m.state.AdaptiveSampling {
			// Shrink toward half steps at edges, relax to full steps in
			// homogeneous regions.
			f := 0.5 + 0.5/(1+10*gradMag)
			advance = m.worldStep * f
		}

		switch m.mode {
		case ModeDVR:
			cr, cg, cb, opacity := m.lut.At(windowed)
			if opacity > opacityEpsilon {
				if m.state.ShadingEnabled && gradMag > gradientEpsilon {
					cr, cg, cb = m.shade(cr, cg, cb, gradVec.Mul(1/gradMag), ry.dir)
				}
				aPrime := opacity * (1 - accumA)
				accumR += cr * aPrime
				accumG += cg * aPrime
				accumB += cb * aPrime
				accumA += aPrime
				if accumA >= earlyExitAlpha {
					return unpremultiply(accumR, accumG, accumB, accumA)
				}
			}

		case ModeMIP:
			if windowed > maxWindowed {
				maxWindowed = windowed
			}

		case ModeMinIP:
			if windowed < minWindowed {
				minWindowed = windowed
			}

		case ModeIsosurface:
			if math.Abs(windowed-m.state.IsoValue) < isoEpsilon && gradMag > gradientEpsilon {
				cr, cg, cb, _ := m.lut.At(windowed)
				cr, cg, cb = m.shade(cr, cg, cb, gradVec.Mul(1/gradMag), ry.dir)
				return clamp01(cr), clamp01(cg), clamp01(cb), 1
			}
		}

		t += advance
	}

	switch m.mode {
	case ModeMIP:
		if !sampled {
			return 0, 0, 0, 0
		}
		cr, cg, cb, _ := m.lut.At(maxWindowed)
		return cr, cg, cb, 1

	case ModeMinIP:
		if !sampled {
			return 0, 0, 0, 0
		}
		cr, cg, cb, _ := m.lut.At(minWindowed)
		return cr, cg, cb, 1

	case ModeIsosurface:
		return 0, 0, 0, 0

	default:
		return unpremultiply(accumR, accumG, accumB, accumA)
	}
}

// unpremultiply converts front-to-back composited color, which is
// alpha-premultiplied by construction, into the straight-alpha form
// the framebuffer stores. Shaded samples can exceed unit brightness,
// so channels may come out above 1; the framebuffer clamps on write.
func unpremultiply(r, g, b, a float64) (float64, float64, float64, float64) {
	if a <= 0 {
		return 0, 0, 0, 0
	}
	return r / a, g / a, b / a, a
}

// clipped reports whether any enabled clipping plane rejects the
// world-space image of a volume-space sample position.
func (m *marcher) clipped(pos mgl64.Vec3) bool {
	world := m.cam.toWorld(pos)
	for i := range m.state.ClippingPlanes {
		if m.state.ClippingPlanes[i].Clips(world) {
			return true
		}
	}
	return false
}

// shade applies Phong lighting (ambient + diffuse + specular, one
// directional light) to a sample color using the decoded, renormalized
// gradient as the surface normal.
func (m *marcher) shade(r, g, b float64, normal, rayDir mgl64.Vec3) (float64, float64, float64) {
	// Face the normal toward the viewer; gradients point from low to
	// high density, which can be either side of a boundary.
	if normal.Dot(rayDir) > 0 {
		normal = normal.Mul(-1)
	}

	light := m.state.LightDirection
	if l := light.Len(); l > 0 {
		light = light.Mul(1 / l)
	}
	viewDir := rayDir.Mul(-1)

	diffuse := math.Max(normal.Dot(light), 0)

	halfway := light.Add(viewDir)
	specular := 0.0
	if hl := halfway.Len(); hl > 0 {
		specular = specularGain * math.Pow(math.Max(normal.Dot(halfway.Mul(1/hl)), 0), specularPower)
	}

	ambient := m.state.AmbientStrength
	lc := m.state.LightColor

	return r*ambient + r*diffuse*lc.X() + specular*lc.X(),
		g*ambient + g*diffuse*lc.Y() + specular*lc.Y(),
		b*ambient + b*diffuse*lc.Z() + specular*lc.Z()
}

// windowedIntensity calibrates a raw sample into clinical units and
// maps the display window onto [0,1]:
//
//	calibrated = raw*slope + intercept
//	windowed   = clamp((calibrated - (level - width/2)) / width, 0, 1)
//
// For slope > 0 and width > 0 the result is monotonic non-decreasing in
// the raw sample.
func windowedIntensity(raw, slope, intercept, level, width float64) float64 {
	calibrated := raw*slope + intercept
	return clamp01((calibrated - (level - width/2)) / width)
}
