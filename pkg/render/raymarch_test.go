package render

import (
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// newTestVolume builds a uint8 volume with unit spacing where every
// voxel value is produced by fill(x, y, z).
func newTestVolume(dx, dy, dz int, level, width float64, fill func(x, y, z int) uint8) *volume.VolumeData {
	data := make([]byte, dx*dy*dz)
	i := 0
	for z := 0; z < dz; z++ {
		for y := 0; y < dy; y++ {
			for x := 0; x < dx; x++ {
				data[i] = fill(x, y, z)
				i++
			}
		}
	}
	return &volume.VolumeData{
		Dims:         [3]int{dx, dy, dz},
		Spacing:      [3]float64{1, 1, 1},
		Data:         data,
		SampleType:   volume.Uint8,
		WindowLevel:  level,
		WindowWidth:  width,
		RescaleSlope: 1,
	}
}

// grayscaleLUT bakes a black-to-white ramp with a steep opacity ramp at
// the top of the windowed range.
func grayscaleLUT(t *testing.T) *transfer.LUT {
	t.Helper()
	lut, err := transfer.Bake(&transfer.TransferFunction{
		Name: "grayscale",
		ColorPoints: []transfer.ColorPoint{
			{Value: 0, R: 0, G: 0, B: 0},
			{Value: 1, R: 1, G: 1, B: 1},
		},
		OpacityPoints: []transfer.OpacityPoint{
			{Value: 0, Opacity: 0},
			{Value: 0.9, Opacity: 0},
			{Value: 1, Opacity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Failed to bake grayscale LUT: %v", err)
	}
	return lut
}

// lookAtState returns a state with a perspective camera at eye aimed at
// center.
func lookAtState(eye, center mgl64.Vec3) RenderingState {
	s := DefaultState()
	s.ViewMatrix = mgl64.LookAtV(eye, center, mgl64.Vec3{0, 1, 0})
	s.ProjectionMatrix = mgl64.Perspective(mgl64.DegToRad(45), 1, 0.1, 1000)
	return s
}

// TestWindowedIntensity verifies the calibrated windowing transform
func TestWindowedIntensity(t *testing.T) {
	// Level 100, width 200: the window spans calibrated [0, 200]
	if got := windowedIntensity(0, 1, 0, 100, 200); got != 0 {
		t.Errorf("Expected windowed 0 at the window floor, got %g", got)
	}
	if got := windowedIntensity(100, 1, 0, 100, 200); got != 0.5 {
		t.Errorf("Expected windowed 0.5 at the level, got %g", got)
	}
	if got := windowedIntensity(200, 1, 0, 100, 200); got != 1 {
		t.Errorf("Expected windowed 1 at the window ceiling, got %g", got)
	}

	// Values outside the window clamp
	if got := windowedIntensity(-500, 1, 0, 100, 200); got != 0 {
		t.Errorf("Expected clamp to 0 below the window, got %g", got)
	}
	if got := windowedIntensity(5000, 1, 0, 100, 200); got != 1 {
		t.Errorf("Expected clamp to 1 above the window, got %g", got)
	}

	// Rescale applies before windowing: raw 600 at slope 2, intercept
	// -1000 is calibrated 200
	if got := windowedIntensity(600, 2, -1000, 100, 200); got != 1 {
		t.Errorf("Expected calibrated windowed 1, got %g", got)
	}
}

// TestWindowedIntensityMonotonic verifies monotonicity in the raw
// sample for fixed calibration, the invariant the whole display
// pipeline rests on
func TestWindowedIntensityMonotonic(t *testing.T) {
	prev := -1.0
	for raw := -100.0; raw <= 400; raw += 7 {
		w := windowedIntensity(raw, 1.5, -50, 120, 180)
		if w < prev {
			t.Fatalf("Windowed intensity decreased from %g to %g at raw %g", prev, w, raw)
		}
		if w < 0 || w > 1 {
			t.Fatalf("Windowed intensity %g outside [0,1] at raw %g", w, raw)
		}
		prev = w
	}
}

// TestRenderPixelDVRCube verifies compositing against a bright cube in
// an empty volume: rays through the cube go opaque, rays beside it stay
// fully transparent
func TestRenderPixelDVRCube(t *testing.T) {
	// 32^3 volume with a bright 8^3 cube at the center; window [0,200]
	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if x >= 12 && x < 20 && y >= 12 && y < 20 && z >= 12 && z < 20 {
			return 200
		}
		return 0
	})
	grad := volume.ComputeGradients(vol)
	lut := grayscaleLUT(t)

	state := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	m := newMarcher(vol, grad, lut, state, ModeDVR, 33, 33)

	// Center pixel: straight through the cube, composites to opaque
	_, _, _, a := m.renderPixel(16, 16)
	if a < earlyExitAlpha {
		t.Errorf("Expected opaque center pixel, got alpha %g", a)
	}
	if a > 1 {
		t.Errorf("Accumulated alpha exceeded 1: %g", a)
	}

	// A pixel beside the cube but still inside the volume: all samples
	// window to 0, alpha stays 0
	_, _, _, a = m.renderPixel(20, 16)
	if a != 0 {
		t.Errorf("Expected transparent pixel beside the cube, got alpha %g", a)
	}

	// Far corner pixel: the ray misses the volume entirely
	r, g, b, a := m.renderPixel(0, 0)
	if r != 0 || g != 0 || b != 0 || a != 0 {
		t.Errorf("Expected transparent black on miss, got (%g, %g, %g, %g)", r, g, b, a)
	}
}

// TestRenderPixelDVRStraightAlpha verifies that semi-transparent DVR
// output is straight alpha: a ray that composites white samples to a
// partial alpha must still report full-brightness white, so presenting
// it over black yields alpha-proportional gray rather than an
// alpha-squared falloff
func TestRenderPixelDVRStraightAlpha(t *testing.T) {
	// A thin bright slab so the ray only picks up a few low-opacity
	// samples and never reaches the early-exit threshold
	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if z >= 15 && z < 17 {
			return 200
		}
		return 0
	})
	lut, err := transfer.Bake(&transfer.TransferFunction{
		Name: "dilute-white",
		ColorPoints: []transfer.ColorPoint{
			{Value: 0, R: 1, G: 1, B: 1},
			{Value: 1, R: 1, G: 1, B: 1},
		},
		OpacityPoints: []transfer.OpacityPoint{
			{Value: 0, Opacity: 0},
			{Value: 0.9, Opacity: 0},
			{Value: 1, Opacity: 0.3},
		},
	})
	if err != nil {
		t.Fatalf("Failed to bake dilute white LUT: %v", err)
	}

	state := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	m := newMarcher(vol, nil, lut, state, ModeDVR, 33, 33)

	r, g, b, a := m.renderPixel(16, 16)
	if a <= 0 || a >= earlyExitAlpha {
		t.Fatalf("Expected intermediate alpha through the slab, got %g", a)
	}
	// Every contributing sample is pure white, so the un-premultiplied
	// color must be white regardless of how much alpha accumulated
	if r < 0.999 || g < 0.999 || b < 0.999 {
		t.Errorf("Expected straight-alpha white (1, 1, 1), got (%g, %g, %g)", r, g, b)
	}

	// Presenting over black keeps the alpha-weighted brightness
	fb := NewFramebuffer(1, 1)
	fb.set(0, 0, r, g, b, a)
	img := fb.ImageOver(color.RGBA{R: 0, G: 0, B: 0, A: 255})
	want := uint8(a*255 + 0.5)
	got := img.RGBAAt(0, 0).R
	if got < want-1 || got > want+1 {
		t.Errorf("Expected presented red ~%d from alpha %g over black, got %d", want, a, got)
	}
}

// TestRenderPixelMIP verifies that MIP keeps the maximum windowed
// intensity along the ray
func TestRenderPixelMIP(t *testing.T) {
	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if x >= 12 && x < 20 && y >= 12 && y < 20 && z >= 12 && z < 20 {
			return 200
		}
		return 0
	})
	lut := grayscaleLUT(t)

	state := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	state.ShadingEnabled = false
	m := newMarcher(vol, nil, lut, state, ModeMIP, 33, 33)

	// Through the cube the maximum windows to ~1, mapping to white
	r, _, _, a := m.renderPixel(16, 16)
	if a != 1 {
		t.Errorf("Expected opaque MIP pixel, got alpha %g", a)
	}
	if r < 0.9 {
		t.Errorf("Expected near-white MIP value through the cube, got r=%g", r)
	}

	// Beside the cube the maximum stays 0, mapping to black but still
	// opaque because the ray did traverse the volume
	r, _, _, a = m.renderPixel(20, 16)
	if a != 1 {
		t.Errorf("Expected opaque MIP pixel inside the volume, got alpha %g", a)
	}
	if r > 0.1 {
		t.Errorf("Expected near-black MIP value beside the cube, got r=%g", r)
	}

	// A miss stays transparent, distinguishing it from a black maximum
	if _, _, _, a = m.renderPixel(0, 0); a != 0 {
		t.Errorf("Expected transparent MIP miss, got alpha %g", a)
	}
}

// TestRenderPixelMinIP verifies that MinIP keeps the minimum windowed
// intensity along the ray
func TestRenderPixelMinIP(t *testing.T) {
	// Bright volume with a dark tunnel along z at the center
	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if x >= 14 && x < 18 && y >= 14 && y < 18 {
			return 0
		}
		return 200
	})
	lut := grayscaleLUT(t)

	state := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	state.ShadingEnabled = false
	m := newMarcher(vol, nil, lut, state, ModeMinIP, 33, 33)

	// Through the tunnel the minimum windows to 0
	r, _, _, a := m.renderPixel(16, 16)
	if a != 1 || r > 0.1 {
		t.Errorf("Expected dark opaque MinIP pixel through the tunnel, got (r=%g, a=%g)", r, a)
	}

	// Beside the tunnel every sample is bright
	r, _, _, _ = m.renderPixel(20, 16)
	if r < 0.8 {
		t.Errorf("Expected bright MinIP value beside the tunnel, got r=%g", r)
	}
}

// TestRenderPixelIsosurface verifies the threshold crossing test on a
// linear ramp, where the crossing position is known analytically
func TestRenderPixelIsosurface(t *testing.T) {
	// Raw values ramp 0..240 along x, so windowed intensity ramps 0..1
	// and crosses 0.5 at the volume's x midpoint. The per-voxel raw
	// slope of 16 keeps the gradient magnitude above the homogeneity
	// threshold.
	vol := newTestVolume(16, 16, 16, 120, 240, func(x, y, z int) uint8 {
		return uint8(x * 16)
	})
	grad := volume.ComputeGradients(vol)
	lut := grayscaleLUT(t)

	// March along +x with a fine step so a sample is guaranteed to land
	// within the iso tolerance band
	state := lookAtState(mgl64.Vec3{-50, 8, 8}, mgl64.Vec3{8, 8, 8})
	state.StepSize, state.MaxSteps, _ = QualityUltra.Sampling()
	state.IsoValue = 0.5
	m := newMarcher(vol, grad, lut, state, ModeIsosurface, 9, 9)

	_, _, _, a := m.renderPixel(4, 4)
	if a != 1 {
		t.Errorf("Expected opaque isosurface hit on the ramp, got alpha %g", a)
	}

	// An unreachable threshold produces no surface
	state.IsoValue = 2
	m = newMarcher(vol, grad, lut, state, ModeIsosurface, 9, 9)
	if _, _, _, a = m.renderPixel(4, 4); a != 0 {
		t.Errorf("Expected transparent pixel for unreachable iso value, got alpha %g", a)
	}

	// Without a gradient field there is no surface normal to test
	// against, so the crossing never registers
	state.IsoValue = 0.5
	m = newMarcher(vol, nil, lut, state, ModeIsosurface, 9, 9)
	if _, _, _, a = m.renderPixel(4, 4); a != 0 {
		t.Errorf("Expected no isosurface hit without gradients, got alpha %g", a)
	}
}

// TestRenderPixelClipping verifies that an enabled clipping plane
// removes the cube from the composite
func TestRenderPixelClipping(t *testing.T) {
	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if x >= 12 && x < 20 && y >= 12 && y < 20 && z >= 12 && z < 20 {
			return 200
		}
		return 0
	})
	grad := volume.ComputeGradients(vol)
	lut := grayscaleLUT(t)

	// Plane y = 24 keeping only the top of the volume: the cube
	// (y in [12,20)) falls entirely in the clipped half-space
	state := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	state.ClippingEnabled = true
	state.ClippingPlanes = []ClippingPlane{
		{Normal: mgl64.Vec3{0, 1, 0}, Distance: -24, Enabled: true},
	}
	m := newMarcher(vol, grad, lut, state, ModeDVR, 33, 33)

	if _, _, _, a := m.renderPixel(16, 16); a != 0 {
		t.Errorf("Expected clipped cube to leave the pixel transparent, got alpha %g", a)
	}

	// Same plane disabled: the cube renders
	state.ClippingPlanes[0].Enabled = false
	m = newMarcher(vol, grad, lut, state, ModeDVR, 33, 33)
	if _, _, _, a := m.renderPixel(16, 16); a < earlyExitAlpha {
		t.Errorf("Expected cube to render with plane disabled, got alpha %g", a)
	}
}

// TestShadeClampsAndLights verifies the Phong terms stay sane: a lit
// face is at least as bright as the ambient floor
func TestShadeClampsAndLights(t *testing.T) {
	state := DefaultState()
	state.LightDirection = mgl64.Vec3{0, 0, -1}
	vol := newTestVolume(4, 4, 4, 100, 200, func(x, y, z int) uint8 { return 0 })
	m := newMarcher(vol, nil, grayscaleLUT(t), state, ModeDVR, 8, 8)

	// Normal facing the light head-on: full diffuse on top of ambient
	rayDir := mgl64.Vec3{0, 0, 1}
	normal := mgl64.Vec3{0, 0, -1}
	r, _, _ := m.shade(1, 1, 1, normal, rayDir)
	if r < state.AmbientStrength+0.9 {
		t.Errorf("Expected fully lit face near ambient+diffuse, got %g", r)
	}

	// Normal perpendicular to the light: ambient only, no negative
	// diffuse leaking in
	sideLight := DefaultState()
	sideLight.LightDirection = mgl64.Vec3{1, 0, 0}
	m = newMarcher(vol, nil, grayscaleLUT(t), sideLight, ModeDVR, 8, 8)
	r, _, _ = m.shade(1, 1, 1, mgl64.Vec3{0, 0, -1}, rayDir)
	if r < sideLight.AmbientStrength-1e-9 {
		t.Errorf("Expected at least the ambient floor, got %g", r)
	}
}
