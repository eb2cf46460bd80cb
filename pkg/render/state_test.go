package render

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// TestQualitySampling verifies the deterministic quality preset table
func TestQualitySampling(t *testing.T) {
	cases := []struct {
		level    QualityLevel
		stepSize float64
		maxSteps int
	}{
		{QualityDraft, 0.02, 256},
		{QualityStandard, 0.015, 384},
		{QualityHigh, 0.01, 512},
		{QualityUltra, 0.005, 1024},
	}
	for _, c := range cases {
		step, maxSteps, err := c.level.Sampling()
		if err != nil {
			t.Errorf("Unexpected error for %v: %v", c.level, err)
			continue
		}
		if step != c.stepSize || maxSteps != c.maxSteps {
			t.Errorf("Expected %v sampling (%g, %d), got (%g, %d)",
				c.level, c.stepSize, c.maxSteps, step, maxSteps)
		}
	}

	if _, _, err := QualityLevel(99).Sampling(); err == nil {
		t.Error("Expected error for unknown quality level, got nil")
	}
}

// TestParseNames verifies the round trip between enum values and their
// config/CLI names
func TestParseNames(t *testing.T) {
	for _, m := range []RenderMode{ModeDVR, ModeMIP, ModeMinIP, ModeIsosurface} {
		parsed, err := ParseRenderMode(m.String())
		if err != nil {
			t.Errorf("Failed to parse mode name %q: %v", m.String(), err)
		}
		if parsed != m {
			t.Errorf("Expected mode %v from name %q, got %v", m, m.String(), parsed)
		}
	}
	if _, err := ParseRenderMode("raycast"); err == nil {
		t.Error("Expected error for unknown mode name, got nil")
	}

	for _, q := range []QualityLevel{QualityDraft, QualityStandard, QualityHigh, QualityUltra} {
		parsed, err := ParseQualityLevel(q.String())
		if err != nil {
			t.Errorf("Failed to parse quality name %q: %v", q.String(), err)
		}
		if parsed != q {
			t.Errorf("Expected quality %v from name %q, got %v", q, q.String(), parsed)
		}
	}
	if _, err := ParseQualityLevel("insane"); err == nil {
		t.Error("Expected error for unknown quality name, got nil")
	}
}

// TestClippingPlane verifies the half-space test and the enable toggle
func TestClippingPlane(t *testing.T) {
	// Plane x = 1 keeping the +x side: normal (1,0,0), distance -1
	p := ClippingPlane{Normal: mgl64.Vec3{1, 0, 0}, Distance: -1, Enabled: true}

	if !p.Clips(mgl64.Vec3{0, 5, 5}) {
		t.Error("Expected point behind the plane to be clipped")
	}
	if p.Clips(mgl64.Vec3{2, 5, 5}) {
		t.Error("Expected point in front of the plane to be kept")
	}
	// A point exactly on the plane is kept (strict inequality)
	if p.Clips(mgl64.Vec3{1, 0, 0}) {
		t.Error("Expected point on the plane to be kept")
	}

	p.Enabled = false
	if p.Clips(mgl64.Vec3{0, 5, 5}) {
		t.Error("Expected disabled plane to clip nothing")
	}
}

// TestDefaultState verifies the documented initial values
func TestDefaultState(t *testing.T) {
	s := DefaultState()

	step, maxSteps, _ := QualityStandard.Sampling()
	if s.StepSize != step || s.MaxSteps != maxSteps {
		t.Errorf("Expected default sampling (%g, %d), got (%g, %d)", step, maxSteps, s.StepSize, s.MaxSteps)
	}
	if s.ViewMatrix != mgl64.Ident4() || s.ProjectionMatrix != mgl64.Ident4() {
		t.Error("Expected identity camera matrices in default state")
	}
	if d := s.LightDirection.Len(); d < 0.999 || d > 1.001 {
		t.Errorf("Expected normalized default light direction, got length %g", d)
	}
	if s.IsoValue != 0.5 {
		t.Errorf("Expected default iso value 0.5, got %g", s.IsoValue)
	}
	if !s.ShadingEnabled {
		t.Error("Expected shading enabled by default")
	}
	if s.ClippingEnabled || len(s.ClippingPlanes) != 0 {
		t.Error("Expected no clipping in default state")
	}
}

// TestMerge verifies that only non-nil delta fields overwrite state
func TestMerge(t *testing.T) {
	s := DefaultState()
	prevLight := s.LightDirection

	iso := 0.75
	steps := 100
	s.Merge(StateDelta{IsoValue: &iso, MaxSteps: &steps})

	if s.IsoValue != 0.75 {
		t.Errorf("Expected merged iso value 0.75, got %g", s.IsoValue)
	}
	if s.MaxSteps != 100 {
		t.Errorf("Expected merged max steps 100, got %d", s.MaxSteps)
	}
	if s.LightDirection != prevLight {
		t.Error("Expected untouched fields to keep their prior values")
	}

	// A non-nil plane list replaces the whole list
	planes := []ClippingPlane{{Normal: mgl64.Vec3{0, 1, 0}, Enabled: true}}
	s.Merge(StateDelta{ClippingPlanes: planes})
	if len(s.ClippingPlanes) != 1 {
		t.Fatalf("Expected 1 clipping plane after merge, got %d", len(s.ClippingPlanes))
	}

	// The merged list is a copy, not an alias of the caller's slice
	planes[0].Enabled = false
	if !s.ClippingPlanes[0].Enabled {
		t.Error("Expected merged plane list to be independent of the caller's slice")
	}
}

// TestClone verifies the deep copy of the clipping plane list
func TestClone(t *testing.T) {
	s := DefaultState()
	s.ClippingPlanes = []ClippingPlane{{Normal: mgl64.Vec3{1, 0, 0}, Distance: -2, Enabled: true}}

	c := s.Clone()
	c.ClippingPlanes[0].Distance = 99

	if s.ClippingPlanes[0].Distance != -2 {
		t.Error("Expected clone to own its plane list, original was mutated")
	}
}
