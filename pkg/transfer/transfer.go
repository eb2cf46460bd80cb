// Package transfer implements transfer functions: mappings from
// windowed scalar intensity to color and opacity, authored as sparse
// control points and baked into a dense lookup table that the renderer
// samples per ray step.
package transfer

import (
	"fmt"
	"math"
)

// LUTSize is the fixed resolution of every baked lookup table. The
// table always has exactly this many entries regardless of how many
// control points the transfer function was authored with.
const LUTSize = 256

// ColorPoint maps a normalized intensity to an RGB color. Components
// are in [0,1].
type ColorPoint struct {
	Value float64
	R     float64
	G     float64
	B     float64
}

// OpacityPoint maps a normalized intensity to an opacity in [0,1].
type OpacityPoint struct {
	Value   float64
	Opacity float64
}

// TransferFunction is the authored form of an intensity-to-color
// mapping. Color and opacity control points are independent lists and
// need not share breakpoints; each list must be strictly increasing by
// value. The engine bakes a TransferFunction into an immutable LUT on
// creation; editing means authoring a new one and re-baking, never
// mutating a baked table in place.
type TransferFunction struct {
	// ID is an optional caller-supplied label for diagnostics.
	ID string

	// Name is a human-readable description shown in preset pickers.
	Name string

	// ColorPoints and OpacityPoints are the sparse control points.
	ColorPoints   []ColorPoint
	OpacityPoints []OpacityPoint

	// Preset names the built-in medical preset this function was seeded
	// from, if any.
	Preset string
}

// Validate checks the control point invariants before baking.
func (tf *TransferFunction) Validate() error {
	if len(tf.ColorPoints) == 0 {
		return fmt.Errorf("transfer function %q has no color control points", tf.Name)
	}
	if len(tf.OpacityPoints) == 0 {
		return fmt.Errorf("transfer function %q has no opacity control points", tf.Name)
	}
	prev := math.Inf(-1)
	for i, p := range tf.ColorPoints {
		if p.Value < 0 || p.Value > 1 {
			return fmt.Errorf("color point %d value %g outside [0,1]", i, p.Value)
		}
		if p.Value <= prev {
			return fmt.Errorf("color point values must be strictly increasing, point %d value %g follows %g", i, p.Value, prev)
		}
		prev = p.Value
	}
	prev = math.Inf(-1)
	for i, p := range tf.OpacityPoints {
		if p.Value < 0 || p.Value > 1 {
			return fmt.Errorf("opacity point %d value %g outside [0,1]", i, p.Value)
		}
		if p.Opacity < 0 || p.Opacity > 1 {
			return fmt.Errorf("opacity point %d opacity %g outside [0,1]", i, p.Opacity)
		}
		if p.Value <= prev {
			return fmt.Errorf("opacity point values must be strictly increasing, point %d value %g follows %g", i, p.Value, prev)
		}
		prev = p.Value
	}
	return nil
}

// LUT is a baked, immutable 256-entry RGBA lookup table.
type LUT struct {
	table [LUTSize][4]float64
}

// Bake resolves the sparse control points into a dense LUT. For each
// output texel at normalized value t = i/255 the bracketing control
// point interval is located and the color (resp. opacity) is linearly
// interpolated component-wise. Values of t outside the range covered by
// the control points clamp to the nearest endpoint's color/opacity;
// this policy is applied explicitly rather than left to fall through an
// interval search with an undefined default.
func Bake(tf *TransferFunction) (*LUT, error) {
	if err := tf.Validate(); err != nil {
		return nil, fmt.Errorf("bake transfer function: %w", err)
	}

	lut := &LUT{}
	for i := 0; i < LUTSize; i++ {
		t := float64(i) / float64(LUTSize-1)
		r, g, b := sampleColor(tf.ColorPoints, t)
		a := sampleOpacity(tf.OpacityPoints, t)
		lut.table[i] = [4]float64{r, g, b, a}
	}
	return lut, nil
}

func sampleColor(points []ColorPoint, t float64) (r, g, b float64) {
	first, last := points[0], points[len(points)-1]
	if t <= first.Value {
		return first.R, first.G, first.B
	}
	if t >= last.Value {
		return last.R, last.G, last.B
	}
	for k := 0; k < len(points)-1; k++ {
		p0, p1 := points[k], points[k+1]
		if t >= p0.Value && t <= p1.Value {
			f := (t - p0.Value) / (p1.Value - p0.Value)
			return p0.R + (p1.R-p0.R)*f,
				p0.G + (p1.G-p0.G)*f,
				p0.B + (p1.B-p0.B)*f
		}
	}
	// Unreachable given the clamps above, but keep the endpoint rather
	// than an undefined default.
	return last.R, last.G, last.B
}

func sampleOpacity(points []OpacityPoint, t float64) float64 {
	first, last := points[0], points[len(points)-1]
	if t <= first.Value {
		return first.Opacity
	}
	if t >= last.Value {
		return last.Opacity
	}
	for k := 0; k < len(points)-1; k++ {
		p0, p1 := points[k], points[k+1]
		if t >= p0.Value && t <= p1.Value {
			f := (t - p0.Value) / (p1.Value - p0.Value)
			return p0.Opacity + (p1.Opacity-p0.Opacity)*f
		}
	}
	return last.Opacity
}

// At samples the baked table at a normalized intensity with linear
// interpolation between adjacent entries, matching a linearly filtered
// 1D texture lookup. The input is clamped to [0,1].
func (l *LUT) At(t float64) (r, g, b, a float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	f := t * float64(LUTSize-1)
	i0 := int(f)
	if i0 >= LUTSize-1 {
		e := l.table[LUTSize-1]
		return e[0], e[1], e[2], e[3]
	}
	frac := f - float64(i0)
	e0, e1 := l.table[i0], l.table[i0+1]
	return e0[0] + (e1[0]-e0[0])*frac,
		e0[1] + (e1[1]-e0[1])*frac,
		e0[2] + (e1[2]-e0[2])*frac,
		e0[3] + (e1[3]-e0[3])*frac
}

// Entry returns the raw table entry at an index, for tests and for
// exact texel-level comparisons.
func (l *LUT) Entry(i int) [4]float64 {
	return l.table[i]
}

// Len returns the number of entries in the table.
func (l *LUT) Len() int {
	return LUTSize
}

// Bytes flattens the table into RGBA8 texel data for GPU upload.
func (l *LUT) Bytes() []byte {
	out := make([]byte, LUTSize*4)
	for i, e := range l.table {
		for c := 0; c < 4; c++ {
			v := e[c]
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			out[i*4+c] = byte(v*255 + 0.5)
		}
	}
	return out
}
