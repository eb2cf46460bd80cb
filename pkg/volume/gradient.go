package volume

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// GradientField is a precomputed per-voxel gradient of a scalar volume,
// estimated by central differences on normalized samples. It is built
// once per loaded volume (not per frame) and uploaded as an auxiliary
// 3D texture when shading is enabled, trading memory for per-sample
// performance during the ray march.
//
// Components are remapped from [-1,1] to [0,1] for storage so the field
// can live in an unsigned normalized texture; DecodeAt undoes the
// remap and the renderer renormalizes the vector for lighting.
type GradientField struct {
	// Dims matches the source volume's voxel grid.
	Dims [3]int

	// Data holds three encoded components per voxel, x-fastest order.
	Data []float32
}

// ComputeGradients estimates the gradient field of a volume. For each
// voxel the per-axis central difference is
//
//	g.x = V(x+1,y,z) - V(x-1,y,z)
//
// and symmetrically for y and z, where V is the sample normalized into
// [0,1]. Boundary voxels clamp to the nearest valid neighbor instead of
// wrapping, so the estimate degrades to a one-sided difference at the
// faces rather than picking up values from the opposite side of the
// scan.
func ComputeGradients(v *VolumeData) *GradientField {
	lo, hi := v.NativeRange()
	g := &GradientField{
		Dims: v.Dims,
		Data: make([]float32, v.VoxelCount()*3),
	}

	idx := 0
	for z := 0; z < v.Dims[2]; z++ {
		for y := 0; y < v.Dims[1]; y++ {
			for x := 0; x < v.Dims[0]; x++ {
				gx := v.NormalizedAt(x+1, y, z, lo, hi) - v.NormalizedAt(x-1, y, z, lo, hi)
				gy := v.NormalizedAt(x, y+1, z, lo, hi) - v.NormalizedAt(x, y-1, z, lo, hi)
				gz := v.NormalizedAt(x, y, z+1, lo, hi) - v.NormalizedAt(x, y, z-1, lo, hi)

				g.Data[idx+0] = encodeComponent(gx)
				g.Data[idx+1] = encodeComponent(gy)
				g.Data[idx+2] = encodeComponent(gz)
				idx += 3
			}
		}
	}
	return g
}

// DecodeAt returns the decoded gradient vector at integer voxel
// coordinates, with components back in [-1,1]. Out-of-range coordinates
// clamp to the boundary, consistent with the source volume addressing.
func (g *GradientField) DecodeAt(x, y, z int) mgl64.Vec3 {
	x = clampInt(x, 0, g.Dims[0]-1)
	y = clampInt(y, 0, g.Dims[1]-1)
	z = clampInt(z, 0, g.Dims[2]-1)
	idx := ((z*g.Dims[1]+y)*g.Dims[0] + x) * 3
	return mgl64.Vec3{
		decodeComponent(g.Data[idx+0]),
		decodeComponent(g.Data[idx+1]),
		decodeComponent(g.Data[idx+2]),
	}
}

// SampleNormalized returns the trilinearly interpolated decoded
// gradient at normalized volume coordinates in [0,1]^3.
func (g *GradientField) SampleNormalized(p mgl64.Vec3) mgl64.Vec3 {
	fx := p.X() * float64(g.Dims[0]-1)
	fy := p.Y() * float64(g.Dims[1]-1)
	fz := p.Z() * float64(g.Dims[2]-1)

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	z0 := int(math.Floor(fz))
	tx := fx - float64(x0)
	ty := fy - float64(y0)
	tz := fz - float64(z0)

	c00 := g.DecodeAt(x0, y0, z0).Mul(1 - tx).Add(g.DecodeAt(x0+1, y0, z0).Mul(tx))
	c10 := g.DecodeAt(x0, y0+1, z0).Mul(1 - tx).Add(g.DecodeAt(x0+1, y0+1, z0).Mul(tx))
	c01 := g.DecodeAt(x0, y0, z0+1).Mul(1 - tx).Add(g.DecodeAt(x0+1, y0, z0+1).Mul(tx))
	c11 := g.DecodeAt(x0, y0+1, z0+1).Mul(1 - tx).Add(g.DecodeAt(x0+1, y0+1, z0+1).Mul(tx))

	c0 := c00.Mul(1 - ty).Add(c10.Mul(ty))
	c1 := c01.Mul(1 - ty).Add(c11.Mul(ty))

	return c0.Mul(1 - tz).Add(c1.Mul(tz))
}

// SizeBytes returns the storage footprint of the encoded field.
func (g *GradientField) SizeBytes() int {
	return len(g.Data) * 4
}

func encodeComponent(c float64) float32 {
	if c < -1 {
		c = -1
	}
	if c > 1 {
		c = 1
	}
	return float32((c + 1) * 0.5)
}

func decodeComponent(c float32) float64 {
	return float64(c)*2 - 1
}
