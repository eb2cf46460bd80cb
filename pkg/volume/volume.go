// Package volume defines the scalar-field data model consumed by the
// rendering engine: calibrated voxel buffers with DICOM-style metadata,
// trilinear sampling with clamp-to-edge addressing, and the precomputed
// gradient field used for shading.
package volume

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// SampleType identifies the scalar storage format of a voxel buffer.
type SampleType int

const (
	// Uint8 stores one unsigned byte per voxel.
	Uint8 SampleType = iota

	// Uint16 stores one little-endian unsigned 16-bit word per voxel.
	Uint16

	// Int16 stores one little-endian signed 16-bit word per voxel.
	// This is the common storage format for CT data.
	Int16

	// Float32 stores one little-endian IEEE-754 float per voxel.
	Float32
)

// BytesPerSample returns the storage size of a single voxel.
func (t SampleType) BytesPerSample() int {
	switch t {
	case Uint8:
		return 1
	case Uint16, Int16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// String returns the canonical lower-case name used in sidecar metadata.
func (t SampleType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleType(%d)", int(t))
	}
}

// ParseSampleType maps a sidecar metadata name to a SampleType.
func ParseSampleType(name string) (SampleType, error) {
	switch name {
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "int16":
		return Int16, nil
	case "float32":
		return Float32, nil
	default:
		return 0, fmt.Errorf("unknown sample type %q", name)
	}
}

// VolumeData is a calibrated scalar volume as produced by the ingestion
// pipeline. The engine takes exclusive ownership on load; callers refer
// to a loaded volume only by the opaque id returned by LoadVolumeData.
type VolumeData struct {
	// ID is an optional caller-supplied label carried through to
	// diagnostics. The engine's resource id is assigned on load.
	ID string

	// Dims holds the voxel counts along x, y, z. All must be positive.
	Dims [3]int

	// Spacing holds the physical size of one voxel along each axis,
	// in millimeters. All must be positive. Dims times Spacing defines
	// the physical bounding box used for ray/volume intersection.
	Spacing [3]float64

	// Origin is the physical position of the volume's minimum corner.
	Origin [3]float64

	// Data is the raw voxel buffer in x-fastest order. Its length must
	// equal Dims[0]*Dims[1]*Dims[2]*SampleType.BytesPerSample().
	Data []byte

	// SampleType declares how Data is interpreted.
	SampleType SampleType

	// Modality tags the acquisition type ("CT", "MR", "PT", ...).
	Modality string

	// WindowLevel and WindowWidth are the default display window in
	// calibrated units. WindowWidth must be positive.
	WindowLevel float64
	WindowWidth float64

	// RescaleSlope and RescaleIntercept map raw samples into calibrated
	// units (Hounsfield for CT): calibrated = raw*slope + intercept.
	RescaleSlope     float64
	RescaleIntercept float64

	// Metadata carries acquisition/study tags opaquely. The engine
	// never interprets it.
	Metadata map[string]string
}

// Validate checks the structural invariants of a volume before upload.
func (v *VolumeData) Validate() error {
	for axis, d := range v.Dims {
		if d <= 0 {
			return fmt.Errorf("volume dimension %d must be positive, got %d", axis, d)
		}
	}
	for axis, s := range v.Spacing {
		if s <= 0 {
			return fmt.Errorf("volume spacing %d must be positive, got %g", axis, s)
		}
	}
	bps := v.SampleType.BytesPerSample()
	if bps == 0 {
		return fmt.Errorf("invalid sample type %v", v.SampleType)
	}
	want := v.Dims[0] * v.Dims[1] * v.Dims[2] * bps
	if len(v.Data) != want {
		return fmt.Errorf("voxel buffer length %d does not match %dx%dx%d %s volume (want %d bytes)",
			len(v.Data), v.Dims[0], v.Dims[1], v.Dims[2], v.SampleType, want)
	}
	if v.WindowWidth <= 0 {
		return fmt.Errorf("window width must be positive, got %g", v.WindowWidth)
	}
	return nil
}

// VoxelCount returns the total number of voxels.
func (v *VolumeData) VoxelCount() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// SizeBytes returns the storage footprint of the raw voxel buffer.
func (v *VolumeData) SizeBytes() int {
	return v.VoxelCount() * v.SampleType.BytesPerSample()
}

// BoundsMin returns the minimum corner of the physical bounding box.
func (v *VolumeData) BoundsMin() mgl64.Vec3 {
	return mgl64.Vec3{v.Origin[0], v.Origin[1], v.Origin[2]}
}

// BoundsMax returns the maximum corner of the physical bounding box,
// origin + dims*spacing.
func (v *VolumeData) BoundsMax() mgl64.Vec3 {
	return mgl64.Vec3{
		v.Origin[0] + float64(v.Dims[0])*v.Spacing[0],
		v.Origin[1] + float64(v.Dims[1])*v.Spacing[1],
		v.Origin[2] + float64(v.Dims[2])*v.Spacing[2],
	}
}

// RawAt returns the raw scalar at integer voxel coordinates, in native
// units (0..255 for uint8, native counts for the 16-bit types, the
// stored value for float32). Coordinates outside the volume clamp to
// the nearest valid voxel, matching clamp-to-edge texture addressing.
func (v *VolumeData) RawAt(x, y, z int) float64 {
	x = clampInt(x, 0, v.Dims[0]-1)
	y = clampInt(y, 0, v.Dims[1]-1)
	z = clampInt(z, 0, v.Dims[2]-1)
	idx := (z*v.Dims[1]+y)*v.Dims[0] + x

	switch v.SampleType {
	case Uint8:
		return float64(v.Data[idx])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(v.Data[idx*2:]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(v.Data[idx*2:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.Data[idx*4:])))
	default:
		return 0
	}
}

// SampleNormalized returns the trilinearly interpolated raw scalar at a
// position given in normalized volume coordinates in [0,1]^3. Positions
// outside [0,1] clamp to the boundary voxels instead of wrapping, which
// is the correct behavior for finite anatomical scans. Note that GL
// texture filtering uses a texel-center convention (p*dims - 0.5), so
// GPU samples can differ from these by up to half a voxel near the
// faces; the interior agrees to interpolation accuracy.
func (v *VolumeData) SampleNormalized(p mgl64.Vec3) float64 {
	// Voxel-center convention: normalized 0 maps to the center of the
	// first voxel, 1 to the center of the last.
	fx := p.X() * float64(v.Dims[0]-1)
	fy := p.Y() * float64(v.Dims[1]-1)
	fz := p.Z() * float64(v.Dims[2]-1)

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	z0 := int(math.Floor(fz))
	tx := fx - float64(x0)
	ty := fy - float64(y0)
	tz := fz - float64(z0)

	c000 := v.RawAt(x0, y0, z0)
	c100 := v.RawAt(x0+1, y0, z0)
	c010 := v.RawAt(x0, y0+1, z0)
	c110 := v.RawAt(x0+1, y0+1, z0)
	c001 := v.RawAt(x0, y0, z0+1)
	c101 := v.RawAt(x0+1, y0, z0+1)
	c011 := v.RawAt(x0, y0+1, z0+1)
	c111 := v.RawAt(x0+1, y0+1, z0+1)

	c00 := lerp(c000, c100, tx)
	c10 := lerp(c010, c110, tx)
	c01 := lerp(c001, c101, tx)
	c11 := lerp(c011, c111, tx)

	c0 := lerp(c00, c10, ty)
	c1 := lerp(c01, c11, ty)

	return lerp(c0, c1, tz)
}

// NormalizedAt returns the raw scalar at integer voxel coordinates
// rescaled into [0,1] using the full range of the sample type (or the
// volume's observed min/max for float32 data). Used by the gradient
// estimator so gradients are comparable across storage formats.
func (v *VolumeData) NormalizedAt(x, y, z int, lo, hi float64) float64 {
	raw := v.RawAt(x, y, z)
	if hi <= lo {
		return 0
	}
	return (raw - lo) / (hi - lo)
}

// NativeRange returns the [lo, hi] raw range used to normalize samples
// of this volume's type. Fixed-width integer types use the full type
// range; float32 volumes scan the buffer for the observed extrema.
func (v *VolumeData) NativeRange() (lo, hi float64) {
	switch v.SampleType {
	case Uint8:
		return 0, 255
	case Uint16:
		return 0, 65535
	case Int16:
		return -32768, 32767
	case Float32:
		lo, hi = math.Inf(1), math.Inf(-1)
		n := v.VoxelCount()
		for i := 0; i < n; i++ {
			f := float64(math.Float32frombits(binary.LittleEndian.Uint32(v.Data[i*4:])))
			if f < lo {
				lo = f
			}
			if f > hi {
				hi = f
			}
		}
		if lo >= hi {
			// Constant volume: any non-degenerate range works, the
			// gradient is zero everywhere.
			return lo, lo + 1
		}
		return lo, hi
	default:
		return 0, 1
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
