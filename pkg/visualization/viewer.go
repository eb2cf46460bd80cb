// Package visualization provides multiplanar reconstruction (MPR):
// extraction of axial, coronal and sagittal 2D slices from a loaded
// volume with the display window applied, optionally colorized through
// a baked transfer function, for export alongside the 3D renders.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// Viewer extracts 2D slices from a calibrated scalar volume. Slice
// pixels go through the same windowing transform as the ray marcher, so
// an exported slice matches what a ray through that plane samples.
type Viewer struct {
	vol *volume.VolumeData

	// level and width are the active display window.
	level float64
	width float64
}

// NewViewer creates a slice viewer using the volume's stored display
// window.
func NewViewer(vol *volume.VolumeData) *Viewer {
	return &Viewer{
		vol:   vol,
		level: vol.WindowLevel,
		width: vol.WindowWidth,
	}
}

// SetWindow overrides the display window for subsequent extractions.
func (v *Viewer) SetWindow(level, width float64) error {
	if width <= 0 {
		return fmt.Errorf("window width must be positive, got %g", width)
	}
	v.level = level
	v.width = width
	return nil
}

// windowed maps a raw sample at voxel coordinates through calibration
// and the display window into [0,1].
func (v *Viewer) windowed(x, y, z int) float64 {
	calibrated := v.vol.RawAt(x, y, z)*v.vol.RescaleSlope + v.vol.RescaleIntercept
	w := (calibrated - (v.level - v.width/2)) / v.width
	return math.Max(0, math.Min(1, w))
}

// ExtractSlice extracts a windowed grayscale slice perpendicular to the
// given axis. Axis "z" produces axial slices, "y" coronal, "x"
// sagittal.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	dims := v.vol.Dims

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= dims[0] {
			return nil, fmt.Errorf("position %d exceeds width %d", position, dims[0])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[2], dims[1]))
		for y := 0; y < dims[1]; y++ {
			for z := 0; z < dims[2]; z++ {
				img.SetGray16(z, y, color.Gray16{Y: uint16(v.windowed(position, y, z) * 65535)})
			}
		}

	case "y", "Y":
		if position >= dims[1] {
			return nil, fmt.Errorf("position %d exceeds height %d", position, dims[1])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[2]))
		for z := 0; z < dims[2]; z++ {
			for x := 0; x < dims[0]; x++ {
				img.SetGray16(x, z, color.Gray16{Y: uint16(v.windowed(x, position, z) * 65535)})
			}
		}

	case "z", "Z":
		if position >= dims[2] {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, dims[2])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[1]))
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(v.windowed(x, y, position) * 65535)})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractColorSlice extracts an axial slice colorized through a baked
// transfer function, with the table's opacity carried into the alpha
// channel.
func (v *Viewer) ExtractColorSlice(lut *transfer.LUT, position int) (image.Image, error) {
	dims := v.vol.Dims
	if position < 0 || position >= dims[2] {
		return nil, fmt.Errorf("position %d outside depth %d", position, dims[2])
	}

	img := image.NewRGBA(image.Rect(0, 0, dims[0], dims[1]))
	for y := 0; y < dims[1]; y++ {
		for x := 0; x < dims[0]; x++ {
			r, g, b, a := lut.At(v.windowed(x, y, position))
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(r*255 + 0.5),
				G: uint8(g*255 + 0.5),
				B: uint8(b*255 + 0.5),
				A: uint8(a*255 + 0.5),
			})
		}
	}
	return img, nil
}

// Scale resamples a slice to the given size with Catmull-Rom filtering,
// used to bring low-resolution scans up to a reviewable preview size.
func Scale(img image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// SaveSlice saves an extracted slice as a PNG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the specified
// axis into outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Dims[0]
	case "y", "Y":
		maxPos = v.vol.Dims[1]
	case "z", "Z":
		maxPos = v.vol.Dims[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
