package render

import (
	"image"
	"image/color"
)

// Framebuffer is the engine-owned output color buffer. Channels are
// stored as straight (non-premultiplied) float RGBA in [0,1]; pixels a
// ray never touched stay fully transparent.
type Framebuffer struct {
	Width  int
	Height int

	// Pix holds RGBA quadruples, row-major from the top-left pixel.
	Pix []float64
}

// NewFramebuffer allocates a cleared buffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height*4),
	}
}

// Clear resets every pixel to transparent black.
func (f *Framebuffer) Clear() {
	for i := range f.Pix {
		f.Pix[i] = 0
	}
}

// At returns the RGBA value of one pixel.
func (f *Framebuffer) At(x, y int) (r, g, b, a float64) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// set writes a pixel, clamping each channel to [0,1].
func (f *Framebuffer) set(x, y int, r, g, b, a float64) {
	i := (y*f.Width + x) * 4
	f.Pix[i] = clamp01(r)
	f.Pix[i+1] = clamp01(g)
	f.Pix[i+2] = clamp01(b)
	f.Pix[i+3] = clamp01(a)
}

// Image converts the buffer to an 8-bit RGBA image with straight alpha.
func (f *Framebuffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b, a := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(r*255 + 0.5),
				G: uint8(g*255 + 0.5),
				B: uint8(b*255 + 0.5),
				A: uint8(a*255 + 0.5),
			})
		}
	}
	return img
}

// ImageOver composites the buffer over an opaque background color and
// returns the result, which is what gets presented or saved to disk.
func (f *Framebuffer) ImageOver(bg color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	bgR := float64(bg.R) / 255
	bgG := float64(bg.G) / 255
	bgB := float64(bg.B) / 255
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b, a := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((r*a+bgR*(1-a))*255 + 0.5),
				G: uint8((g*a+bgG*(1-a))*255 + 0.5),
				B: uint8((b*a+bgB*(1-a))*255 + 0.5),
				A: 255,
			})
		}
	}
	return img
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
