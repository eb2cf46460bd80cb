package render

import (
	"fmt"
	"runtime"
	"sync"

	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// FrameRequest is one unit of render work handed to the backend. The
// engine treats the call as an atomic, ordered submission; whether the
// backend completes it synchronously (CPU reference backend) or queues
// it on the GPU (GL backend) is opaque to the host-side state machine.
type FrameRequest struct {
	Volume Handle
	LUT    Handle
	Mode   RenderMode

	// State is a private snapshot for this frame; the backend may read
	// it from worker goroutines without synchronization.
	State RenderingState

	// Target receives the frame on backends that resolve to host
	// memory. GPU backends that present directly may ignore it.
	Target *Framebuffer
}

// Backend executes uploads and ray-march dispatches. The engine owns
// exactly one backend and funnels every resource through it, so a
// backend never sees a Handle it was not given by an upload call.
type Backend interface {
	// Initialize acquires backend resources. For GPU backends this is
	// where shaders compile and link; diagnostics propagate as the
	// engine's only fatal error.
	Initialize() error

	// UploadVolume stores the scalar field and its optional gradient
	// field (nil when shading is disabled) under the given Handle.
	UploadVolume(h Handle, vol *volume.VolumeData, grad *volume.GradientField) error

	// UploadLUT stores a baked transfer function table.
	UploadLUT(h Handle, lut *transfer.LUT) error

	// RenderFrame executes one ray-march dispatch.
	RenderFrame(req FrameRequest) error

	// ReleaseVolume and ReleaseLUT free a single resource; Dispose
	// frees everything. All three are safe on unknown handles.
	ReleaseVolume(h Handle)
	ReleaseLUT(h Handle)
	Dispose()
}

// cpuBackend is the reference backend: it executes the ray march on the
// host, parallelized across a tile-based worker pool. It exists both as
// the fallback when no GPU is available and as the executable
// definition of the per-sample algorithm the GL shader mirrors.
type cpuBackend struct {
	volumes map[Handle]cpuVolume
	luts    map[Handle]*transfer.LUT
	workers int
}

type cpuVolume struct {
	vol  *volume.VolumeData
	grad *volume.GradientField
}

// NewCPUBackend returns the host-side reference backend. workers <= 0
// selects one worker per logical CPU.
func NewCPUBackend(workers int) Backend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &cpuBackend{
		volumes: make(map[Handle]cpuVolume),
		luts:    make(map[Handle]*transfer.LUT),
		workers: workers,
	}
}

func (b *cpuBackend) Initialize() error {
	return nil
}

func (b *cpuBackend) UploadVolume(h Handle, vol *volume.VolumeData, grad *volume.GradientField) error {
	b.volumes[h] = cpuVolume{vol: vol, grad: grad}
	return nil
}

func (b *cpuBackend) UploadLUT(h Handle, lut *transfer.LUT) error {
	b.luts[h] = lut
	return nil
}

// tileSize balances scheduling overhead against load balancing across
// rays of very different march lengths.
const tileSize = 32

func (b *cpuBackend) RenderFrame(req FrameRequest) error {
	cv, ok := b.volumes[req.Volume]
	if !ok {
		return fmt.Errorf("volume not uploaded to CPU backend")
	}
	lut, ok := b.luts[req.LUT]
	if !ok {
		return fmt.Errorf("transfer function not uploaded to CPU backend")
	}
	fb := req.Target

	m := newMarcher(cv.vol, cv.grad, lut, req.State, req.Mode, fb.Width, fb.Height)

	// Pixels whose rays miss the volume keep the cleared value.
	fb.Clear()

	type tile struct {
		x0, y0, x1, y1 int
	}
	numX := (fb.Width + tileSize - 1) / tileSize
	numY := (fb.Height + tileSize - 1) / tileSize
	tiles := make(chan tile, numX*numY)
	for ty := 0; ty < fb.Height; ty += tileSize {
		for tx := 0; tx < fb.Width; tx += tileSize {
			x1 := tx + tileSize
			if x1 > fb.Width {
				x1 = fb.Width
			}
			y1 := ty + tileSize
			if y1 > fb.Height {
				y1 = fb.Height
			}
			tiles <- tile{x0: tx, y0: ty, x1: x1, y1: y1}
		}
	}
	close(tiles)

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tl := range tiles {
				for y := tl.y0; y < tl.y1; y++ {
					for x := tl.x0; x < tl.x1; x++ {
						r, g, bl, a := m.renderPixel(x, y)
						fb.set(x, y, r, g, bl, a)
					}
				}
			}
		}()
	}
	wg.Wait()

	return nil
}

func (b *cpuBackend) ReleaseVolume(h Handle) {
	delete(b.volumes, h)
}

func (b *cpuBackend) ReleaseLUT(h Handle) {
	delete(b.luts, h)
}

func (b *cpuBackend) Dispose() {
	b.volumes = make(map[Handle]cpuVolume)
	b.luts = make(map[Handle]*transfer.LUT)
}
