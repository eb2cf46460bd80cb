package render

import (
	"fmt"
	"log"

	"github.com/shirou/gopsutil/v3/mem"

	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// Resource id prefixes. The full id also carries the arena index and
// generation, e.g. "vol-0-0".
const (
	volumePrefix = "vol"
	lutPrefix    = "tf"
)

// Options configures a new engine. The zero value is usable: CPU
// reference backend, 512x512 output, default logger, half of available
// memory as the upload budget.
type Options struct {
	// Backend executes uploads and dispatches; nil selects the CPU
	// reference backend with one worker per logical CPU.
	Backend Backend

	// Width and Height size the output color buffer.
	Width  int
	Height int

	// Logger receives the non-fatal warnings of the render path; nil
	// selects the process-default logger.
	Logger *log.Logger

	// MemoryBudgetFraction caps a volume upload (scalar plus gradient
	// field) at this fraction of the host's available memory. Zero
	// selects the default of 0.5; a negative value disables the check.
	MemoryBudgetFraction float64
}

// Metrics is a read-only snapshot of the engine for diagnostics and
// telemetry dashboards.
type Metrics struct {
	Initialized           bool
	VolumeCount           int
	TransferFunctionCount int
	FramesRendered        uint64
	OutputWidth           int
	OutputHeight          int
	State                 RenderingState
}

type volumeEntry struct {
	vol  *volume.VolumeData
	grad *volume.GradientField
}

// Engine owns every rendering resource: uploaded volumes, baked
// transfer functions, the rendering state and the output buffer.
// Callers hold opaque string ids, never raw handles, so a use after
// Dispose cannot reach a live resource.
//
// The engine is driven by a single logical render thread; its methods
// are not safe for concurrent use. Parallelism lives inside the
// backend's frame execution, which is opaque to this state machine.
type Engine struct {
	backend Backend
	logger  *log.Logger

	initialized bool

	volumes table[volumeEntry]
	luts    table[*transfer.LUT]

	// presets maps built-in preset names to their baked resource ids.
	presets map[string]string

	state  RenderingState
	output *Framebuffer
	frames uint64

	budgetFraction float64
}

// NewEngine creates an uninitialized engine. Initialize must be called
// before loading resources or rendering.
func NewEngine(opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	backend := opts.Backend
	if backend == nil {
		backend = NewCPUBackend(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	width := opts.Width
	if width <= 0 {
		width = 512
	}
	height := opts.Height
	if height <= 0 {
		height = 512
	}
	budget := opts.MemoryBudgetFraction
	if budget == 0 {
		budget = 0.5
	}

	return &Engine{
		backend:        backend,
		logger:         logger,
		presets:        make(map[string]string),
		state:          DefaultState(),
		output:         NewFramebuffer(width, height),
		budgetFraction: budget,
	}
}

// Initialize acquires backend resources and seeds the built-in medical
// transfer function presets. This is the engine's only fatal entry
// point: a shader compile or link failure on a GPU backend propagates
// here with the compiler diagnostics, and the engine stays unusable
// until a later Initialize succeeds. Calling Initialize on an already
// initialized engine is a no-op.
func (e *Engine) Initialize() error {
	if e.initialized {
		return nil
	}
	if err := e.backend.Initialize(); err != nil {
		return fmt.Errorf("initialize rendering backend: %w", err)
	}
	e.initialized = true

	for _, name := range transfer.PresetNames() {
		tf, err := transfer.Preset(name)
		if err != nil {
			return err
		}
		id, err := e.CreateTransferFunction(tf)
		if err != nil {
			return fmt.Errorf("seed preset %q: %w", name, err)
		}
		e.presets[name] = id
	}
	return nil
}

// LoadVolumeData validates and uploads a scalar volume, returning the
// opaque id used to reference it in Render calls. When shading is
// enabled in the current state, the gradient field is precomputed here,
// once per volume, and uploaded alongside it.
func (e *Engine) LoadVolumeData(vol *volume.VolumeData) (string, error) {
	if !e.initialized {
		return "", fmt.Errorf("load volume: engine not initialized")
	}
	if vol == nil {
		return "", fmt.Errorf("load volume: nil volume")
	}
	if err := vol.Validate(); err != nil {
		return "", fmt.Errorf("load volume: %w", err)
	}

	var grad *volume.GradientField
	if e.state.ShadingEnabled {
		grad = volume.ComputeGradients(vol)
	}

	if err := e.checkMemoryBudget(vol, grad); err != nil {
		return "", fmt.Errorf("load volume: %w", err)
	}

	h := e.volumes.insert(volumeEntry{vol: vol, grad: grad})
	if err := e.backend.UploadVolume(h, vol, grad); err != nil {
		e.volumes.remove(h)
		return "", fmt.Errorf("load volume: %w", err)
	}
	return h.id(volumePrefix), nil
}

// checkMemoryBudget rejects uploads whose footprint exceeds the
// configured fraction of available host memory. Driver-level
// out-of-memory failures on 3D texture allocation are opaque; this
// check fails loudly before the allocation happens. If the memory
// probe itself fails, the check is skipped rather than blocking loads.
func (e *Engine) checkMemoryBudget(vol *volume.VolumeData, grad *volume.GradientField) error {
	if e.budgetFraction < 0 {
		return nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		e.logger.Printf("Warning: memory budget probe failed, skipping check: %v", err)
		return nil
	}
	need := uint64(vol.SizeBytes())
	if grad != nil {
		need += uint64(grad.SizeBytes())
	}
	budget := uint64(float64(vm.Available) * e.budgetFraction)
	if need > budget {
		return fmt.Errorf("volume upload of %d bytes exceeds memory budget of %d bytes (%.0f%% of %d available)",
			need, budget, e.budgetFraction*100, vm.Available)
	}
	return nil
}

// CreateTransferFunction bakes the control points into an immutable
// 256-entry RGBA lookup table, uploads it, and returns its opaque id.
// Editing a transfer function means creating a new one; baked tables
// are never mutated in place.
func (e *Engine) CreateTransferFunction(tf *transfer.TransferFunction) (string, error) {
	if !e.initialized {
		return "", fmt.Errorf("create transfer function: engine not initialized")
	}
	if tf == nil {
		return "", fmt.Errorf("create transfer function: nil transfer function")
	}
	lut, err := transfer.Bake(tf)
	if err != nil {
		return "", fmt.Errorf("create transfer function: %w", err)
	}
	h := e.luts.insert(lut)
	if err := e.backend.UploadLUT(h, lut); err != nil {
		e.luts.remove(h)
		return "", fmt.Errorf("create transfer function: %w", err)
	}
	return h.id(lutPrefix), nil
}

// PresetID returns the resource id of a built-in transfer function
// preset seeded at initialization.
func (e *Engine) PresetID(name string) (string, bool) {
	id, ok := e.presets[name]
	return id, ok
}

// Render submits one frame: ray/volume intersection, windowing,
// clipping, mode dispatch and compositing per output pixel, into the
// engine's output buffer.
//
// Render never fails: an uninitialized engine or an unknown resource id
// logs a warning and leaves the output buffer untouched, keeping a
// per-frame render loop resilient to transiently missing assets.
func (e *Engine) Render(volumeID, transferFunctionID string, mode RenderMode) {
	if !e.initialized {
		e.logger.Printf("Warning: render skipped, engine not initialized")
		return
	}

	vh, err := parseHandle(volumePrefix, volumeID)
	if err != nil {
		e.logger.Printf("Warning: render skipped: %v", err)
		return
	}
	if _, ok := e.volumes.get(vh); !ok {
		e.logger.Printf("Warning: render skipped, unknown volume id %q", volumeID)
		return
	}

	lh, err := parseHandle(lutPrefix, transferFunctionID)
	if err != nil {
		e.logger.Printf("Warning: render skipped: %v", err)
		return
	}
	if _, ok := e.luts.get(lh); !ok {
		e.logger.Printf("Warning: render skipped, unknown transfer function id %q", transferFunctionID)
		return
	}

	req := FrameRequest{
		Volume: vh,
		LUT:    lh,
		Mode:   mode,
		State:  e.state.Clone(),
		Target: e.output,
	}
	if err := e.backend.RenderFrame(req); err != nil {
		e.logger.Printf("Warning: render failed: %v", err)
		return
	}
	e.frames++
}

// UpdateRenderingState merges a partial state into the current state.
// Fields omitted from the delta retain their prior values.
func (e *Engine) UpdateRenderingState(delta StateDelta) {
	e.state.Merge(delta)
}

// SetQualityLevel overwrites the step size and max step count from the
// quality preset table. No other state field is touched.
func (e *Engine) SetQualityLevel(level QualityLevel) error {
	step, maxSteps, err := level.Sampling()
	if err != nil {
		return err
	}
	e.state.StepSize = step
	e.state.MaxSteps = maxSteps
	return nil
}

// State returns a copy of the current rendering state.
func (e *Engine) State() RenderingState {
	return e.state.Clone()
}

// Output exposes the engine-owned output color buffer. The buffer is
// valid until the next Render or Dispose call; callers must treat it
// as read-only.
func (e *Engine) Output() *Framebuffer {
	return e.output
}

// Metrics returns a read-only snapshot of resource counts and state
// for the monitoring dashboard.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		Initialized:           e.initialized,
		VolumeCount:           e.volumes.len(),
		TransferFunctionCount: e.luts.len(),
		FramesRendered:        e.frames,
		OutputWidth:           e.output.Width,
		OutputHeight:          e.output.Height,
		State:                 e.state.Clone(),
	}
}

// UnloadVolume releases one volume. The id becomes permanently stale:
// a later load reusing the slot carries a new generation, so rendering
// with the old id warns instead of silently drawing the wrong scan.
func (e *Engine) UnloadVolume(volumeID string) error {
	h, err := parseHandle(volumePrefix, volumeID)
	if err != nil {
		return err
	}
	if _, ok := e.volumes.remove(h); !ok {
		return fmt.Errorf("unknown volume id %q", volumeID)
	}
	e.backend.ReleaseVolume(h)
	return nil
}

// Dispose releases every engine-owned resource. It is idempotent and
// safe to call from any state, including before Initialize.
func (e *Engine) Dispose() {
	e.volumes.clear(nil)
	e.luts.clear(nil)
	e.backend.Dispose()
	e.presets = make(map[string]string)
	e.initialized = false
}
