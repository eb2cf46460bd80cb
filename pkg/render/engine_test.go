package render

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/transfer"
)

// newTestEngine builds an initialized 33x33 engine with a quiet logger
// and the memory budget check disabled, so tests stay deterministic
// across hosts.
func newTestEngine(t *testing.T, logBuf *bytes.Buffer) *Engine {
	t.Helper()
	var logger *log.Logger
	if logBuf != nil {
		logger = log.New(logBuf, "", 0)
	} else {
		logger = log.New(&bytes.Buffer{}, "", 0)
	}
	e := NewEngine(&Options{
		Width:                33,
		Height:               33,
		Logger:               logger,
		MemoryBudgetFraction: -1,
	})
	if err := e.Initialize(); err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}
	return e
}

// loadCubeScene loads the bright-cube volume and grayscale transfer
// function and aims the camera straight at the cube.
func loadCubeScene(t *testing.T, e *Engine) (volumeID, tfID string) {
	t.Helper()

	vol := newTestVolume(32, 32, 32, 100, 200, func(x, y, z int) uint8 {
		if x >= 12 && x < 20 && y >= 12 && y < 20 && z >= 12 && z < 20 {
			return 200
		}
		return 0
	})
	volumeID, err := e.LoadVolumeData(vol)
	if err != nil {
		t.Fatalf("Failed to load volume: %v", err)
	}

	tfID, err = e.CreateTransferFunction(&transfer.TransferFunction{
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
		t.Fatalf("Failed to create transfer function: %v", err)
	}

	cam := lookAtState(mgl64.Vec3{16, 16, -80}, mgl64.Vec3{16, 16, 16})
	e.UpdateRenderingState(StateDelta{
		ViewMatrix:       &cam.ViewMatrix,
		ProjectionMatrix: &cam.ProjectionMatrix,
	})
	return volumeID, tfID
}

// TestEngineRenderDVR verifies the full pipeline from load to output
// buffer: the cube goes opaque, empty space stays transparent
func TestEngineRenderDVR(t *testing.T) {
	e := newTestEngine(t, nil)
	defer e.Dispose()
	volumeID, tfID := loadCubeScene(t, e)

	e.Render(volumeID, tfID, ModeDVR)

	fb := e.Output()
	if _, _, _, a := fb.At(16, 16); a < earlyExitAlpha {
		t.Errorf("Expected opaque pixel through the cube, got alpha %g", a)
	}
	if _, _, _, a := fb.At(0, 0); a != 0 {
		t.Errorf("Expected transparent corner pixel, got alpha %g", a)
	}

	m := e.Metrics()
	if m.FramesRendered != 1 {
		t.Errorf("Expected 1 rendered frame, got %d", m.FramesRendered)
	}
	if m.VolumeCount != 1 {
		t.Errorf("Expected 1 loaded volume, got %d", m.VolumeCount)
	}
}

// TestEngineRenderModes verifies that each mode runs through the full
// engine path
func TestEngineRenderModes(t *testing.T) {
	e := newTestEngine(t, nil)
	defer e.Dispose()
	volumeID, tfID := loadCubeScene(t, e)

	for _, mode := range []RenderMode{ModeDVR, ModeMIP, ModeMinIP, ModeIsosurface} {
		e.Render(volumeID, tfID, mode)
	}
	if m := e.Metrics(); m.FramesRendered != 4 {
		t.Errorf("Expected 4 rendered frames, got %d", m.FramesRendered)
	}
}

// TestEngineRenderNeverFails verifies the render path's warning policy:
// bad ids and an uninitialized engine log instead of erroring, and the
// output buffer is left untouched
func TestEngineRenderNeverFails(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, &buf)
	defer e.Dispose()
	volumeID, tfID := loadCubeScene(t, e)

	// Establish a known frame
	e.Render(volumeID, tfID, ModeDVR)
	before := make([]float64, len(e.Output().Pix))
	copy(before, e.Output().Pix)
	buf.Reset()

	// Unknown volume id: warning, output untouched, frame not counted
	e.Render("vol-99-0", tfID, ModeDVR)
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("Expected a warning for an unknown volume id")
	}
	for i := range before {
		if e.Output().Pix[i] != before[i] {
			t.Fatal("Expected output buffer untouched after failed render")
		}
	}
	if m := e.Metrics(); m.FramesRendered != 1 {
		t.Errorf("Expected frame count to stay at 1, got %d", m.FramesRendered)
	}

	// Malformed ids in either position
	buf.Reset()
	e.Render("bogus", tfID, ModeDVR)
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("Expected a warning for a malformed volume id")
	}
	buf.Reset()
	e.Render(volumeID, "also-bogus", ModeDVR)
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("Expected a warning for a malformed transfer function id")
	}

	// Uninitialized engine
	var buf2 bytes.Buffer
	fresh := NewEngine(&Options{Logger: log.New(&buf2, "", 0)})
	fresh.Render(volumeID, tfID, ModeDVR)
	if !strings.Contains(buf2.String(), "Warning:") {
		t.Error("Expected a warning when rendering before Initialize")
	}
}

// TestEngineLoadRequiresInitialize verifies the fatal path boundary:
// resource creation errors before Initialize, unlike Render
func TestEngineLoadRequiresInitialize(t *testing.T) {
	e := NewEngine(&Options{Logger: log.New(&bytes.Buffer{}, "", 0)})

	vol := newTestVolume(4, 4, 4, 100, 200, func(x, y, z int) uint8 { return 0 })
	if _, err := e.LoadVolumeData(vol); err == nil {
		t.Error("Expected error loading a volume before Initialize")
	}
	if _, err := e.CreateTransferFunction(&transfer.TransferFunction{}); err == nil {
		t.Error("Expected error creating a transfer function before Initialize")
	}
}

// TestEngineLoadRejectsInvalidVolume verifies validation at the load
// boundary
func TestEngineLoadRejectsInvalidVolume(t *testing.T) {
	e := newTestEngine(t, nil)
	defer e.Dispose()

	vol := newTestVolume(4, 4, 4, 100, 200, func(x, y, z int) uint8 { return 0 })
	vol.Data = vol.Data[:10]
	if _, err := e.LoadVolumeData(vol); err == nil {
		t.Error("Expected error for volume with short buffer")
	}
	if _, err := e.LoadVolumeData(nil); err == nil {
		t.Error("Expected error for nil volume")
	}
}

// TestEnginePresets verifies that the built-in transfer functions are
// usable immediately after Initialize
func TestEnginePresets(t *testing.T) {
	e := newTestEngine(t, nil)
	defer e.Dispose()
	volumeID, _ := loadCubeScene(t, e)

	for _, name := range transfer.PresetNames() {
		id, ok := e.PresetID(name)
		if !ok {
			t.Errorf("Expected preset %q to be seeded at initialization", name)
			continue
		}
		e.Render(volumeID, id, ModeDVR)
	}
	if m := e.Metrics(); m.FramesRendered != uint64(len(transfer.PresetNames())) {
		t.Errorf("Expected one frame per preset, got %d", m.FramesRendered)
	}

	if _, ok := e.PresetID("no-such"); ok {
		t.Error("Expected lookup of unknown preset to fail")
	}
}

// TestEngineUnloadVolume verifies that an unloaded id goes permanently
// stale, even after its slot is reused by a later load
func TestEngineUnloadVolume(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, &buf)
	defer e.Dispose()
	volumeID, tfID := loadCubeScene(t, e)

	if err := e.UnloadVolume(volumeID); err != nil {
		t.Fatalf("Failed to unload volume: %v", err)
	}
	if m := e.Metrics(); m.VolumeCount != 0 {
		t.Errorf("Expected 0 volumes after unload, got %d", m.VolumeCount)
	}

	// Unloading twice errors
	if err := e.UnloadVolume(volumeID); err == nil {
		t.Error("Expected error unloading an already unloaded volume")
	}

	// A new load reuses the slot under a fresh generation; the old id
	// must still warn, not alias the new volume
	vol := newTestVolume(8, 8, 8, 100, 200, func(x, y, z int) uint8 { return 50 })
	newID, err := e.LoadVolumeData(vol)
	if err != nil {
		t.Fatalf("Failed to reload volume: %v", err)
	}
	if newID == volumeID {
		t.Fatalf("Expected a fresh id after slot reuse, got %q again", newID)
	}

	buf.Reset()
	e.Render(volumeID, tfID, ModeDVR)
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("Expected a warning rendering with a stale volume id")
	}
}

// TestEngineQualityAndState verifies quality presets and partial state
// updates through the public surface
func TestEngineQualityAndState(t *testing.T) {
	e := newTestEngine(t, nil)
	defer e.Dispose()

	if err := e.SetQualityLevel(QualityUltra); err != nil {
		t.Fatalf("Failed to set quality level: %v", err)
	}
	s := e.State()
	if s.StepSize != 0.005 || s.MaxSteps != 1024 {
		t.Errorf("Expected ultra sampling (0.005, 1024), got (%g, %d)", s.StepSize, s.MaxSteps)
	}

	// The quality change leaves other fields alone
	if s.IsoValue != 0.5 {
		t.Errorf("Expected iso value untouched by quality change, got %g", s.IsoValue)
	}

	if err := e.SetQualityLevel(QualityLevel(42)); err == nil {
		t.Error("Expected error for unknown quality level")
	}

	// State() hands out copies: mutating the copy has no effect
	s.IsoValue = 0.9
	if e.State().IsoValue != 0.5 {
		t.Error("Expected engine state to be isolated from returned copies")
	}
}

// TestEngineDispose verifies idempotent teardown and the post-Dispose
// metrics snapshot
func TestEngineDispose(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, &buf)
	volumeID, tfID := loadCubeScene(t, e)

	e.Dispose()

	m := e.Metrics()
	if m.Initialized {
		t.Error("Expected uninitialized metrics after Dispose")
	}
	if m.VolumeCount != 0 || m.TransferFunctionCount != 0 {
		t.Errorf("Expected empty resource tables after Dispose, got %d volumes, %d transfer functions",
			m.VolumeCount, m.TransferFunctionCount)
	}

	// Rendering after Dispose warns like any uninitialized engine
	buf.Reset()
	e.Render(volumeID, tfID, ModeDVR)
	if !strings.Contains(buf.String(), "Warning:") {
		t.Error("Expected a warning rendering after Dispose")
	}

	// Dispose is idempotent
	e.Dispose()

	// And the engine comes back after a fresh Initialize
	if err := e.Initialize(); err != nil {
		t.Fatalf("Failed to re-initialize after Dispose: %v", err)
	}
	if _, ok := e.PresetID(transfer.PresetBone); !ok {
		t.Error("Expected presets re-seeded after re-initialization")
	}
}

// TestEngineMemoryBudget verifies that an absurdly small budget
// fraction rejects uploads before they reach the backend
func TestEngineMemoryBudget(t *testing.T) {
	e := NewEngine(&Options{
		Logger:               log.New(&bytes.Buffer{}, "", 0),
		MemoryBudgetFraction: 1e-12,
	})
	if err := e.Initialize(); err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}
	defer e.Dispose()

	vol := newTestVolume(64, 64, 64, 100, 200, func(x, y, z int) uint8 { return 0 })
	if _, err := e.LoadVolumeData(vol); err == nil {
		t.Error("Expected memory budget rejection for a vanishing budget fraction")
	}
	if m := e.Metrics(); m.VolumeCount != 0 {
		t.Errorf("Expected no volume registered after rejection, got %d", m.VolumeCount)
	}
}
