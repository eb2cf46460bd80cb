package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/config"
	"volrender/pkg/render"
	"volrender/pkg/render/glbackend"
	"volrender/pkg/volume"
)

func init() {
	// GLFW and GL calls must stay on the main OS thread.
	runtime.LockOSThread()
}

func main() {
	volumePath := flag.String("volume", "", "Raw voxel file to render")
	metaPath := flag.String("meta", "", "YAML sidecar describing the voxel file (defaults to <volume>.yaml)")
	configPath := flag.String("config", "volrender.yaml", "Renderer configuration file")
	mode := flag.String("mode", "", "Render mode: dvr, mip, minip or isosurface (overrides config)")
	flag.Parse()

	if *volumePath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *metaPath == "" {
		*metaPath = *volumePath + ".yaml"
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.Rendering.Mode = *mode
	}
	renderMode, err := render.ParseRenderMode(cfg.Rendering.Mode)
	if err != nil {
		log.Fatalf("Invalid render mode: %v", err)
	}
	qualityLevel, err := render.ParseQualityLevel(cfg.Rendering.Quality)
	if err != nil {
		log.Fatalf("Invalid quality level: %v", err)
	}

	vol, err := volume.LoadRaw(*volumePath, *metaPath)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}

	if err := glfw.Init(); err != nil {
		log.Fatalf("Failed to initialize GLFW: %v", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.False)

	window, err := glfw.CreateWindow(cfg.Output.Width, cfg.Output.Height, "volrender", nil, nil)
	if err != nil {
		log.Fatalf("Failed to create window: %v", err)
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(1)

	// Engine on the GL backend; shader compile/link diagnostics surface
	// through Initialize.
	engine := render.NewEngine(&render.Options{
		Backend:              glbackend.New(cfg.Output.Width, cfg.Output.Height),
		Width:                cfg.Output.Width,
		Height:               cfg.Output.Height,
		MemoryBudgetFraction: cfg.Memory.BudgetFraction,
	})
	if err := engine.Initialize(); err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Dispose()

	if err := engine.SetQualityLevel(qualityLevel); err != nil {
		log.Fatalf("Failed to set quality level: %v", err)
	}

	shading := cfg.Rendering.Shading
	adaptive := cfg.Rendering.AdaptiveSampling
	isoValue := cfg.Rendering.IsoValue
	engine.UpdateRenderingState(render.StateDelta{
		ShadingEnabled:   &shading,
		AdaptiveSampling: &adaptive,
		IsoValue:         &isoValue,
	})

	volumeID, err := engine.LoadVolumeData(vol)
	if err != nil {
		log.Fatalf("Failed to upload volume: %v", err)
	}
	tfID, ok := engine.PresetID(cfg.Rendering.Preset)
	if !ok {
		log.Fatalf("Unknown transfer function preset %q", cfg.Rendering.Preset)
	}

	fmt.Println("Rendering interactively; press ESC to quit")
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	azimuth := cfg.Camera.AzimuthDegrees
	for !window.ShouldClose() {
		// Slow orbit around the volume center.
		azimuth += 0.25
		view, proj := orbitCamera(vol, cfg, azimuth)
		engine.UpdateRenderingState(render.StateDelta{
			ViewMatrix:       &view,
			ProjectionMatrix: &proj,
		})

		engine.Render(volumeID, tfID, renderMode)

		window.SwapBuffers()
		glfw.PollEvents()
	}
}

// orbitCamera builds view and projection matrices orbiting the volume
// center at the configured distance and elevation.
func orbitCamera(vol *volume.VolumeData, cfg *config.Config, azimuthDeg float64) (view, proj mgl64.Mat4) {
	boxMin := vol.BoundsMin()
	boxMax := vol.BoundsMax()
	center := boxMin.Add(boxMax).Mul(0.5)
	extent := boxMax.Sub(boxMin)
	maxExtent := math.Max(extent.X(), math.Max(extent.Y(), extent.Z()))

	azimuth := mgl64.DegToRad(azimuthDeg)
	elevation := mgl64.DegToRad(cfg.Camera.ElevationDegrees)
	dist := cfg.Camera.Distance * maxExtent

	eye := center.Add(mgl64.Vec3{
		dist * math.Cos(elevation) * math.Sin(azimuth),
		dist * math.Sin(elevation),
		dist * math.Cos(elevation) * math.Cos(azimuth),
	})

	view = mgl64.LookAtV(eye, center, mgl64.Vec3{0, 1, 0})
	aspect := float64(cfg.Output.Width) / float64(cfg.Output.Height)
	proj = mgl64.Perspective(mgl64.DegToRad(cfg.Camera.FOVDegrees), aspect, 0.01*maxExtent, 20*maxExtent)
	return view, proj
}
