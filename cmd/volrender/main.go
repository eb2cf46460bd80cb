package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/config"
	"volrender/pkg/render"
	"volrender/pkg/transfer"
	"volrender/pkg/visualization"
	"volrender/pkg/volume"
)

func main() {
	// Parse command line arguments
	volumePath := flag.String("volume", "", "Raw voxel file to render")
	metaPath := flag.String("meta", "", "YAML sidecar describing the voxel file (defaults to <volume>.yaml)")
	configPath := flag.String("config", "volrender.yaml", "Renderer configuration file")
	mode := flag.String("mode", "", "Render mode: dvr, mip, minip or isosurface (overrides config)")
	quality := flag.String("quality", "", "Quality level: draft, standard, high or ultra (overrides config)")
	preset := flag.String("preset", "", "Transfer function preset: bone or soft-tissue (overrides config)")
	output := flag.String("output", "", "Output PNG path (overrides config)")
	extractSlices := flag.Bool("extract-slices", false, "Also export windowed slices along all axes")
	slicesDir := flag.String("slices-dir", "slices", "Directory to save extracted slices")
	flag.Parse()

	// Validate inputs
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
	if *quality != "" {
		cfg.Rendering.Quality = *quality
	}
	if *preset != "" {
		cfg.Rendering.Preset = *preset
	}
	if *output != "" {
		cfg.Output.File = *output
	}

	renderMode, err := render.ParseRenderMode(cfg.Rendering.Mode)
	if err != nil {
		log.Fatalf("Invalid render mode: %v", err)
	}
	qualityLevel, err := render.ParseQualityLevel(cfg.Rendering.Quality)
	if err != nil {
		log.Fatalf("Invalid quality level: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("VOLRENDER - VOLUMETRIC RENDERING FOR CALIBRATED MEDICAL VOLUMES")
	fmt.Println("================================")

	// Load the volume and its calibration sidecar
	fmt.Printf("Loading volume %s...\n", *volumePath)
	vol, err := volume.LoadRaw(*volumePath, *metaPath)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}

	if cfg.Window.Auto {
		stats := volume.ComputeStats(vol)
		vol.WindowLevel, vol.WindowWidth = stats.AutoWindow()
		fmt.Printf("Auto window: level=%.1f width=%.1f (mean=%.1f stddev=%.1f)\n",
			vol.WindowLevel, vol.WindowWidth, stats.Mean, stats.StdDev)
	} else if cfg.Window.Width > 0 {
		vol.WindowLevel = cfg.Window.Level
		vol.WindowWidth = cfg.Window.Width
	}

	// Create and initialize the engine on the CPU reference backend
	engine := render.NewEngine(&render.Options{
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

	// Point the camera at the volume center
	viewMat, projMat := orbitCamera(vol, cfg)
	shading := cfg.Rendering.Shading
	adaptive := cfg.Rendering.AdaptiveSampling
	isoValue := cfg.Rendering.IsoValue
	engine.UpdateRenderingState(render.StateDelta{
		ViewMatrix:       &viewMat,
		ProjectionMatrix: &projMat,
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

	// Render one frame
	fmt.Printf("Rendering %dx%d in %s mode at %s quality...\n",
		cfg.Output.Width, cfg.Output.Height, renderMode, qualityLevel)
	startTime := time.Now()
	engine.Render(volumeID, tfID, renderMode)
	renderTime := time.Since(startTime)

	// Save the frame, composited over a black background
	var out image.Image = engine.Output().ImageOver(color.RGBA{A: 255})
	if cfg.Output.PreviewScale > 0 && cfg.Output.PreviewScale != 1.0 {
		w := int(float64(cfg.Output.Width)*cfg.Output.PreviewScale + 0.5)
		h := int(float64(cfg.Output.Height)*cfg.Output.PreviewScale + 0.5)
		out = visualization.Scale(out, w, h)
	}
	if err := savePNG(out, cfg.Output.File); err != nil {
		log.Fatalf("Failed to save output: %v", err)
	}

	metrics := engine.Metrics()
	fmt.Printf("\nRender completed in %.2f seconds!\n", renderTime.Seconds())
	fmt.Printf("Output saved to: %s\n\n", cfg.Output.File)
	fmt.Printf("Engine metrics:\n")
	fmt.Printf("===============\n")
	fmt.Printf("Volumes loaded: %d\n", metrics.VolumeCount)
	fmt.Printf("Transfer functions: %d\n", metrics.TransferFunctionCount)
	fmt.Printf("Frames rendered: %d\n", metrics.FramesRendered)
	fmt.Printf("Step size: %.4f, max steps: %d\n", metrics.State.StepSize, metrics.State.MaxSteps)

	// Extract and save windowed slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting windowed slices along all axes...")
		viewer := visualization.NewViewer(vol)

		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		// Also export a colorized mid-volume slice with the active preset
		tf, err := transfer.Preset(cfg.Rendering.Preset)
		if err == nil {
			if lut, err := transfer.Bake(tf); err == nil {
				if img, err := viewer.ExtractColorSlice(lut, vol.Dims[2]/2); err == nil {
					colorPath := filepath.Join(*slicesDir, "mid_colorized.png")
					if err := viewer.SaveSlice(img, colorPath); err != nil {
						log.Printf("Warning: Failed to save colorized slice: %v", err)
					}
				}
			}
		}

		fmt.Println("Slice extraction completed!")
	}
}

// orbitCamera builds view and projection matrices orbiting the volume
// center at a distance expressed in multiples of the largest extent.
func orbitCamera(vol *volume.VolumeData, cfg *config.Config) (view, proj mgl64.Mat4) {
	boxMin := vol.BoundsMin()
	boxMax := vol.BoundsMax()
	center := boxMin.Add(boxMax).Mul(0.5)
	extent := boxMax.Sub(boxMin)
	maxExtent := math.Max(extent.X(), math.Max(extent.Y(), extent.Z()))

	azimuth := mgl64.DegToRad(cfg.Camera.AzimuthDegrees)
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

func savePNG(img image.Image, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
