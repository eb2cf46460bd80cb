package glbackend

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"volrender/pkg/render"
	"volrender/pkg/transfer"
	"volrender/pkg/volume"
)

// Backend renders on OpenGL 4.1 core. The caller owns the GL context
// (typically a glfw window) and must have it current on the calling
// goroutine for every method; the backend issues commands but never
// touches context or swap-chain state.
type Backend struct {
	program uint32
	vao     uint32

	uniforms map[string]int32

	volumes map[render.Handle]volumeTextures
	luts    map[render.Handle]uint32

	width  int32
	height int32
}

type volumeTextures struct {
	scalar   uint32
	gradient uint32
	vol      *volume.VolumeData
}

// New creates an unattached GL backend sized to the drawable area the
// frames will be presented into.
func New(width, height int) *Backend {
	return &Backend{
		uniforms: make(map[string]int32),
		volumes:  make(map[render.Handle]volumeTextures),
		luts:     make(map[render.Handle]uint32),
		width:    int32(width),
		height:   int32(height),
	}
}

// Initialize loads the GL function pointers, compiles and links the
// ray-march program and resolves every uniform location declared by the
// shader asset. Compile and link failures return the driver's
// diagnostics verbatim; they are the engine's fatal initialization
// errors.
func (b *Backend) Initialize() error {
	if err := gl.Init(); err != nil {
		return fmt.Errorf("initialize OpenGL: %w", err)
	}

	asset := &RayMarchAsset
	if err := asset.Validate(); err != nil {
		return err
	}

	vs, err := compileShader(asset.Vertex, gl.VERTEX_SHADER)
	if err != nil {
		return fmt.Errorf("compile %s@%s vertex shader: %w", asset.Name, asset.Version, err)
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(asset.Fragment, gl.FRAGMENT_SHADER)
	if err != nil {
		return fmt.Errorf("compile %s@%s fragment shader: %w", asset.Name, asset.Version, err)
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		infoLog := make([]byte, logLen+1)
		gl.GetProgramInfoLog(program, logLen, nil, &infoLog[0])
		gl.DeleteProgram(program)
		return fmt.Errorf("link %s@%s: %s", asset.Name, asset.Version, string(infoLog))
	}
	b.program = program

	for _, u := range asset.Uniforms {
		b.uniforms[u.Name] = gl.GetUniformLocation(program, gl.Str(u.Name+"\x00"))
	}
	gl.UseProgram(program)
	for _, t := range asset.Textures {
		loc := gl.GetUniformLocation(program, gl.Str(t.Name+"\x00"))
		gl.Uniform1i(loc, t.Unit)
	}

	// The fullscreen quad comes from gl_VertexID; core profile still
	// requires a bound VAO to draw.
	gl.GenVertexArrays(1, &b.vao)

	return nil
}

func compileShader(src string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(src + "\x00")
	defer free()
	gl.ShaderSource(shader, 1, csources, nil)
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		infoLog := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &infoLog[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s", string(infoLog))
	}
	return shader, nil
}

// UploadVolume creates the scalar 3D texture (and the gradient texture
// when a gradient field was precomputed) with linear filtering and
// clamp-to-edge addressing on all three axes, which prevents wraparound
// sampling artifacts at the boundary of a finite anatomical scan.
func (b *Backend) UploadVolume(h render.Handle, vol *volume.VolumeData, grad *volume.GradientField) error {
	internal, format, xtype, err := textureFormat(vol.SampleType)
	if err != nil {
		return err
	}

	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_3D, tex)
	setVolumeTexParams()
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage3D(gl.TEXTURE_3D, 0, internal,
		int32(vol.Dims[0]), int32(vol.Dims[1]), int32(vol.Dims[2]),
		0, format, xtype, gl.Ptr(vol.Data))

	vt := volumeTextures{scalar: tex, vol: vol}

	if grad != nil {
		var gtex uint32
		gl.GenTextures(1, &gtex)
		gl.BindTexture(gl.TEXTURE_3D, gtex)
		setVolumeTexParams()
		gl.TexImage3D(gl.TEXTURE_3D, 0, gl.RGB16F,
			int32(grad.Dims[0]), int32(grad.Dims[1]), int32(grad.Dims[2]),
			0, gl.RGB, gl.FLOAT, gl.Ptr(grad.Data))
		vt.gradient = gtex
	}

	b.volumes[h] = vt
	return nil
}

func setVolumeTexParams() {
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_R, gl.CLAMP_TO_EDGE)
}

func textureFormat(t volume.SampleType) (internal int32, format, xtype uint32, err error) {
	switch t {
	case volume.Uint8:
		return gl.R8, gl.RED, gl.UNSIGNED_BYTE, nil
	case volume.Uint16:
		return gl.R16, gl.RED, gl.UNSIGNED_SHORT, nil
	case volume.Int16:
		return gl.R16_SNORM, gl.RED, gl.SHORT, nil
	case volume.Float32:
		return gl.R32F, gl.RED, gl.FLOAT, nil
	default:
		return 0, 0, 0, fmt.Errorf("unsupported sample type %v", t)
	}
}

// sampleScaleOffset maps the normalized texture value back to the raw
// sample units the windowing transform is calibrated against.
func sampleScaleOffset(t volume.SampleType) (scale, offset float32) {
	switch t {
	case volume.Uint8:
		return 255, 0
	case volume.Uint16:
		return 65535, 0
	case volume.Int16:
		// SNORM: [-1,1] covers the signed 16-bit range.
		return 32767, 0
	default:
		return 1, 0
	}
}

// UploadLUT creates the 256x1 RGBA transfer function texture with
// linear filtering and clamped addressing.
func (b *Backend) UploadLUT(h render.Handle, lut *transfer.LUT) error {
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_1D, tex)
	gl.TexParameteri(gl.TEXTURE_1D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_1D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_1D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	data := lut.Bytes()
	gl.TexImage1D(gl.TEXTURE_1D, 0, gl.RGBA8, int32(lut.Len()), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(data))
	b.luts[h] = tex
	return nil
}

// RenderFrame binds the frame's resources and uniforms and issues one
// fullscreen draw. The dispatch is fire-and-forget: the call returns
// once the commands are queued, and the caller presents whenever it
// swaps buffers.
func (b *Backend) RenderFrame(req render.FrameRequest) error {
	vt, ok := b.volumes[req.Volume]
	if !ok {
		return fmt.Errorf("volume not uploaded to GL backend")
	}
	lutTex, ok := b.luts[req.LUT]
	if !ok {
		return fmt.Errorf("transfer function not uploaded to GL backend")
	}

	gl.UseProgram(b.program)
	gl.BindVertexArray(b.vao)
	gl.Viewport(0, 0, b.width, b.height)

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_3D, vt.scalar)
	gl.ActiveTexture(gl.TEXTURE1)
	gl.BindTexture(gl.TEXTURE_3D, vt.gradient)
	gl.ActiveTexture(gl.TEXTURE2)
	gl.BindTexture(gl.TEXTURE_1D, lutTex)

	s := &req.State
	vol := vt.vol

	viewProj := s.ProjectionMatrix.Mul4(s.ViewMatrix)
	b.setMat4("uInvViewProj", viewProj.Inv())
	b.setMat4("uInvVolToWorld", s.VolumeToWorld.Inv())
	b.setMat4("uVolToWorld", s.VolumeToWorld)

	boxMin := vol.BoundsMin()
	boxMax := vol.BoundsMax()
	b.setVec3("uBoxMin", boxMin)
	b.setVec3("uBoxMax", boxMax)

	scale, offset := sampleScaleOffset(vol.SampleType)
	gl.Uniform1f(b.uniforms["uSampleScale"], scale)
	gl.Uniform1f(b.uniforms["uSampleOffset"], offset)
	gl.Uniform1f(b.uniforms["uRescaleSlope"], float32(vol.RescaleSlope))
	gl.Uniform1f(b.uniforms["uRescaleIntercept"], float32(vol.RescaleIntercept))
	gl.Uniform1f(b.uniforms["uWindowLevel"], float32(vol.WindowLevel))
	gl.Uniform1f(b.uniforms["uWindowWidth"], float32(vol.WindowWidth))

	extent := boxMax.Sub(boxMin)
	maxExtent := extent.X()
	if extent.Y() > maxExtent {
		maxExtent = extent.Y()
	}
	if extent.Z() > maxExtent {
		maxExtent = extent.Z()
	}

	gl.Uniform1i(b.uniforms["uMode"], int32(req.Mode))
	gl.Uniform1f(b.uniforms["uStepSize"], float32(s.StepSize*maxExtent))
	gl.Uniform1i(b.uniforms["uMaxSteps"], int32(s.MaxSteps))
	gl.Uniform1f(b.uniforms["uIsoValue"], float32(s.IsoValue))
	// Gradient-dependent paths (shading, adaptive stepping, the
	// isosurface hit test) all collapse to the no-gradient behavior
	// when the texture was never uploaded.
	gl.Uniform1i(b.uniforms["uShadingEnabled"], boolUniform(s.ShadingEnabled))
	gl.Uniform1i(b.uniforms["uHasGradient"], boolUniform(vt.gradient != 0))
	gl.Uniform1i(b.uniforms["uAdaptiveSampling"], boolUniform(s.AdaptiveSampling))

	// Only enabled planes are uploaded; the shader loops over the
	// compacted array.
	planes := make([]float32, 0, maxClipPlanes*4)
	count := int32(0)
	if s.ClippingEnabled {
		for _, p := range s.ClippingPlanes {
			if !p.Enabled || count == maxClipPlanes {
				continue
			}
			planes = append(planes,
				float32(p.Normal.X()), float32(p.Normal.Y()), float32(p.Normal.Z()),
				float32(p.Distance))
			count++
		}
	}
	gl.Uniform1i(b.uniforms["uClippingEnabled"], boolUniform(s.ClippingEnabled))
	gl.Uniform1i(b.uniforms["uClipPlaneCount"], count)
	if count > 0 {
		gl.Uniform4fv(b.uniforms["uClipPlanes"], count, &planes[0])
	}

	b.setVec3("uLightDir", s.LightDirection)
	b.setVec3("uLightColor", s.LightColor)
	gl.Uniform1f(b.uniforms["uAmbient"], float32(s.AmbientStrength))

	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)

	return nil
}

func (b *Backend) setMat4(name string, m mgl64.Mat4) {
	var f mgl32.Mat4
	for i := 0; i < 16; i++ {
		f[i] = float32(m[i])
	}
	gl.UniformMatrix4fv(b.uniforms[name], 1, false, &f[0])
}

func (b *Backend) setVec3(name string, v mgl64.Vec3) {
	gl.Uniform3f(b.uniforms[name], float32(v.X()), float32(v.Y()), float32(v.Z()))
}

func boolUniform(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// ReleaseVolume deletes the volume's textures.
func (b *Backend) ReleaseVolume(h render.Handle) {
	vt, ok := b.volumes[h]
	if !ok {
		return
	}
	gl.DeleteTextures(1, &vt.scalar)
	if vt.gradient != 0 {
		gl.DeleteTextures(1, &vt.gradient)
	}
	delete(b.volumes, h)
}

// ReleaseLUT deletes a transfer function texture.
func (b *Backend) ReleaseLUT(h render.Handle) {
	tex, ok := b.luts[h]
	if !ok {
		return
	}
	gl.DeleteTextures(1, &tex)
	delete(b.luts, h)
}

// Dispose releases every GL resource the backend owns. Idempotent.
func (b *Backend) Dispose() {
	for h := range b.volumes {
		b.ReleaseVolume(h)
	}
	for h := range b.luts {
		b.ReleaseLUT(h)
	}
	if b.program != 0 {
		gl.DeleteProgram(b.program)
		b.program = 0
	}
	if b.vao != 0 {
		gl.DeleteVertexArrays(1, &b.vao)
		b.vao = 0
	}
}
