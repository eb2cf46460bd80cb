// Package glbackend implements the rendering backend on OpenGL 4.1
// core. The per-sample algorithm in the fragment shader mirrors the CPU
// reference backend step for step; the CPU path is the executable
// definition, this is the fast path.
package glbackend

import (
	"fmt"
	"strings"
)

// UniformSpec documents one uniform of a shader asset: its GLSL name,
// type, and what the host binds into it. Keeping the descriptor next to
// the source lets the backend resolve and validate every location at
// link time instead of failing silently at draw time.
type UniformSpec struct {
	Name string
	Type string
	Doc  string
}

// TextureBinding documents a sampler uniform and the fixed texture unit
// the host binds it to.
type TextureBinding struct {
	Name   string
	Target string
	Unit   int32
}

// ShaderAsset is a versioned, typed shader program source with explicit
// uniform and binding descriptors, rather than a free-floating string
// blob.
type ShaderAsset struct {
	Name     string
	Version  string
	Vertex   string
	Fragment string
	Uniforms []UniformSpec
	Textures []TextureBinding
}

// Validate checks that every declared uniform and sampler actually
// occurs in the program source, catching descriptor drift early.
func (a *ShaderAsset) Validate() error {
	src := a.Vertex + a.Fragment
	for _, u := range a.Uniforms {
		if !strings.Contains(src, u.Name) {
			return fmt.Errorf("shader asset %s@%s declares uniform %q not present in source", a.Name, a.Version, u.Name)
		}
	}
	for _, t := range a.Textures {
		if !strings.Contains(src, t.Name) {
			return fmt.Errorf("shader asset %s@%s declares sampler %q not present in source", a.Name, a.Version, t.Name)
		}
	}
	return nil
}

// maxClipPlanes bounds the clipping plane uniform array; it matches the
// array length in the fragment shader.
const maxClipPlanes = 8

// RayMarchAsset is the volume ray-march program. The vertex stage emits
// a fullscreen quad from gl_VertexID; the fragment stage runs the full
// windowing -> clipping -> mode dispatch -> compositing pipeline per
// pixel.
var RayMarchAsset = ShaderAsset{
	Name:     "volume-raymarch",
	Version:  "1.2.0",
	Vertex:   rayMarchVertexSrc,
	Fragment: rayMarchFragmentSrc,
	Uniforms: []UniformSpec{
		{Name: "uInvViewProj", Type: "mat4", Doc: "inverse of projection*view, unprojects NDC to world"},
		{Name: "uInvVolToWorld", Type: "mat4", Doc: "world to volume space"},
		{Name: "uVolToWorld", Type: "mat4", Doc: "volume to world space, for clipping"},
		{Name: "uBoxMin", Type: "vec3", Doc: "physical bounding box minimum corner"},
		{Name: "uBoxMax", Type: "vec3", Doc: "physical bounding box maximum corner"},
		{Name: "uSampleScale", Type: "float", Doc: "texture value to raw sample scale"},
		{Name: "uSampleOffset", Type: "float", Doc: "texture value to raw sample offset"},
		{Name: "uRescaleSlope", Type: "float", Doc: "DICOM rescale slope"},
		{Name: "uRescaleIntercept", Type: "float", Doc: "DICOM rescale intercept"},
		{Name: "uWindowLevel", Type: "float", Doc: "display window center, calibrated units"},
		{Name: "uWindowWidth", Type: "float", Doc: "display window width, calibrated units"},
		{Name: "uMode", Type: "int", Doc: "render mode code: 0 dvr, 1 mip, 2 minip, 3 isosurface"},
		{Name: "uStepSize", Type: "float", Doc: "march increment in volume units"},
		{Name: "uMaxSteps", Type: "int", Doc: "iteration cap per ray"},
		{Name: "uIsoValue", Type: "float", Doc: "isosurface threshold in windowed space"},
		{Name: "uShadingEnabled", Type: "int", Doc: "Phong shading toggle"},
		{Name: "uHasGradient", Type: "int", Doc: "whether a gradient texture is bound for this volume"},
		{Name: "uAdaptiveSampling", Type: "int", Doc: "gradient-driven step modulation toggle"},
		{Name: "uClippingEnabled", Type: "int", Doc: "clipping plane group toggle"},
		{Name: "uClipPlaneCount", Type: "int", Doc: "number of enabled planes uploaded"},
		{Name: "uClipPlanes", Type: "vec4[8]", Doc: "xyz normal, w signed distance, world space"},
		{Name: "uLightDir", Type: "vec3", Doc: "direction toward the light"},
		{Name: "uLightColor", Type: "vec3", Doc: "directional light RGB intensity"},
		{Name: "uAmbient", Type: "float", Doc: "ambient term of the Phong model"},
	},
	Textures: []TextureBinding{
		{Name: "uVolume", Target: "sampler3D", Unit: 0},
		{Name: "uGradient", Target: "sampler3D", Unit: 1},
		{Name: "uTransferLUT", Target: "sampler1D", Unit: 2},
	},
}

const rayMarchVertexSrc = `#version 410 core

const vec2 positions[4] = vec2[](
    vec2(-1.0, -1.0),
    vec2( 1.0, -1.0),
    vec2(-1.0,  1.0),
    vec2( 1.0,  1.0)
);

out vec2 fragCoord;

void main() {
    vec2 pos = positions[gl_VertexID];
    fragCoord = pos * 0.5 + 0.5;
    gl_Position = vec4(pos, 0.0, 1.0);
}
`

const rayMarchFragmentSrc = `#version 410 core

in vec2 fragCoord;
out vec4 outColor;

uniform mat4 uInvViewProj;
uniform mat4 uInvVolToWorld;
uniform mat4 uVolToWorld;
uniform vec3 uBoxMin;
uniform vec3 uBoxMax;

uniform sampler3D uVolume;
uniform sampler3D uGradient;
uniform sampler1D uTransferLUT;

uniform float uSampleScale;
uniform float uSampleOffset;
uniform float uRescaleSlope;
uniform float uRescaleIntercept;
uniform float uWindowLevel;
uniform float uWindowWidth;

uniform int   uMode;
uniform float uStepSize;
uniform int   uMaxSteps;
uniform float uIsoValue;
uniform int   uShadingEnabled;
uniform int   uHasGradient;
uniform int   uAdaptiveSampling;

uniform int   uClippingEnabled;
uniform int   uClipPlaneCount;
uniform vec4  uClipPlanes[8];

uniform vec3  uLightDir;
uniform vec3  uLightColor;
uniform float uAmbient;

const float OPACITY_EPSILON  = 0.01;
const float GRADIENT_EPSILON = 0.1;
const float EARLY_EXIT_ALPHA = 0.95;
const float ISO_EPSILON      = 0.01;
const float SPECULAR_POWER   = 32.0;
const float SPECULAR_GAIN    = 0.3;

vec3 toVolume(vec4 clip) {
    vec4 world = uInvViewProj * clip;
    world /= world.w;
    return (uInvVolToWorld * vec4(world.xyz, 1.0)).xyz;
}

// Slab method. Parallel-axis rays produce +-inf slopes which resolve
// correctly through min/max as long as the origin is off the slab
// boundary.
bool intersectBox(vec3 ro, vec3 rd, out float tNear, out float tFar) {
    vec3 inv = 1.0 / rd;
    vec3 t1 = (uBoxMin - ro) * inv;
    vec3 t2 = (uBoxMax - ro) * inv;
    vec3 tmin = min(t1, t2);
    vec3 tmax = max(t1, t2);
    tNear = max(tmin.x, max(tmin.y, tmin.z));
    tFar  = min(tmax.x, min(tmax.y, tmax.z));
    return tNear <= tFar && tFar >= 0.0;
}

bool clipped(vec3 pos) {
    vec3 world = (uVolToWorld * vec4(pos, 1.0)).xyz;
    for (int i = 0; i < uClipPlaneCount; i++) {
        if (dot(world, uClipPlanes[i].xyz) + uClipPlanes[i].w < 0.0) {
            return true;
        }
    }
    return false;
}

float windowedAt(vec3 norm) {
    float raw = texture(uVolume, norm).r * uSampleScale + uSampleOffset;
    float calibrated = raw * uRescaleSlope + uRescaleIntercept;
    return clamp((calibrated - (uWindowLevel - uWindowWidth * 0.5)) / uWindowWidth, 0.0, 1.0);
}

vec3 shade(vec3 color, vec3 normal, vec3 rayDir) {
    if (dot(normal, rayDir) > 0.0) {
        normal = -normal;
    }
    vec3 light = normalize(uLightDir);
    vec3 viewDir = -rayDir;
    float diffuse = max(dot(normal, light), 0.0);
    vec3 halfway = normalize(light + viewDir);
    float specular = SPECULAR_GAIN * pow(max(dot(normal, halfway), 0.0), SPECULAR_POWER);
    return color * uAmbient + color * diffuse * uLightColor + specular * uLightColor;
}

void main() {
    vec2 ndc = fragCoord * 2.0 - 1.0;
    vec3 nearPt = toVolume(vec4(ndc, -1.0, 1.0));
    vec3 farPt  = toVolume(vec4(ndc,  1.0, 1.0));
    vec3 rayDir = normalize(farPt - nearPt);

    float tNear, tFar;
    if (!intersectBox(nearPt, rayDir, tNear, tFar)) {
        discard;
    }
    tNear = max(tNear, 0.0);

    vec3 extent = uBoxMax - uBoxMin;

    vec4 accum = vec4(0.0);
    float maxWindowed = 0.0;
    float minWindowed = 1.0;
    bool sampled = false;

    float t = tNear;
    for (int i = 0; i < uMaxSteps; i++) {
        if (t >= tFar) {
            break;
        }
        vec3 pos = nearPt + rayDir * t;
        float advance = uStepSize;

        vec3 norm = (pos - uBoxMin) / extent;
        if (any(lessThan(norm, vec3(0.0))) || any(greaterThan(norm, vec3(1.0)))) {
            t += advance;
            continue;
        }
        if (uClippingEnabled == 1 && clipped(pos)) {
            t += advance;
            continue;
        }

        float windowed = windowedAt(norm);
        sampled = true;

        vec3 grad = vec3(0.0);
        float gradMag = 0.0;
        if (uHasGradient == 1) {
            grad = texture(uGradient, norm).rgb * 2.0 - 1.0;
            gradMag = length(grad);
        }

        if (uAdaptiveSampling == 1) {
            advance = uStepSize * (0.5 + 0.5 / (1.0 + 10.0 * gradMag));
        }

        if (uMode == 0) { // dvr
            vec4 sample4 = texture(uTransferLUT, windowed);
            if (sample4.a > OPACITY_EPSILON) {
                vec3 color = sample4.rgb;
                if (uShadingEnabled == 1 && gradMag > GRADIENT_EPSILON) {
                    color = shade(color, grad / gradMag, rayDir);
                }
                float aPrime = sample4.a * (1.0 - accum.a);
                accum.rgb += color * aPrime;
                accum.a += aPrime;
                if (accum.a >= EARLY_EXIT_ALPHA) {
                    break;
                }
            }
        } else if (uMode == 1) { // mip
            maxWindowed = max(maxWindowed, windowed);
        } else if (uMode == 2) { // minip
            minWindowed = min(minWindowed, windowed);
        } else { // isosurface
            if (abs(windowed - uIsoValue) < ISO_EPSILON && gradMag > GRADIENT_EPSILON) {
                vec3 color = texture(uTransferLUT, windowed).rgb;
                color = shade(color, grad / gradMag, rayDir);
                outColor = vec4(clamp(color, 0.0, 1.0), 1.0);
                return;
            }
        }

        t += advance;
    }

    if (uMode == 1) {
        if (!sampled) {
            discard;
        }
        outColor = vec4(texture(uTransferLUT, maxWindowed).rgb, 1.0);
    } else if (uMode == 2) {
        if (!sampled) {
            discard;
        }
        outColor = vec4(texture(uTransferLUT, minWindowed).rgb, 1.0);
    } else if (uMode == 3) {
        discard;
    } else {
        // Front-to-back compositing premultiplies by construction;
        // divide it back out so the blend stage sees straight alpha.
        vec3 rgb = accum.a > 0.0 ? accum.rgb / accum.a : vec3(0.0);
        outColor = clamp(vec4(rgb, accum.a), 0.0, 1.0);
    }
}
`
