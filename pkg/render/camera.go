package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ray is a ray in volume space: origin plus normalized direction.
type ray struct {
	origin mgl64.Vec3
	dir    mgl64.Vec3
}

// frameCamera unprojects output pixels into volume-space rays for one
// frame. Both the camera matrices and the volume placement are folded
// in up front so the per-pixel work is two matrix-vector products.
type frameCamera struct {
	invViewProj   mgl64.Mat4
	invVolToWorld mgl64.Mat4
	volToWorld    mgl64.Mat4
	width         int
	height        int
}

func newFrameCamera(s *RenderingState, width, height int) frameCamera {
	viewProj := s.ProjectionMatrix.Mul4(s.ViewMatrix)
	return frameCamera{
		invViewProj:   viewProj.Inv(),
		invVolToWorld: s.VolumeToWorld.Inv(),
		volToWorld:    s.VolumeToWorld,
		width:         width,
		height:        height,
	}
}

// rayThrough builds the volume-space ray through the center of pixel
// (x, y). Pixel (0,0) is the top-left of the output buffer.
func (c *frameCamera) rayThrough(x, y int) ray {
	ndcX := 2*(float64(x)+0.5)/float64(c.width) - 1
	ndcY := 1 - 2*(float64(y)+0.5)/float64(c.height)

	near := c.unproject(mgl64.Vec4{ndcX, ndcY, -1, 1})
	far := c.unproject(mgl64.Vec4{ndcX, ndcY, 1, 1})

	dir := far.Sub(near)
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	return ray{origin: near, dir: dir}
}

// unproject maps a clip-space point all the way into volume space.
func (c *frameCamera) unproject(clip mgl64.Vec4) mgl64.Vec3 {
	world := c.invViewProj.Mul4x1(clip)
	if w := world.W(); w != 0 {
		world = world.Mul(1 / w)
	}
	vol := c.invVolToWorld.Mul4x1(mgl64.Vec4{world.X(), world.Y(), world.Z(), 1})
	return vol.Vec3()
}

// toWorld maps a volume-space point back into world space, used for
// clipping plane evaluation which is defined on world points.
func (c *frameCamera) toWorld(p mgl64.Vec3) mgl64.Vec3 {
	w := c.volToWorld.Mul4x1(mgl64.Vec4{p.X(), p.Y(), p.Z(), 1})
	return w.Vec3()
}

// rayBoxIntersection runs the slab method against an axis-aligned box.
// It returns the entry and exit distances along the ray and whether the
// ray hits the box at all: a miss is tNear > tFar or an exit behind the
// origin (tFar < 0). Axes where the ray runs parallel to the slab are
// resolved by an explicit inside/outside test to avoid 0/0.
func rayBoxIntersection(r ray, boxMin, boxMax mgl64.Vec3) (tNear, tFar float64, hit bool) {
	tNear = math.Inf(-1)
	tFar = math.Inf(1)

	for axis := 0; axis < 3; axis++ {
		o := r.origin[axis]
		d := r.dir[axis]
		lo := boxMin[axis]
		hi := boxMax[axis]

		if d == 0 {
			if o < lo || o > hi {
				return 0, 0, false
			}
			continue
		}

		t1 := (lo - o) / d
		t2 := (hi - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tNear {
			tNear = t1
		}
		if t2 < tFar {
			tFar = t2
		}
	}

	if tNear > tFar || tFar < 0 {
		return tNear, tFar, false
	}
	return tNear, tFar, true
}
