// Package vec provides float32 vector and quaternion primitives used
// throughout the reconstruction pipeline (rotations, translations,
// directional statistics).
package vec

import "github.com/chewxy/math32"

// Vec3 is a plain 3-component float32 vector.
type Vec3 [3]float32

func NewVec3(x, y, z float32) Vec3 { return Vec3{x, y, z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) MulC(c float32) Vec3 { return Vec3{v[0] * c, v[1] * c, v[2] * c} }

func (v Vec3) Dot(o Vec3) float32 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec3) SumSqr() float32 { return v.Dot(v) }

func (v Vec3) Magnitude() float32 { return math32.Sqrt(v.SumSqr()) }

func (v Vec3) Normal() Vec3 {
	m := v.Magnitude()
	if m == 0 {
		return v
	}
	return v.MulC(1 / m)
}

// Vec2 is a 2-component float32 vector, used for in-plane shifts.
type Vec2 [2]float32

func NewVec2(x, y float32) Vec2 { return Vec2{x, y} }

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v[0] + o[0], v[1] + o[1]} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v[0] - o[0], v[1] - o[1]} }
func (v Vec2) MulC(c float32) Vec2 { return Vec2{v[0] * c, v[1] * c} }

func (v Vec2) Clamp(minX, maxX, minY, maxY float32) Vec2 {
	return Vec2{clamp(v[0], minX, maxX), clamp(v[1], minY, maxY)}
}

func clamp(a, min, max float32) float32 {
	switch {
	case a > max:
		return max
	case a < min:
		return min
	default:
		return a
	}
}
