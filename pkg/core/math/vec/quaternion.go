package vec

import (
	"github.com/chewxy/math32"
	"github.com/itohio/cryoem/pkg/core/math/mat"
)

// Quaternion is a unit quaternion [x, y, z, w] (w is the scalar part),
// following the teacher's convention of storing the scalar part last.
type Quaternion [4]float32

func NewQuaternion(x, y, z, w float32) Quaternion { return Quaternion{x, y, z, w} }

func IdentityQuaternion() Quaternion { return Quaternion{0, 0, 0, 1} }

func (q Quaternion) XYZW() (float32, float32, float32, float32) {
	return q[0], q[1], q[2], q[3]
}

func (q Quaternion) SumSqr() float32 {
	return q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
}

func (q Quaternion) Magnitude() float32 { return math32.Sqrt(q.SumSqr()) }

func (q Quaternion) Normal() Quaternion {
	m := q.Magnitude()
	if m == 0 {
		return IdentityQuaternion()
	}
	inv := 1 / m
	return Quaternion{q[0] * inv, q[1] * inv, q[2] * inv, q[3] * inv}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{-q[0], -q[1], -q[2], q[3]}
}

func (q Quaternion) Dot(o Quaternion) float32 {
	return q[0]*o[0] + q[1]*o[1] + q[2]*o[2] + q[3]*o[3]
}

// Product computes the Hamilton product a*b (rotate-by-b-then-a composition
// when both are applied as q v q^-1).
func (a Quaternion) Product(b Quaternion) Quaternion {
	x := a[3]*b[0] + a[0]*b[3] + a[1]*b[2] - a[2]*b[1]
	y := a[3]*b[1] - a[0]*b[2] + a[1]*b[3] + a[2]*b[0]
	z := a[3]*b[2] + a[0]*b[1] - a[1]*b[0] + a[2]*b[3]
	w := a[3]*b[3] - a[0]*b[0] - a[1]*b[1] - a[2]*b[2]
	return Quaternion{x, y, z, w}
}

func (q Quaternion) Slerp(o Quaternion, t float32) Quaternion {
	const eps = 1e-6
	cosA := q.Dot(o)
	flip := float32(1)
	if cosA < 0 {
		cosA = -cosA
		flip = -1
	}
	var k0, k1 float32
	if 1-cosA < eps {
		k0, k1 = 1-t, t
	} else {
		angle := math32.Acos(cosA)
		sinA := math32.Sin(angle)
		k0 = math32.Sin((1-t)*angle) / sinA
		k1 = math32.Sin(t*angle) / sinA
	}
	k1 *= flip
	return Quaternion{
		k0*q[0] + k1*o[0],
		k0*q[1] + k1*o[1],
		k0*q[2] + k1*o[2],
		k0*q[3] + k1*o[3],
	}.Normal()
}

// ToMatrix3x3 converts this unit quaternion to its rotation matrix.
func (q Quaternion) ToMatrix3x3() mat.Matrix3x3 {
	x, y, z, w := q.Normal().XYZW()
	x2, y2, z2 := x+x, y+y, z+z
	xx, yy, zz := x*x2, y*y2, z*z2
	xy, xz, yz := x*y2, x*z2, y*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	return mat.Matrix3x3{
		{1 - (yy + zz), xy - wz, xz + wy},
		{xy + wz, 1 - (xx + zz), yz - wx},
		{xz - wy, yz + wx, 1 - (xx + yy)},
	}
}

// QuaternionFromMatrix3x3 recovers a unit quaternion from a rotation matrix
// (Shepperd's method).
func QuaternionFromMatrix3x3(m mat.Matrix3x3) Quaternion {
	trace := m[0][0] + m[1][1] + m[2][2]
	switch {
	case trace > 0:
		s := math32.Sqrt(trace+1) * 2
		return Quaternion{
			(m[2][1] - m[1][2]) / s,
			(m[0][2] - m[2][0]) / s,
			(m[1][0] - m[0][1]) / s,
			0.25 * s,
		}.Normal()
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math32.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		return Quaternion{
			0.25 * s,
			(m[0][1] + m[1][0]) / s,
			(m[0][2] + m[2][0]) / s,
			(m[2][1] - m[1][2]) / s,
		}.Normal()
	case m[1][1] > m[2][2]:
		s := math32.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		return Quaternion{
			(m[0][1] + m[1][0]) / s,
			0.25 * s,
			(m[1][2] + m[2][1]) / s,
			(m[0][2] - m[2][0]) / s,
		}.Normal()
	default:
		s := math32.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		return Quaternion{
			(m[0][2] + m[2][0]) / s,
			(m[1][2] + m[2][1]) / s,
			0.25 * s,
			(m[1][0] - m[0][1]) / s,
		}.Normal()
	}
}

// Euler returns the ZYZ Euler angles (phi, theta, psi) conventionally used
// for cryo-EM orientations: R = Rz(phi) * Ry(theta) * Rz(psi).
func (q Quaternion) Euler() (phi, theta, psi float32) {
	m := q.ToMatrix3x3()
	const eps = 1e-5
	theta = math32.Acos(clampF(m[2][2], -1, 1))
	if theta < eps || theta > math32.Pi-eps {
		// gimbal lock: only phi+psi (or phi-psi) is determined; fix psi = 0.
		phi = math32.Atan2(m[1][0], m[0][0])
		psi = 0
		return
	}
	phi = math32.Atan2(m[1][2], m[0][2])
	psi = math32.Atan2(m[2][1], -m[2][0])
	return
}

// QuaternionFromEuler builds a unit quaternion from ZYZ Euler angles.
func QuaternionFromEuler(phi, theta, psi float32) Quaternion {
	m := mat.RotationZ(phi).Mul(mat.RotationY(theta)).Mul(mat.RotationZ(psi))
	return QuaternionFromMatrix3x3(m)
}

func clampF(a, min, max float32) float32 {
	switch {
	case a > max:
		return max
	case a < min:
		return min
	default:
		return a
	}
}
