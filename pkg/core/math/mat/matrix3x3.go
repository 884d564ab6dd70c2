// Package mat provides the float32 3x3 rotation matrix primitives used by
// the projector, reconstructor and symmetry operator tables. Rows are the
// outer index: m[row][col].
package mat

import "github.com/chewxy/math32"

type Matrix3x3 [3][3]float32

func Identity3x3() Matrix3x3 {
	return Matrix3x3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func RotationX(a float32) Matrix3x3 {
	c, s := math32.Cos(a), math32.Sin(a)
	return Matrix3x3{
		{1, 0, 0},
		{0, c, -s},
		{0, s, c},
	}
}

func RotationY(a float32) Matrix3x3 {
	c, s := math32.Cos(a), math32.Sin(a)
	return Matrix3x3{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}
}

func RotationZ(a float32) Matrix3x3 {
	c, s := math32.Cos(a), math32.Sin(a)
	return Matrix3x3{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}

// Mul computes m * o.
func (m Matrix3x3) Mul(o Matrix3x3) Matrix3x3 {
	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += m[i][k] * o[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// Apply transforms a 3-vector (x, y, z) by this matrix.
func (m Matrix3x3) Apply(x, y, z float32) (float32, float32, float32) {
	return m[0][0]*x + m[0][1]*y + m[0][2]*z,
		m[1][0]*x + m[1][1]*y + m[1][2]*z,
		m[2][0]*x + m[2][1]*y + m[2][2]*z
}

// Apply2 transforms a 2-vector (x, y, 0) by this matrix, which is the shape
// of a slice coordinate projected through a 3D rotation.
func (m Matrix3x3) Apply2(x, y float32) (float32, float32, float32) {
	return m.Apply(x, y, 0)
}

func (m Matrix3x3) Transpose() Matrix3x3 {
	var r Matrix3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[j][i] = m[i][j]
		}
	}
	return r
}

// Inverse returns the transpose, valid because rotation matrices are
// orthonormal.
func (m Matrix3x3) Inverse() Matrix3x3 { return m.Transpose() }
