// Package projector implements the Projector external collaborator of
// §4.1: central-slice projection of a 3D reference volume, in Fourier
// space, under a rotation and an optional in-plane translation.
//
// Grounded on the teacher's small-transform-with-options shape (each
// kinematics/wheels drive package wraps one coordinate transform behind a
// single entry point) and on pkg/core/math/kernel for the optional
// gridding interpolation mode.
package projector

import (
	"github.com/chewxy/math32"

	"github.com/itohio/cryoem/pkg/core/math/kernel"
	"github.com/itohio/cryoem/pkg/core/math/mat"
	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/reconimage"
)

// Interp selects the volume-sampling method used to read the central
// slice off the reference's Fourier grid.
type Interp int

const (
	Trilinear Interp = iota
	Gridding
)

// Projector projects central slices of one reference Volume.
type Projector struct {
	vol    *reconimage.Volume
	pf     int
	rMax   float32
	interp Interp
	kern   *kernel.Table
}

// New builds a Projector over vol. pf is the padding factor relating
// output pixel coordinates to the padded volume's Fourier grid; rMax is
// the band-limit radius in output pixels. kern may be nil when interp is
// Trilinear.
func New(vol *reconimage.Volume, pf int, rMax float32, interp Interp, kern *kernel.Table) *Projector {
	return &Projector{vol: vol, pf: pf, rMax: rMax, interp: interp, kern: kern}
}

// Project fills out's Fourier half-spectrum with the central slice of the
// reference under rotation rot and shift trans, per §4.1: pixels with
// i^2+j^2 >= rMax^2 are zeroed.
func (p *Projector) Project(out *reconimage.Image, rot mat.Matrix3x3, trans vec.Vec2) {
	if out.Space() != reconimage.SpaceFourier {
		out.ResetFourier()
	}
	n := out.N()
	half := n/2 + 1
	rMax2 := p.rMax * p.rMax

	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for col := 0; col < half; col++ {
			u := col
			if float32(u*u+v*v) >= rMax2 {
				out.Set(u, v, 0)
				continue
			}

			x, y, z := rot.Apply2(float32(u*p.pf), float32(v*p.pf))
			var val complex64
			if p.interp == Gridding && p.kern != nil {
				val = p.sampleGridding(x, y, z)
			} else {
				val = p.sampleTrilinear(x, y, z)
			}

			if trans[0] != 0 || trans[1] != 0 {
				phase := -2 * math32.Pi * (float32(u)*trans[0] + float32(v)*trans[1]) / float32(n)
				c, s := math32.Cos(phase), math32.Sin(phase)
				val *= complex64(complex(c, s))
			}
			out.Set(u, v, val)
		}
	}
}

func (p *Projector) sampleTrilinear(x, y, z float32) complex64 {
	x0 := math32.Floor(x)
	y0 := math32.Floor(y)
	z0 := math32.Floor(z)
	fx, fy, fz := x-x0, y-y0, z-z0

	var sum complex64
	for di := 0; di < 2; di++ {
		wx := fx
		if di == 0 {
			wx = 1 - fx
		}
		for dj := 0; dj < 2; dj++ {
			wy := fy
			if dj == 0 {
				wy = 1 - fy
			}
			for dk := 0; dk < 2; dk++ {
				wz := fz
				if dk == 0 {
					wz = 1 - fz
				}
				w := wx * wy * wz
				if w == 0 {
					continue
				}
				ix, iy, iz := int(x0)+di, int(y0)+dj, int(z0)+dk
				sum += complex64(complex(w, 0)) * p.vol.At(ix, iy, iz)
			}
		}
	}
	return sum
}

// sampleGridding reads the volume at a non-integer coordinate by a small
// local convolution with the kernel's Fourier-domain profile, the same
// weighting function the Reconstructor uses to spread insertions.
func (p *Projector) sampleGridding(x, y, z float32) complex64 {
	support := p.kern.Support()
	r := int(math32.Ceil(support))
	x0, y0, z0 := int(math32.Floor(x)), int(math32.Floor(y)), int(math32.Floor(z))

	var sum complex64
	var wsum float32
	for di := -r; di <= r+1; di++ {
		for dj := -r; dj <= r+1; dj++ {
			for dk := -r; dk <= r+1; dk++ {
				ix, iy, iz := x0+di, y0+dj, z0+dk
				dx, dy, dz := x-float32(ix), y-float32(iy), z-float32(iz)
				r2 := dx*dx + dy*dy + dz*dz
				w := p.kern.FT(r2)
				if w == 0 {
					continue
				}
				sum += complex64(complex(w, 0)) * p.vol.At(ix, iy, iz)
				wsum += w
			}
		}
	}
	if wsum == 0 {
		return 0
	}
	return complex64(complex(1/wsum, 0)) * sum
}
