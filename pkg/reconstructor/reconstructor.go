// Package reconstructor implements the Reconstructor of §4.2: gridding
// insertion of 2D Fourier slices into a padded 3D volume, hemisphere
// all-reduce plus symmetry averaging, the fixed-point weight-balancing
// loop, and the final deconvolved real-space reconstruction.
//
// Grounded on the teacher's convolution-loop shape
// (pkg/core/math/tensor/eager_tensor's im2col/conv pattern: accumulate
// into a buffer, then a second pass folds a kernel profile over it) and
// on the small-state-struct-with-Update idiom of pkg/core/math/filter's
// Kalman-style filters for the buffer bundle (F, T, W, C) carried between
// calls.
package reconstructor

import (
	"github.com/chewxy/math32"

	"github.com/itohio/cryoem/pkg/core/fft"
	"github.com/itohio/cryoem/pkg/core/math/kernel"
	"github.com/itohio/cryoem/pkg/core/math/mat"
	"github.com/itohio/cryoem/pkg/reconimage"
	"github.com/itohio/cryoem/pkg/symmetry"
	"github.com/itohio/cryoem/pkg/transport"
)

// Balancing loop tuning constants, named in spec.md's "Balancing loop" step.
const (
	MaxIterBalance       = 30
	MinIterBalance       = 5
	DiffCThreshold       = 1e-3
	DiffCDecreaseThresh  = 0.01
	NDiffCNoDecreaseCap  = 3
	weightFloor          = 1e-6
)

// Reconstructor holds one hemisphere's insertion buffers for a padded
// N*pf cube.
type Reconstructor struct {
	n, pf, nPad int
	rMax        float32 // band radius in unpadded pixels
	kern        *kernel.Table
	tr          fft.Transformer
	sym         *symmetry.Group // nil => no symmetrization (C1)

	F, T, C *reconimage.Volume
	W       *reconimage.Volume // real-valued weight, carried in the real part of each complex64
}

// New builds a Reconstructor for an unpadded box of side n, padding factor
// pf, band radius rMax (in unpadded pixels), gridding kernel kern, FFT
// backend tr, and symmetry group sym (nil for C1).
func New(n, pf int, rMax float32, kern *kernel.Table, tr fft.Transformer, sym *symmetry.Group) *Reconstructor {
	nPad := n * pf
	r := &Reconstructor{n: n, pf: pf, nPad: nPad, rMax: rMax, kern: kern, tr: tr, sym: sym}
	r.F = reconimage.NewVolume(nPad)
	r.T = reconimage.NewVolume(nPad)
	r.C = reconimage.NewVolume(nPad)
	r.W = reconimage.NewVolume(nPad)
	r.F.ResetFourier()
	r.T.ResetFourier()
	r.C.ResetFourier()
	r.W.ResetFourier()
	return r
}

// Insert spreads one CTF-weighted 2D Fourier slice into F and T at pose
// rot, per §4.2's insert contract.
func (r *Reconstructor) Insert(src, ctfImg *reconimage.Image, rot mat.Matrix3x3, weight float32) {
	n := src.N()
	half := n/2 + 1
	rMax2 := r.rMax * r.rMax
	support := r.kern.Support()
	kr := int(math32.Ceil(support))

	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for col := 0; col < half; col++ {
			u := col
			if float32(u*u+v*v) >= rMax2 {
				continue
			}
			ctfVal := real(ctfImg.At(u, v))
			srcVal := src.At(u, v)

			x, y, z := rot.Apply2(float32(u*r.pf), float32(v*r.pf))
			x0, y0, z0 := int(math32.Floor(x)), int(math32.Floor(y)), int(math32.Floor(z))

			for di := -kr; di <= kr+1; di++ {
				for dj := -kr; dj <= kr+1; dj++ {
					for dk := -kr; dk <= kr+1; dk++ {
						ix, iy, iz := x0+di, y0+dj, z0+dk
						dx, dy, dz := x-float32(ix), y-float32(iy), z-float32(iz)
						r2 := dx*dx + dy*dy + dz*dz
						wgt := r.kern.FT(r2)
						if wgt == 0 {
							continue
						}
						fVal := srcVal * complex64(complex(ctfVal*wgt*weight, 0))
						tVal := complex64(complex(ctfVal*ctfVal*wgt*weight, 0))
						r.F.Add(ix, iy, iz, fVal)
						r.T.Add(ix, iy, iz, tVal)
					}
				}
			}
		}
	}
}

// PrepareTF all-reduces F and T within the hemisphere communicator, then —
// for a non-trivial 3D symmetry group — averages each voxel over the
// group's rotated copies via linear Fourier interpolation, per §4.2.
func (r *Reconstructor) PrepareTF(comm transport.Comm) {
	allReduceVolume(comm, r.F)
	allReduceVolume(comm, r.T)

	if r.sym == nil || r.sym.Order() <= 1 {
		return
	}
	r.F = symmetrize(r.F, r.sym)
	r.T = symmetrize(r.T, r.sym)
}

func allReduceVolume(comm transport.Comm, vol *reconimage.Volume) {
	data := vol.FourierData()
	summed := comm.AllReduceSumComplex(data)
	copy(data, summed)
}

func symmetrize(vol *reconimage.Volume, sym *symmetry.Group) *reconimage.Volume {
	ops := sym.Operators()
	order := float32(len(ops))
	n := vol.N()
	out := reconimage.NewVolume(n)
	out.ResetFourier()
	half := n/2 + 1

	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for plane := 0; plane < n; plane++ {
			w := plane
			if w > n/2 {
				w -= n
			}
			for col := 0; col < half; col++ {
				u := col
				var sum complex64
				for _, op := range ops {
					inv := op.Inverse()
					x, y, z := inv.Apply(float32(u), float32(v), float32(w))
					sum += trilerpVolume(vol, x, y, z)
				}
				out.Set(u, v, w, sum*complex64(complex(1/order, 0)))
			}
		}
	}
	return out
}

func trilerpVolume(vol *reconimage.Volume, x, y, z float32) complex64 {
	x0, y0, z0 := math32.Floor(x), math32.Floor(y), math32.Floor(z)
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
				weight := wx * wy * wz
				if weight == 0 {
					continue
				}
				ix, iy, iz := int(x0)+di, int(y0)+dj, int(z0)+dk
				sum += complex64(complex(weight, 0)) * vol.At(ix, iy, iz)
			}
		}
	}
	return sum
}

// Balance runs the fixed-point weight-balancing loop of §4.2, optionally
// mixing in a Wiener term built from a per-shell FSC curve (fsc == nil
// skips the Wiener term entirely).
func (r *Reconstructor) Balance(fsc []float32, joinHalf bool) {
	rBand := r.rMax * float32(r.pf)
	rBand2 := rBand * rBand

	r.initWeightBand(rBand2)
	if fsc != nil {
		r.applyWienerTerm(fsc, joinHalf)
	}

	prevDiff := float32(math32.MaxFloat32)
	noDecrease := 0
	for iter := 0; iter < MaxIterBalance; iter++ {
		r.computeC()
		diff := r.updateWeightAndDiff(rBand2)

		if diff < DiffCThreshold {
			break
		}
		if iter >= MinIterBalance {
			if prevDiff-diff < DiffCDecreaseThresh*prevDiff {
				noDecrease++
				if noDecrease >= NDiffCNoDecreaseCap {
					break
				}
			} else {
				noDecrease = 0
			}
		}
		prevDiff = diff
	}
}

func (r *Reconstructor) initWeightBand(rBand2 float32) {
	n := r.nPad
	half := n/2 + 1
	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for plane := 0; plane < n; plane++ {
			w := plane
			if w > n/2 {
				w -= n
			}
			for col := 0; col < half; col++ {
				u := col
				val := float32(0)
				if float32(u*u+v*v+w*w) < rBand2 {
					val = 1
				}
				r.W.Set(u, v, w, complex64(complex(val, 0)))
			}
		}
	}
}

// applyWienerTerm adds (1-FSC')/FSC' * avg(T) to T at each resolution
// shell, per §4.2 step 2.
func (r *Reconstructor) applyWienerTerm(fsc []float32, joinHalf bool) {
	n := r.nPad
	half := n/2 + 1
	nShells := len(fsc)

	shellSum := make([]float32, nShells)
	shellCount := make([]int, nShells)
	data := r.T.FourierData()

	forEachVoxel(n, half, func(u, v, w, idx int) {
		shell := int(math32.Sqrt(float32(u*u + v*v + w*w)))
		if shell < nShells {
			shellSum[shell] += real(data[idx])
			shellCount[shell]++
		}
	})

	factor := make([]float32, nShells)
	for k := 0; k < nShells; k++ {
		avg := float32(0)
		if shellCount[k] > 0 {
			avg = shellSum[k] / float32(shellCount[k])
		}
		f := fsc[k]
		if joinHalf {
			f = math32.Sqrt(2 * f / (1 + f))
		}
		const fscLo, fscHi = 1e-3, 0.999
		if f < fscLo {
			f = fscLo
		}
		if f > fscHi {
			f = fscHi
		}
		factor[k] = (1 - f) / f * avg
	}

	forEachVoxel(n, half, func(u, v, w, idx int) {
		shell := int(math32.Sqrt(float32(u*u + v*v + w*w)))
		if shell < nShells {
			data[idx] += complex(factor[shell], 0)
		}
	})
}

func forEachVoxel(n, half int, fn func(u, v, w, idx int)) {
	for plane := 0; plane < n; plane++ {
		w := plane
		if w > n/2 {
			w -= n
		}
		for row := 0; row < n; row++ {
			v := row
			if v > n/2 {
				v -= n
			}
			base := (plane*n + row) * half
			for col := 0; col < half; col++ {
				fn(col, v, w, base+col)
			}
		}
	}
}

// computeC implements step 3a/3b: C = T*W pointwise, then convolve with
// the kernel's real-space profile via inverse FFT -> multiply -> forward
// FFT.
func (r *Reconstructor) computeC() {
	n := r.nPad
	tData := r.T.FourierData()
	wData := r.W.FourierData()
	cData := r.C.FourierData()
	for i := range cData {
		cData[i] = tData[i] * complex64(complex(real(wData[i]), 0))
	}

	real3D := r.tr.Inverse3D(cData, n)
	for idx := range real3D {
		z := idx / (n * n)
		rem := idx % (n * n)
		y := rem / n
		x := rem % n
		cx, cy, cz := wrapCenter(x, n), wrapCenter(y, n), wrapCenter(z, n)
		dist := math32.Sqrt(float32(cx*cx + cy*cy + cz*cz))
		real3D[idx] *= r.kern.RL(dist)
	}
	spec := r.tr.Forward3D(real3D, n)
	copy(cData, spec)
}

func wrapCenter(coord, n int) int {
	if coord > n/2 {
		return coord - n
	}
	return coord
}

// updateWeightAndDiff implements steps 3c/3d: W /= max(|C|, eps) inside
// the band, returns diffC = max(||C|-1|) inside the band.
func (r *Reconstructor) updateWeightAndDiff(rBand2 float32) float32 {
	n := r.nPad
	half := n/2 + 1
	cData := r.C.FourierData()
	wData := r.W.FourierData()

	var maxDiff float32
	forEachVoxel(n, half, func(u, v, w, idx int) {
		if float32(u*u+v*v+w*w) >= rBand2 {
			return
		}
		mag := complexAbs(cData[idx])
		if mag < weightFloor {
			mag = weightFloor
		}
		wData[idx] = complex64(complex(real(wData[idx])/mag, 0))
		diff := math32.Abs(mag - 1)
		if diff > maxDiff {
			maxDiff = diff
		}
	})
	return maxDiff
}

func complexAbs(c complex64) float32 {
	re, im := real(c), imag(c)
	return math32.Sqrt(re*re + im*im)
}

// Reconstruct forms the final real-space density: pad = F*W zeroed
// outside band, inverse FFT, crop to the unpadded N^3 region, deconvolve
// by the kernel's real-space profile and a Tikhonov sinc^2 factor.
func (r *Reconstructor) Reconstruct(clampNegatives bool) *reconimage.Volume {
	n := r.nPad
	half := n/2 + 1
	rBand := r.rMax * float32(r.pf)
	rBand2 := rBand * rBand

	pad := reconimage.NewVolume(n)
	pad.ResetFourier()
	padData := pad.FourierData()
	fData := r.F.FourierData()
	wData := r.W.FourierData()

	forEachVoxel(n, half, func(u, v, w, idx int) {
		if float32(u*u+v*v+w*w) >= rBand2 {
			return
		}
		padData[idx] = fData[idx] * complex64(complex(real(wData[idx]), 0))
	})

	realPadded := r.tr.Inverse3D(padData, n)
	paddedVol := reconimage.NewVolume(n)
	paddedVol.ResetReal()
	copy(paddedVol.RealData(), realPadded)

	// Crop the central nOut^3 region through the same centered/wrapped
	// addressing RealAt/SetRealAt use everywhere else, the inverse of how
	// padVolume embedded the unpadded box in the first place.
	out := reconimage.NewVolume(r.n)
	out.ResetReal()
	nOut := r.n
	half = nOut / 2
	for z := -half; z < half; z++ {
		for y := -half; y < half; y++ {
			for x := -half; x < half; x++ {
				dist := math32.Sqrt(float32(x*x + y*y + z*z))
				rl := r.kern.RL(dist)
				if rl < weightFloor {
					rl = weightFloor
				}
				s := math32.Pi * dist / float32(nOut)
				sinc := float32(1)
				if s != 0 {
					sinc = math32.Sin(s) / s
				}
				tik := sinc * sinc
				if tik < weightFloor {
					tik = weightFloor
				}
				v := paddedVol.RealAt(x, y, z) / (rl * tik)
				if clampNegatives && v < 0 {
					v = 0
				}
				out.SetRealAt(x, y, z, v)
			}
		}
	}
	return out
}
