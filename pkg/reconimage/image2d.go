package reconimage

// Image is the 2D grid of §3: either an N x N real-space array or an
// (N/2+1) x N Fourier half-spectrum.
type Image struct {
	Grid
}

func NewImage(n int) *Image {
	g := newGrid(n, 2)
	return &Image{Grid: g}
}

// RealAt / SetRealAt index the real-space buffer with a centered origin:
// (0,0) is the image centre.
func (im *Image) RealAt(x, y int) float32 {
	n := im.n
	i := centeredIndex(y+n/2, n)
	j := centeredIndex(x+n/2, n)
	return im.RealData()[i*n+j]
}

func (im *Image) SetRealAt(x, y int, v float32) {
	n := im.n
	i := centeredIndex(y+n/2, n)
	j := centeredIndex(x+n/2, n)
	im.RealData()[i*n+j] = v
}

// fourierIndex normalizes a signed centered Fourier coordinate (u,v) into
// the stored half-spectrum's (row, col) plus a conjugate flag, per the
// Hermitian symmetry F(-u,-v) = conj(F(u,v)).
func (im *Image) fourierIndex(u, v int) (row, col int, conj bool) {
	n := im.n
	if u < 0 {
		u, v = -u, -v
		conj = true
	}
	row = centeredIndex(v, n)
	col = u
	return
}

// At returns the (possibly conjugated) Fourier-space value at signed,
// centered coordinate (u, v). Coordinates with |u| > N/2 lie outside the
// stored half-spectrum and read as 0; the caller (projector/reconstructor)
// is responsible for band limiting.
func (im *Image) At(u, v int) complex64 {
	half := im.halfWidth()
	row, col, conj := im.fourierIndex(u, v)
	if col >= half {
		return 0
	}
	val := im.FourierData()[row*half+col]
	if conj {
		return complexConj(val)
	}
	return val
}

// Add accumulates delta into the Fourier-space value at (u, v), honouring
// the Hermitian-conjugate relationship for the stored half.
func (im *Image) Add(u, v int, delta complex64) {
	half := im.halfWidth()
	row, col, conj := im.fourierIndex(u, v)
	if col >= half {
		return
	}
	if conj {
		delta = complexConj(delta)
	}
	im.FourierData()[row*half+col] += delta
}

// Set overwrites the Fourier-space value at (u, v).
func (im *Image) Set(u, v int, val complex64) {
	half := im.halfWidth()
	row, col, conj := im.fourierIndex(u, v)
	if col >= half {
		return
	}
	if conj {
		val = complexConj(val)
	}
	im.FourierData()[row*half+col] = val
}

func complexConj(c complex64) complex64 { return complex(real(c), -imag(c)) }
