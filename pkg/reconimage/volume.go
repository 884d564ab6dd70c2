package reconimage

// Volume is the 3D grid of §3: either an N x N x N real-space array or an
// (N/2+1) x N x N Fourier half-spectrum, used both for the padded reference
// and for the reconstructor's F/T/W/C buffers.
type Volume struct {
	Grid
}

func NewVolume(n int) *Volume {
	g := newGrid(n, 3)
	return &Volume{Grid: g}
}

func (vl *Volume) RealAt(x, y, z int) float32 {
	n := vl.n
	i := centeredIndex(z+n/2, n)
	j := centeredIndex(y+n/2, n)
	k := centeredIndex(x+n/2, n)
	return vl.RealData()[(i*n+j)*n+k]
}

func (vl *Volume) SetRealAt(x, y, z int, v float32) {
	n := vl.n
	i := centeredIndex(z+n/2, n)
	j := centeredIndex(y+n/2, n)
	k := centeredIndex(x+n/2, n)
	vl.RealData()[(i*n+j)*n+k] = v
}

func (vl *Volume) fourierIndex(u, v, w int) (plane, row, col int, conj bool) {
	n := vl.n
	if u < 0 {
		u, v, w = -u, -v, -w
		conj = true
	}
	plane = centeredIndex(w, n)
	row = centeredIndex(v, n)
	col = u
	return
}

func (vl *Volume) At(u, v, w int) complex64 {
	half := vl.halfWidth()
	n := vl.n
	plane, row, col, conj := vl.fourierIndex(u, v, w)
	if col >= half {
		return 0
	}
	idx := (plane*n+row)*half + col
	val := vl.FourierData()[idx]
	if conj {
		return complexConj(val)
	}
	return val
}

func (vl *Volume) Add(u, v, w int, delta complex64) {
	half := vl.halfWidth()
	n := vl.n
	plane, row, col, conj := vl.fourierIndex(u, v, w)
	if col >= half {
		return
	}
	if conj {
		delta = complexConj(delta)
	}
	idx := (plane*n+row)*half + col
	vl.FourierData()[idx] += delta
}

func (vl *Volume) Set(u, v, w int, val complex64) {
	half := vl.halfWidth()
	n := vl.n
	plane, row, col, conj := vl.fourierIndex(u, v, w)
	if col >= half {
		return
	}
	if conj {
		val = complexConj(val)
	}
	idx := (plane*n+row)*half + col
	vl.FourierData()[idx] = val
}

// Clone returns a deep copy sharing no backing storage.
func (vl *Volume) Clone() *Volume {
	out := NewVolume(vl.n)
	switch vl.space {
	case SpaceReal:
		out.ResetReal()
		copy(out.RealData(), vl.RealData())
	case SpaceFourier:
		out.ResetFourier()
		copy(out.FourierData(), vl.FourierData())
	}
	return out
}
