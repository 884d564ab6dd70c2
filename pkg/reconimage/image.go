// Package reconimage implements the Image/Volume data model of §3: a
// regular 2D or 3D grid of fixed even side N, carrying either a real-space
// array or a Fourier-space Hermitian half-spectrum, never both at once.
//
// The real-space side is backed by a gorgonia.org/tensor dense array (the
// teacher's pkg/core/math/tensor/gorgonia wrapper is not reused verbatim —
// it was built to back neural-network layers — but the underlying
// third-party container is the same one the teacher pulls in, used here
// for its native N-dimensional row-major float32 storage and reshaping).
// The Fourier side is a flat []complex64 half-spectrum, since gorgonia's
// tensor does not model Hermitian-packed spectra.
package reconimage

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Space records which of the two mutually-exclusive buffers is populated.
type Space int

const (
	SpaceNone Space = iota
	SpaceReal
	SpaceFourier
)

// Grid is the shared half of Image (2D) and Volume (3D): fixed even side N,
// a space flag, and co-managed buffer lifetimes per §3's invariant that at
// most one space is populated at a time.
type Grid struct {
	n     int
	dim   int
	space Space
	real  *tensor.Dense
	four  []complex64 // half-spectrum, size halfLen()
}

func newGrid(n, dim int) Grid {
	if n <= 0 || n%2 != 0 {
		panic(fmt.Sprintf("reconimage: side must be positive and even, got %d", n))
	}
	if dim != 2 && dim != 3 {
		panic(fmt.Sprintf("reconimage: dim must be 2 or 3, got %d", dim))
	}
	return Grid{n: n, dim: dim}
}

func (g *Grid) N() int     { return g.n }
func (g *Grid) Dim() int   { return g.dim }
func (g *Grid) Space() Space { return g.space }

// halfLen is the half-spectrum element count: (N/2+1)*N^(dim-1).
func (g *Grid) halfLen() int {
	half := g.n/2 + 1
	switch g.dim {
	case 2:
		return half * g.n
	default:
		return half * g.n * g.n
	}
}

// realLen is N^dim.
func (g *Grid) realLen() int {
	switch g.dim {
	case 2:
		return g.n * g.n
	default:
		return g.n * g.n * g.n
	}
}

// ResetReal allocates (or zeroes, if already real) the real-space buffer and
// releases the Fourier one, enforcing the single-space invariant.
func (g *Grid) ResetReal() {
	shape := g.realShape()
	g.real = tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
	g.four = nil
	g.space = SpaceReal
}

// ResetFourier allocates the half-spectrum buffer and releases the
// real-space one.
func (g *Grid) ResetFourier() {
	g.four = make([]complex64, g.halfLen())
	g.real = nil
	g.space = SpaceFourier
}

func (g *Grid) realShape() tensor.Shape {
	if g.dim == 2 {
		return tensor.Shape{g.n, g.n}
	}
	return tensor.Shape{g.n, g.n, g.n}
}

// RealData returns the flat row-major real-space backing slice. Panics if
// the grid is not currently in real space.
func (g *Grid) RealData() []float32 {
	if g.space != SpaceReal {
		panic("reconimage: RealData called while not in real space")
	}
	return g.real.Data().([]float32)
}

// FourierData returns the flat half-spectrum backing slice. Panics if the
// grid is not currently in Fourier space.
func (g *Grid) FourierData() []complex64 {
	if g.space != SpaceFourier {
		panic("reconimage: FourierData called while not in Fourier space")
	}
	return g.four
}

// halfWidth is N/2+1, the number of distinct non-negative frequencies along
// the packed (fastest) axis of the half-spectrum.
func (g *Grid) halfWidth() int { return g.n/2 + 1 }

// centeredIndex maps a signed, centered frequency coordinate to its
// wrapped, zero-based array coordinate along an axis of length n (standard
// FFT output ordering: 0..n/2-1 positive, n/2..n-1 represents -n/2..-1).
func centeredIndex(coord, n int) int {
	if coord < 0 {
		coord += n
	}
	return coord % n
}
