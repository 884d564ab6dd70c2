// Package fft is the external FFT-backend collaborator boundary described
// by the specification: the rest of the system only depends on the small
// Transformer interface below, never on a transform implementation detail.
// The default implementation is an iterative radix-2 Cooley-Tukey complex
// FFT, generalized from the legacy single-row/column real FFT that this
// module's teacher carried in its (now-retired) x/math/dsp package to full
// complex, 2D and 3D transforms with a centered-origin, Hermitian
// half-spectrum convention matching the Image/Volume data model.
package fft

import "github.com/chewxy/math32"

// Transformer performs forward (real-space -> Fourier half-spectrum) and
// inverse transforms on square/cubic grids of even side N. Each transform
// returns a newly allocated output slice and leaves its input unchanged.
type Transformer interface {
	// Forward2D computes the real-to-complex forward transform of an N x N
	// real-space image (row-major, centered origin at N/2) into its Hermitian
	// half-spectrum of size (N/2+1)*N (fastest-varying index along the half
	// axis), in standard FFT order with the zero frequency at index 0.
	Forward2D(real []float32, n int) []complex64
	// Inverse2D is the inverse of Forward2D, reconstructing the N x N
	// real-space image from its half-spectrum.
	Inverse2D(spec []complex64, n int) []float32
	// Forward3D / Inverse3D are the 3D analogues, operating on N x N x N
	// volumes and (N/2+1)*N*N half-spectra.
	Forward3D(real []float32, n int) []complex64
	Inverse3D(spec []complex64, n int) []float32
}

// Radix2 is the default Transformer: a power-of-two Cooley-Tukey complex
// FFT applied row/column/depth-wise, with real input embedded as the real
// part of a complex buffer and truncated to the Hermitian half on output.
type Radix2 struct{}

var _ Transformer = Radix2{}

func (Radix2) Forward2D(real []float32, n int) []complex64 {
	buf := make([]complex64, n*n)
	for i, v := range real {
		buf[i] = complex(v, 0)
	}
	fft2D(buf, n, n, false)
	return toHalfSpectrum2D(buf, n)
}

func (Radix2) Inverse2D(spec []complex64, n int) []float32 {
	buf := fromHalfSpectrum2D(spec, n)
	fft2D(buf, n, n, true)
	out := make([]float32, n*n)
	for i, v := range buf {
		out[i] = real(v)
	}
	return out
}

func (Radix2) Forward3D(realData []float32, n int) []complex64 {
	buf := make([]complex64, n*n*n)
	for i, v := range realData {
		buf[i] = complex(v, 0)
	}
	fft3D(buf, n, false)
	return toHalfSpectrum3D(buf, n)
}

func (Radix2) Inverse3D(spec []complex64, n int) []float32 {
	buf := fromHalfSpectrum3D(spec, n)
	fft3D(buf, n, true)
	out := make([]float32, n*n*n)
	for i, v := range buf {
		out[i] = real(v)
	}
	return out
}

// fft1D is an in-place iterative radix-2 Cooley-Tukey complex FFT.
// inverse selects the conjugated-twiddle, 1/n-normalized transform.
func fft1D(a []complex64, inverse bool) {
	n := len(a)
	if n <= 1 {
		return
	}
	// bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math32.Pi / float32(length)
		if inverse {
			angle = -angle
		}
		wlen := complex(math32.Cos(angle), math32.Sin(angle))
		for i := 0; i < n; i += length {
			w := complex64(1)
			half := length / 2
			for j := 0; j < half; j++ {
				u := a[i+j]
				v := a[i+j+half] * w
				a[i+j] = u + v
				a[i+j+half] = u - v
				w *= wlen
			}
		}
	}
	if inverse {
		inv := complex64(complex(1/float32(n), 0))
		for i := range a {
			a[i] *= inv
		}
	}
}

func fft2D(buf []complex64, rows, cols int, inverse bool) {
	row := make([]complex64, cols)
	for r := 0; r < rows; r++ {
		copy(row, buf[r*cols:(r+1)*cols])
		fft1D(row, inverse)
		copy(buf[r*cols:(r+1)*cols], row)
	}
	col := make([]complex64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = buf[r*cols+c]
		}
		fft1D(col, inverse)
		for r := 0; r < rows; r++ {
			buf[r*cols+c] = col[r]
		}
	}
}

func fft3D(buf []complex64, n int, inverse bool) {
	plane := n * n
	// transform each z-plane as a 2D image
	for z := 0; z < n; z++ {
		fft2D(buf[z*plane:(z+1)*plane], n, n, inverse)
	}
	// transform along z for every (x, y)
	line := make([]complex64, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			for z := 0; z < n; z++ {
				line[z] = buf[z*plane+y*n+x]
			}
			fft1D(line, inverse)
			for z := 0; z < n; z++ {
				buf[z*plane+y*n+x] = line[z]
			}
		}
	}
}

// toHalfSpectrum2D keeps only columns [0, n/2] of the full complex
// spectrum: Hermitian symmetry makes the remainder redundant for
// real-valued input.
func toHalfSpectrum2D(full []complex64, n int) []complex64 {
	half := n/2 + 1
	out := make([]complex64, half*n)
	for r := 0; r < n; r++ {
		copy(out[r*half:(r+1)*half], full[r*n:r*n+half])
	}
	return out
}

func fromHalfSpectrum2D(spec []complex64, n int) []complex64 {
	half := n/2 + 1
	full := make([]complex64, n*n)
	for r := 0; r < n; r++ {
		copy(full[r*n:r*n+half], spec[r*half:(r+1)*half])
		rr := (n - r) % n
		for c := half; c < n; c++ {
			cc := (n - c) % n
			full[r*n+c] = complexConj(full[rr*n+cc])
		}
	}
	return full
}

func toHalfSpectrum3D(full []complex64, n int) []complex64 {
	half := n/2 + 1
	plane := n * n
	halfPlane := half * n
	out := make([]complex64, halfPlane*n)
	for z := 0; z < n; z++ {
		for r := 0; r < n; r++ {
			copy(out[z*halfPlane+r*half:z*halfPlane+(r+1)*half], full[z*plane+r*n:z*plane+r*n+half])
		}
	}
	return out
}

func fromHalfSpectrum3D(spec []complex64, n int) []complex64 {
	half := n/2 + 1
	plane := n * n
	halfPlane := half * n
	full := make([]complex64, plane*n)
	for z := 0; z < n; z++ {
		for r := 0; r < n; r++ {
			copy(full[z*plane+r*n:z*plane+r*n+half], spec[z*halfPlane+r*half:z*halfPlane+(r+1)*half])
		}
	}
	for z := 0; z < n; z++ {
		zz := (n - z) % n
		for r := 0; r < n; r++ {
			rr := (n - r) % n
			for c := half; c < n; c++ {
				cc := (n - c) % n
				full[z*plane+r*n+c] = complexConj(full[zz*plane+rr*n+cc])
			}
		}
	}
	return full
}

func complexConj(c complex64) complex64 {
	return complex(real(c), -imag(c))
}
