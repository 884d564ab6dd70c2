// Package kernel provides the tabulated modified Kaiser-Bessel (MKB) window
// used by the reconstructor for gridding insertion and deconvolution. The
// Fourier-space profile ("FT") and its real-space counterpart ("RL") are
// both order-0 modified Kaiser-Bessel windows, matching the order-0 variant
// of the reference refinement engine's Functions.cpp (MKB_FT / MKB_RL).
package kernel

import "github.com/chewxy/math32"

// Table tabulates MKB_FT and MKB_RL on a fixed grid of squared radii so the
// hot insertion/balance loops only do a table lookup plus linear
// interpolation, never a Bessel evaluation.
type Table struct {
	a, alpha   float32
	pf         int
	nSamples   int
	maxR2      float32
	ft, rl     []float32 // tabulated over r2 in [0, maxR2]
}

// New builds a kernel table for support radius a (pixels, pre-padding),
// smoothness alpha, and padding factor pf. nSamples controls table
// resolution; the teacher's convention of a power-of-two table size is
// followed for cheap index arithmetic.
func New(a, alpha float32, pf, nSamples int) *Table {
	if nSamples <= 1 {
		nSamples = 1 << 14
	}
	maxR2 := a * a * float32(pf*pf)
	t := &Table{
		a: a, alpha: alpha, pf: pf,
		nSamples: nSamples, maxR2: maxR2,
		ft: make([]float32, nSamples+1),
		rl: make([]float32, nSamples+1),
	}
	for i := 0; i <= nSamples; i++ {
		r2 := maxR2 * float32(i) / float32(nSamples)
		t.ft[i] = mkbFT(r2, a*float32(pf), alpha)
		t.rl[i] = mkbRL(math32.Sqrt(r2), a, alpha)
	}
	return t
}

// FT returns the Fourier-space gridding weight for squared radius r2
// (pixels^2, already accounting for padding), used to spread a Fourier
// sample into neighbouring voxels during insertion.
func (t *Table) FT(r2 float32) float32 {
	if r2 >= t.maxR2 {
		return 0
	}
	idx := r2 / t.maxR2 * float32(t.nSamples)
	return interp(t.ft, idx)
}

// RL returns the real-space kernel profile at radius r (pixels, unpadded
// convention), used to divide out the gridding kernel after the inverse
// transform.
func (t *Table) RL(r float32) float32 {
	r2 := r * r
	if r2 >= t.maxR2 {
		r2 = t.maxR2
	}
	idx := r2 / t.maxR2 * float32(t.nSamples)
	return interp(t.rl, idx)
}

// Support returns the kernel's half-width in (padded) pixels: voxels whose
// centre is farther than Support() from the insertion point receive zero
// weight and may be skipped.
func (t *Table) Support() float32 { return t.a * float32(t.pf) }

func interp(table []float32, idx float32) float32 {
	if idx <= 0 {
		return table[0]
	}
	n := len(table) - 1
	if idx >= float32(n) {
		return table[n]
	}
	i0 := int(idx)
	frac := idx - float32(i0)
	return table[i0]*(1-frac) + table[i0+1]*frac
}

// mkbFT is the order-0 modified Kaiser-Bessel Fourier-space profile:
// I0(alpha*sqrt(1-u^2)) / I0(alpha), u = sqrt(r2)/a, zero outside u>1.
func mkbFT(r2, a, alpha float32) float32 {
	u2 := r2 / (a * a)
	if u2 > 1 {
		return 0
	}
	return besselI0(alpha*math32.Sqrt(1-u2)) / besselI0(alpha)
}

// mkbRL is the order-0 modified Kaiser-Bessel real-space profile, built
// from the order-1.5 modified/ordinary Bessel functions which have closed
// forms in terms of hyperbolic/trigonometric functions.
func mkbRL(r, a, alpha float32) float32 {
	u := 2 * math32.Pi * a * r
	var v float32
	inside := u <= alpha
	if inside {
		v = math32.Sqrt(alpha*alpha - u*u)
	} else {
		v = math32.Sqrt(u*u - alpha*alpha)
	}
	w := math32.Pow(2*math32.Pi, 1.5) * a * a * a / besselI0(alpha) / math32.Pow(v, 1.5)
	if v == 0 {
		// limit as v->0 of I_1.5(v)/v^1.5 and J_1.5(v)/v^1.5 is finite;
		// fall back to the series value at v=0+.
		v = 1e-6
		w = math32.Pow(2*math32.Pi, 1.5) * a * a * a / besselI0(alpha) / math32.Pow(v, 1.5)
	}
	if inside {
		return w * besselI1p5(v)
	}
	return w * besselJ1p5(v)
}

// besselI0 is Abramowitz & Stegun 9.8.1/9.8.2 polynomial approximation of
// the modified Bessel function of the first kind, order 0.
func besselI0(x float32) float32 {
	ax := math32.Abs(x)
	if ax < 3.75 {
		t := x / 3.75
		t2 := t * t
		return 1 + t2*(3.5156229+t2*(3.0899424+t2*(1.2067492+
			t2*(0.2659732+t2*(0.0360768+t2*0.0045813)))))
	}
	t := 3.75 / ax
	return (math32.Exp(ax) / math32.Sqrt(ax)) * (0.39894228 + t*(0.01328592+
		t*(0.00225319+t*(-0.00157565+t*(0.00916281+t*(-0.02057706+
			t*(0.02635537+t*(-0.01647633+t*0.00392377))))))))
}

// besselI1p5 is the modified Bessel function of the first kind, order 3/2,
// which has the elementary closed form sqrt(2/(pi v))*(cosh(v) - sinh(v)/v).
func besselI1p5(v float32) float32 {
	return math32.Sqrt(2/(math32.Pi*v)) * (math32.Cosh(v) - math32.Sinh(v)/v)
}

// besselJ1p5 is the ordinary Bessel function of the first kind, order 3/2:
// sqrt(2/(pi v))*(sin(v)/v - cos(v)).
func besselJ1p5(v float32) float32 {
	return math32.Sqrt(2/(math32.Pi*v)) * (math32.Sin(v)/v - math32.Cos(v))
}
