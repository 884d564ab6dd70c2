// Package dstat implements the directional statistics the pose search needs:
// fitting and sampling an Angular Central Gaussian (ACG) distribution over
// unit quaternions, and fitting/sampling a von Mises distribution over
// in-plane rotation angles. Signatures are grounded on
// original_source/include/Functions/DirectionalStat.h (pdfACG/sampleACG/
// inferACG/pdfVMS/sampleVMS/inferVMS); quaternion algebra reuses the
// teacher's vec.Quaternion Hamilton-product and Euler-angle idiom.
//
// Unlike the reference engine's GSL-backed implementation, covariance fit
// and eigendecomposition go through gonum.org/v1/gonum/mat, and random
// sampling goes through gonum.org/v1/gonum/stat/distuv, both grounded on the
// pack's direct (pthm-soup) and transitive (itohio-EasyRobot, via
// gorgonia.org/tensor) gonum dependency.
package dstat

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/itohio/cryoem/pkg/core/math/vec"
)

// ACG holds the fitted (or assumed) parameter matrix of an Angular Central
// Gaussian distribution over unit quaternions in R^4.
type ACG struct {
	sigma *mat.SymDense // 4x4 symmetric positive-definite
}

// NewIsotropicACG builds the two-parameter ACG of DirectionalStat.h's
// pdfACG(x, k0, k1): diag(k0, k1, k1, k1), the shape used when only the
// rotation's "spread around the polar axis" vs "spread in the equatorial
// plane" is modeled, as in a resolution-limited local pose search.
func NewIsotropicACG(k0, k1 float64) *ACG {
	s := mat.NewSymDense(4, []float64{
		k0, 0, 0, 0,
		0, k1, 0, 0,
		0, 0, k1, 0,
		0, 0, 0, k1,
	})
	return &ACG{sigma: s}
}

// FitACG infers the 4x4 covariance of an ACG distribution from a weighted
// set of quaternion samples via the standard fixed-point MLE iteration:
//
//	Sigma_(t+1) = (p/n) * sum_i w_i (x_i x_i^T) / (x_i^T Sigma_t^-1 x_i)
//
// normalized so trace(Sigma) = p * sum(w_i) = 4 * sum(w_i) after each step
// (4 when the weights sum to 1). weights may be nil for
// an unweighted fit; len(weights) must equal len(samples) otherwise.
func FitACG(samples []vec.Quaternion, weights []float32, iters int) *ACG {
	n := len(samples)
	if n == 0 {
		return NewIsotropicACG(1, 1)
	}
	if weights == nil {
		weights = make([]float32, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	wSum := 0.0
	for _, w := range weights {
		wSum += float64(w)
	}

	sigma := mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	var sigmaInv mat.Dense
	var next mat.Dense

	for t := 0; t < iters; t++ {
		if err := sigmaInv.Inverse(sigma); err != nil {
			break
		}
		next = *mat.NewDense(4, 4, nil)
		for i, q := range samples {
			x := mat.NewVecDense(4, []float64{float64(q[0]), float64(q[1]), float64(q[2]), float64(q[3])})
			var sInvX mat.VecDense
			sInvX.MulVec(&sigmaInv, x)
			denom := mat.Dot(x, &sInvX)
			if denom <= 0 {
				continue
			}
			scale := float64(weights[i]) / denom
			var outer mat.Dense
			outer.Outer(scale, x, x)
			next.Add(&next, &outer)
		}
		trace := next.At(0, 0) + next.At(1, 1) + next.At(2, 2) + next.At(3, 3)
		if trace <= 0 || wSum <= 0 {
			break
		}
		next.Scale(4*wSum/trace, &next)
		sigma = mat.DenseCopyOf(&next)
	}

	sym := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			v := 0.5 * (sigma.At(i, j) + sigma.At(j, i))
			sym.SetSym(i, j, v)
		}
	}
	return &ACG{sigma: sym}
}

// Sample draws n unit quaternions from the ACG distribution: z ~ N(0, Sigma)
// via the symmetric eigendecomposition Sigma = V D V^T, then x = z / |z|.
func (a *ACG) Sample(rng *rand.Rand, n int) []vec.Quaternion {
	var eig mat.EigenSym
	ok := eig.Factorize(a.sigma, true)
	if !ok {
		ok = eig.Factorize(mat.NewSymDense(4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}), true)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	out := make([]vec.Quaternion, n)
	for s := 0; s < n; s++ {
		z := make([]float64, 4)
		for i := range z {
			lambda := values[i]
			if lambda < 0 {
				lambda = 0
			}
			z[i] = norm.Rand() * math.Sqrt(lambda)
		}
		var x mat.VecDense
		x.MulVec(&vectors, mat.NewVecDense(4, z))
		q := vec.Quaternion{float32(x.AtVec(0)), float32(x.AtVec(1)), float32(x.AtVec(2)), float32(x.AtVec(3))}
		out[s] = q.Normal()
	}
	return out
}

// Concentration collapses the fitted 4x4 covariance to the two-parameter
// (k0, k1) shape of NewIsotropicACG: k0 is the first diagonal entry, k1 is
// the mean of the remaining three, matching the "marginal std-devs" style
// reduction the pose filter's Perturb step needs.
func (a *ACG) Concentration() (k0, k1 float32) {
	k0 = float32(a.sigma.At(0, 0))
	k1 = float32((a.sigma.At(1, 1) + a.sigma.At(2, 2) + a.sigma.At(3, 3)) / 3)
	return
}

// PDF evaluates the ACG density (up to the distribution's own normalizing
// constant, which cancels in the importance-weight ratios the pose filter
// actually needs) at unit quaternion x.
func (a *ACG) PDF(x vec.Quaternion) float64 {
	var sigmaInv mat.Dense
	if err := sigmaInv.Inverse(a.sigma); err != nil {
		return 0
	}
	xv := mat.NewVecDense(4, []float64{float64(x[0]), float64(x[1]), float64(x[2]), float64(x[3])})
	var sInvX mat.VecDense
	sInvX.MulVec(&sigmaInv, xv)
	q := mat.Dot(xv, &sInvX)
	if q <= 0 {
		return 0
	}
	return math.Pow(q, -2)
}

// VonMises is the mode/concentration pair of a circular von Mises
// distribution M(mu, kappa) over in-plane rotation angle.
type VonMises struct {
	Mu    float32
	Kappa float32
}

// FitVonMises infers (mu, kappa) from a weighted set of angles (radians) by
// the standard trigonometric-moment estimator: mu is the mean resultant
// direction, kappa is solved from the mean resultant length R via the
// Best (1979) approximation DirectionalStat.h's inferVMS is itself grounded
// on.
func FitVonMises(angles []float32, weights []float32) VonMises {
	n := len(angles)
	if n == 0 {
		return VonMises{Mu: 0, Kappa: 0}
	}
	if weights == nil {
		weights = make([]float32, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	var sumC, sumS, sumW float64
	for i, a := range angles {
		w := float64(weights[i])
		sumC += w * math.Cos(float64(a))
		sumS += w * math.Sin(float64(a))
		sumW += w
	}
	if sumW == 0 {
		return VonMises{Mu: 0, Kappa: 0}
	}
	mu := math.Atan2(sumS, sumC)
	r := math.Sqrt(sumC*sumC+sumS*sumS) / sumW
	if r > 0.999999 {
		r = 0.999999
	}
	kappa := approxKappa(r)
	return VonMises{Mu: float32(mu), Kappa: float32(kappa)}
}

// approxKappa inverts R(kappa) = I1(kappa)/I0(kappa) via the standard
// piecewise rational approximation (Best & Fisher 1981, as used by the
// reference engine's inferVMS).
func approxKappa(r float64) float64 {
	switch {
	case r < 0.53:
		r2 := r * r
		return 2*r + r*r2 + 5*r2*r2*r/6
	case r < 0.85:
		return -0.4 + 1.39*r + 0.43/(1-r)
	default:
		return 1 / (r*r*r - 4*r*r + 3*r)
	}
}

// Sample draws n angles from M(mu, kappa) via the Best & Fisher (1979)
// rejection algorithm named in DirectionalStat.h's sampleVMS.
func (v VonMises) Sample(rng *rand.Rand, n int) []float32 {
	kappa := float64(v.Kappa)
	if kappa < 1e-6 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.Float64()*2*math.Pi - math.Pi)
		}
		return out
	}
	a := 1 + math.Sqrt(1+4*kappa*kappa)
	b := (a - math.Sqrt(2*a)) / (2 * kappa)
	r := (1 + b*b) / (2 * b)

	out := make([]float32, n)
	for s := 0; s < n; s++ {
		var f float64
		for {
			u1 := rng.Float64()
			z := math.Cos(math.Pi * u1)
			f = (1 + r*z) / (r + z)
			c := kappa * (r - f)
			u2 := rng.Float64()
			if c*(2-c)-u2 > 0 {
				break
			}
			if math.Log(c/u2)+1-c >= 0 {
				break
			}
		}
		u3 := rng.Float64()
		sign := 1.0
		if u3 < 0.5 {
			sign = -1.0
		}
		theta := sign*math.Acos(f) + float64(v.Mu)
		out[s] = float32(math.Mod(theta+3*math.Pi, 2*math.Pi) - math.Pi)
	}
	return out
}
