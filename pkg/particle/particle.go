// Package particle implements the per-image weighted pose-filter sample
// set of §4.3: a particle filter over (quaternion, 2D shift) pairs,
// perturbed and resampled each Expectation pass.
//
// Grounded on the teacher's state + Predict/Update cycle idiom (the
// Kalman-style filters under pkg/core/math/filter keep a fixed-size state
// array and expose Predict/Update/Reset) and on pkg/core/math/dstat for
// the ACG/resampling primitives.
package particle

import (
	"math/rand"
	"sort"

	"github.com/chewxy/math32"

	"github.com/itohio/cryoem/pkg/core/math/dstat"
	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/symmetry"
)

// Filter is the weighted sample set of §4.3's state: R[n x 4], T[n x 2],
// W[n], translation bounds, and the symmetry group poses are folded into.
type Filter struct {
	R []vec.Quaternion
	T []vec.Vec2
	W []float32

	maxX, maxY float32
	sym        *symmetry.Group
	rng        *rand.Rand

	prevBest vec.Quaternion
	hasPrev  bool
}

// New builds a Filter with n samples, translation bounds (maxX, maxY),
// and a symmetry group poses are folded into (nil treated as C1: no
// folding).
func New(n int, maxX, maxY float32, sym *symmetry.Group, rng *rand.Rand) *Filter {
	f := &Filter{
		R:    make([]vec.Quaternion, n),
		T:    make([]vec.Vec2, n),
		W:    make([]float32, n),
		maxX: maxX, maxY: maxY, sym: sym, rng: rng,
	}
	f.Reset()
	return f
}

// Reset (re-)initialises the filter per §4.3 "Initialise / reset": n
// quaternions drawn uniformly (an ACG with identity concentration), T
// drawn uniformly in the translation box, weights 1/n, folded by symmetry.
func (f *Filter) Reset() {
	n := len(f.R)
	identity := dstat.NewIsotropicACG(1, 1)
	samples := identity.Sample(f.rng, n)
	for i := 0; i < n; i++ {
		f.R[i] = samples[i]
		f.T[i] = vec.NewVec2(
			(f.rng.Float32()*2-1)*f.maxX,
			(f.rng.Float32()*2-1)*f.maxY,
		)
		f.W[i] = 1 / float32(n)
	}
	f.foldAll()
}

// N is the sample count.
func (f *Filter) N() int { return len(f.R) }

// Fold applies symmetry folding to the current rotation set, for callers
// that build R/T/W directly (e.g. the optimiser's GLOBAL phase-zero
// rotation x translation grid) instead of going through Reset/Perturb.
func (f *Filter) Fold() { f.foldAll() }

// Bounds returns the translation box half-widths the filter was built
// with.
func (f *Filter) Bounds() (maxX, maxY float32) { return f.maxX, f.maxY }

func (f *Filter) foldAll() {
	if f.sym == nil {
		return
	}
	for i, q := range f.R {
		folded, _, _ := f.sym.Fold(q)
		f.R[i] = folded
	}
}

// marginalStd returns the standard deviation of T's two marginal
// components.
func (f *Filter) marginalStd() (s0, s1 float32) {
	n := float32(len(f.T))
	if n == 0 {
		return 0, 0
	}
	var m0, m1 float32
	for _, t := range f.T {
		m0 += t[0]
		m1 += t[1]
	}
	m0 /= n
	m1 /= n
	var v0, v1 float32
	for _, t := range f.T {
		d0, d1 := t[0]-m0, t[1]-m1
		v0 += d0 * d0
		v1 += d1 * d1
	}
	return math32.Sqrt(v0 / n), math32.Sqrt(v1 / n)
}

// Perturb implements §4.3's Perturb step: fit (k0, k1) of the current
// rotation sample's ACG and the marginal shift std-devs, jitter T by a
// bivariate Gaussian of std (s0/5, s1/5), draw small rotations from an
// ACG of concentration (5*k0, k1) and apply them via Hamilton product,
// then fold by symmetry.
func (f *Filter) Perturb() {
	n := f.N()
	fitted := dstat.FitACG(f.R, f.W, 20)
	k0, k1 := fitted.Concentration()
	s0, s1 := f.marginalStd()

	for i := 0; i < n; i++ {
		f.T[i] = vec.NewVec2(
			f.T[i][0]+float32(f.rng.NormFloat64())*s0/5,
			f.T[i][1]+float32(f.rng.NormFloat64())*s1/5,
		)
	}

	small := dstat.NewIsotropicACG(float64(5*k0), float64(k1))
	jitter := small.Sample(f.rng, n)
	for i := 0; i < n; i++ {
		f.R[i] = jitter[i].Product(f.R[i])
	}
	f.foldAll()
}

// Resample implements §4.3's Resample(n', alpha): nG = round(alpha*n')
// fresh global draws, nL = n'-nG local draws from the current weighted
// set via stratified systematic resampling, weights reset to 1/n', and
// symmetry folding.
func (f *Filter) Resample(nPrime int, alpha float32) {
	nG := int(math32.Round(alpha * float32(nPrime)))
	if nG > nPrime {
		nG = nPrime
	}
	nL := nPrime - nG

	newR := make([]vec.Quaternion, 0, nPrime)
	newT := make([]vec.Vec2, 0, nPrime)

	if nG > 0 {
		identity := dstat.NewIsotropicACG(1, 1)
		globalR := identity.Sample(f.rng, nG)
		for i := 0; i < nG; i++ {
			newR = append(newR, globalR[i])
			newT = append(newT, vec.NewVec2(
				(f.rng.Float32()*2-1)*f.maxX,
				(f.rng.Float32()*2-1)*f.maxY,
			))
		}
	}

	if nL > 0 {
		idx := f.stratifiedSystematicIndices(nL)
		for _, i := range idx {
			newR = append(newR, f.R[i])
			newT = append(newT, f.T[i])
		}
	}

	f.R = newR
	f.T = newT
	f.W = make([]float32, nPrime)
	for i := range f.W {
		f.W[i] = 1 / float32(nPrime)
	}
	f.foldAll()
}

// stratifiedSystematicIndices draws nL indices from the current weighted
// set via stratified systematic resampling: a single uniform
// u0 in [0, 1/nL), j-th draw at CDF position u0 + j/nL.
func (f *Filter) stratifiedSystematicIndices(nL int) []int {
	n := f.N()
	cdf := make([]float32, n)
	var acc float32
	for i, w := range f.W {
		acc += w
		cdf[i] = acc
	}
	if n > 0 && cdf[n-1] > 0 {
		inv := 1 / cdf[n-1]
		for i := range cdf {
			cdf[i] *= inv
		}
	}

	u0 := f.rng.Float32() / float32(nL)
	out := make([]int, nL)
	j := 0
	for i := 0; i < nL; i++ {
		u := u0 + float32(i)/float32(nL)
		for j < n-1 && cdf[j] < u {
			j++
		}
		out[i] = j
	}
	return out
}

// UpdateWeights applies §4.3's bounded weight-update transform to a raw
// log-likelihood vector L and multiplies it into the current weights,
// then normalises so Sigma W = 1.
func UpdateWeights(w []float32, l []float32) {
	n := len(l)
	if n == 0 {
		return
	}
	maxL := l[0]
	for _, v := range l[1:] {
		if v > maxL {
			maxL = v
		}
	}
	bounded := make([]float32, n)
	minB := float32(math32.MaxFloat32)
	for i, v := range l {
		shifted := v - maxL
		b := 1 / (1 - shifted)
		bounded[i] = b
		if b < minB {
			minB = b
		}
	}
	var sum float32
	for i := range bounded {
		bounded[i] -= minB
		w[i] *= bounded[i]
		sum += w[i]
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range w {
			w[i] *= inv
		}
	}
}

// Neff is the effective sample size 1/sum(W^2).
func (f *Filter) Neff() float32 {
	var sumSq float32
	for _, w := range f.W {
		sumSq += w * w
	}
	if sumSq == 0 {
		return 0
	}
	return 1 / sumSq
}

// RankByWeight returns a permutation of [0, n) sorted by descending
// weight.
func (f *Filter) RankByWeight() []int {
	idx := make([]int, f.N())
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return f.W[idx[a]] > f.W[idx[b]] })
	return idx
}

// Best returns the rank-1 (highest weight) quaternion and shift.
func (f *Filter) Best() (vec.Quaternion, vec.Vec2) {
	rank := f.RankByWeight()
	i := rank[0]
	return f.R[i], f.T[i]
}

// DiffTopR reports the angular distance (radians) between this round's
// best quaternion and the previous round's, recording the new best for
// next time. Returns 0 on the first call.
func (f *Filter) DiffTopR() float32 {
	best, _ := f.Best()
	if !f.hasPrev {
		f.prevBest = best
		f.hasPrev = true
		return 0
	}
	d := best.Dot(f.prevBest)
	if d > 1 {
		d = 1
	}
	if d < -1 {
		d = -1
	}
	angle := 2 * math32.Acos(math32.Abs(d))
	f.prevBest = best
	return angle
}
