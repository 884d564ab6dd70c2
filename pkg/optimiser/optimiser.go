// Package optimiser implements §4.5: the Expectation-Maximization driver
// that ties the reference Model, the per-image Particle filters, the
// Projector/Reconstructor pair, and the resolution state machine into the
// iteration loop described by the specification's "run" algorithm.
//
// Grounded on the teacher's cmd/cr30/main.go orchestration shape (flag-ish
// config in, construct collaborators, run a loop, report per-iteration
// status) and on the functional-options pattern pkg/config exposes.
package optimiser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/itohio/cryoem/pkg/checkpoint"
	"github.com/itohio/cryoem/pkg/config"
	"github.com/itohio/cryoem/pkg/core/fft"
	"github.com/itohio/cryoem/pkg/core/math/dstat"
	"github.com/itohio/cryoem/pkg/core/math/kernel"
	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/ctf"
	"github.com/itohio/cryoem/pkg/db"
	"github.com/itohio/cryoem/pkg/logger"
	"github.com/itohio/cryoem/pkg/model"
	"github.com/itohio/cryoem/pkg/particle"
	"github.com/itohio/cryoem/pkg/projector"
	"github.com/itohio/cryoem/pkg/reconimage"
	"github.com/itohio/cryoem/pkg/reconstructor"
	"github.com/itohio/cryoem/pkg/symmetry"
	"github.com/itohio/cryoem/pkg/transport"
)

// Tuning constants named in §4.5's algorithm description. TransSearchFactor
// is not given a numeric value by the specification; 1.0 is the neutral
// choice (T_S reduces to the raw chi-square-normalized area), recorded as
// an Open Question decision.
const (
	MaxNPhasePerIter     = 8
	MinNPhasePerIter     = 3
	AlphaLocalSearch     = 0.2
	TransSearchFactor    = 1.0
	MinTransSearch       = 50
	PerturbConfidence    = 5 // LOCAL phase-zero perturb multiplier (after the resample)
	NoDecreaseCap        = 3
	VarianceDecreaseFrac = 0.1
)

// translationSearchCount computes T_S = max(50, round(pi*transS^2 /
// chi2inv(0.5,2) * TransSearchFactor)), the per-image translation sample
// count of §4.5's Expectation preamble.
func translationSearchCount(transS float32) int {
	chi2Median := distuv.ChiSquared{K: 2}.Quantile(0.5)
	ts := math32.Pi * transS * transS / float32(chi2Median) * TransSearchFactor
	n := int(math32.Round(ts))
	if n < MinTransSearch {
		n = MinTransSearch
	}
	return n
}

// hemisphere holds one independent half-dataset's particles, sigma table,
// and reconstruction buffers, per §5's "two hemispheres A, B" topology.
type hemisphere struct {
	ids      []int64
	groupIdx []int
	nGroups  int

	images []*reconimage.Image // Fourier-space observed data
	ctfs   []*reconimage.Image // Fourier-space Re(CTF) grids

	filters []*particle.Filter
	sigma   [][]float32 // [group][shell]

	ref   *reconimage.Volume // this hemisphere's own padded Fourier reference
	recon *reconstructor.Reconstructor
	proj  *projector.Projector

	lastVolume *reconimage.Volume // this hemisphere's most recent unpadded real-space reconstruction

	bestRVari, bestT0Vari, bestT1Vari []float32 // per-image best-so-far, for the variance early exit
	nNoDecrease                       []int
}

// Optimiser drives the iteration loop of §4.5.
type Optimiser struct {
	cfg config.Options
	sym *symmetry.Group
	tr  fft.Transformer
	krn *kernel.Table
	rng *rand.Rand

	world *transport.World // size 2: rank A = 0, rank B = 1; used only for the cross-hemisphere FSC exchange
	hRank *transport.World // size 1; each hemisphere's internal (trivial, single-rank) all-reduce

	cutoff  *model.Model
	lastFSC []float32 // joined FSC from the previous iteration, feeds Balance's Wiener term

	hemiA, hemiB *hemisphere

	nShells  int
	lastIter int
}

// LastIteration returns the index of the most recently completed
// iteration, or -1 if Run has not completed one yet.
func (o *Optimiser) LastIteration() int { return o.lastIter }

// New performs §4.5's Initialisation: builds the symmetry table, loads and
// FFTs the initial reference, opens the database, scatters particle IDs
// to the two hemispheres, and estimates the initial sigma table.
func New(cfg config.Options, rng *rand.Rand) (*Optimiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sym, err := symmetry.New(cfg.Sym)
	if err != nil {
		return nil, fmt.Errorf("optimiser: %w", err)
	}

	tr := fft.Radix2{}
	krn := kernel.New(cfg.A, cfg.Alpha, cfg.PF, 4096)

	nPad := cfg.Size * cfg.PF
	refReal, err := reconimage.LoadVolume(cfg.InitModel, cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("optimiser: initial reference: %w", err)
	}
	padded := padVolume(refReal, nPad)
	refData := tr.Forward3D(padded.RealData(), nPad)
	ref := reconimage.NewVolume(nPad)
	ref.ResetFourier()
	copy(ref.FourierData(), refData)

	nShells := cfg.Size/2 + 1
	o := &Optimiser{
		cfg: cfg, sym: sym, tr: tr, krn: krn, rng: rng,
		world:    transport.NewWorld(2),
		hRank:    transport.NewWorld(1),
		cutoff:   model.New(16, 8, float32(cfg.Size)/2),
		nShells:  nShells,
		lastIter: -1,
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("optimiser: %w", err)
	}
	defer database.Close()

	ids, err := database.AllParticleIDs()
	if err != nil {
		return nil, fmt.Errorf("optimiser: %w", err)
	}

	idsA, idsB := splitHemispheres(ids)
	o.hemiA, err = o.buildHemisphere(database, idsA, ref.Clone())
	if err != nil {
		return nil, err
	}
	o.hemiB, err = o.buildHemisphere(database, idsB, ref.Clone())
	if err != nil {
		return nil, err
	}
	return o, nil
}

// padVolume embeds a side-n real volume into a zero-padded side-nPad cube,
// centered (the convention reconimage.Volume.SetRealAt already treats the
// grid's center as the coordinate origin).
func padVolume(v *reconimage.Volume, nPad int) *reconimage.Volume {
	n := v.N()
	out := reconimage.NewVolume(nPad)
	out.ResetReal()
	half := n / 2
	for z := -half; z < half; z++ {
		for y := -half; y < half; y++ {
			for x := -half; x < half; x++ {
				out.SetRealAt(x, y, z, v.RealAt(x, y, z))
			}
		}
	}
	return out
}

// splitHemispheres assigns particle IDs alternately to two disjoint halves,
// per §4.5 step 4's "each hemisphere receives a disjoint half" contract.
func splitHemispheres(ids []int64) (a, b []int64) {
	for i, id := range ids {
		if i%2 == 0 {
			a = append(a, id)
		} else {
			b = append(b, id)
		}
	}
	return
}

func (o *Optimiser) buildHemisphere(database *db.DB, ids []int64, ref *reconimage.Volume) (*hemisphere, error) {
	h := &hemisphere{ids: ids, ref: ref}
	groupIndex := make(map[int64]int)

	mG := o.cfg.MG * o.cfg.MF
	nPad := o.cfg.Size * o.cfg.PF

	for _, id := range ids {
		p, err := database.Particle(id)
		if err != nil {
			return nil, fmt.Errorf("optimiser: %w", err)
		}
		mic, err := database.Micrograph(p.MicrographID)
		if err != nil {
			return nil, fmt.Errorf("optimiser: %w", err)
		}

		gi, ok := groupIndex[p.GroupID]
		if !ok {
			gi = len(groupIndex)
			groupIndex[p.GroupID] = gi
		}
		h.groupIdx = append(h.groupIdx, gi)

		im, err := db.LoadParticleImage(p, o.cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("optimiser: %w", err)
		}
		realData := im.RealData()
		im.ResetFourier()
		spec := o.tr.Forward2D(realData, o.cfg.Size)
		copy(im.FourierData(), spec)
		h.images = append(h.images, im)

		attr := ctf.Attr{
			Voltage: mic.Voltage, DefocusU: p.DefocusU, DefocusV: p.DefocusV,
			DefocusAngle: p.DefocusAngle, Cs: mic.Cs,
		}
		c := ctf.New(attr)
		ctfGrid := c.EvaluateGrid(o.cfg.Size, o.cfg.PixelSize)
		ctfImg := reconimage.NewImage(o.cfg.Size)
		ctfImg.ResetFourier()
		copy(ctfImg.FourierData(), ctfGrid)
		h.ctfs = append(h.ctfs, ctfImg)

		f := particle.New(mG, o.cfg.MaxX, o.cfg.MaxY, o.sym, o.rng)
		h.filters = append(h.filters, f)
	}
	h.nGroups = len(groupIndex)
	if h.nGroups == 0 {
		h.nGroups = 1
	}

	h.sigma = make([][]float32, h.nGroups)
	avgPs, psAvg := estimateInitialSpectra(h.images, o.nShells)
	for g := 0; g < h.nGroups; g++ {
		row := make([]float32, o.nShells)
		for k := range row {
			row[k] = (avgPs[k] - psAvg[k]) / 2
		}
		h.sigma[g] = row
	}

	h.recon = reconstructor.New(o.cfg.Size, o.cfg.PF, float32(o.cfg.Size)/2, o.krn, o.tr, o.sym)
	h.proj = projector.New(h.ref, o.cfg.PF, float32(o.cfg.Size)/2, projector.Gridding, o.krn)

	h.bestRVari = make([]float32, len(ids))
	h.bestT0Vari = make([]float32, len(ids))
	h.bestT1Vari = make([]float32, len(ids))
	h.nNoDecrease = make([]int, len(ids))
	for i := range ids {
		h.bestRVari[i] = math32.MaxFloat32
		h.bestT0Vari[i] = math32.MaxFloat32
		h.bestT1Vari[i] = math32.MaxFloat32
	}
	return h, nil
}

// estimateInitialSpectra implements §4.5 step 6: per-shell average power of
// every image (avgPs), and the per-shell power of the mean image (psAvg).
func estimateInitialSpectra(images []*reconimage.Image, nShells int) (avgPs, psAvg []float32) {
	avgPs = make([]float32, nShells)
	psAvg = make([]float32, nShells)
	if len(images) == 0 {
		return avgPs, psAvg
	}
	n := images[0].N()
	half := n/2 + 1
	counts := make([]int, nShells)

	mean := reconimage.NewImage(n)
	mean.ResetFourier()
	meanData := mean.FourierData()

	for _, im := range images {
		data := im.FourierData()
		for i, v := range data {
			meanData[i] += v
		}
	}
	inv := complex64(complex(1/float32(len(images)), 0))
	for i := range meanData {
		meanData[i] *= inv
	}

	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for col := 0; col < half; col++ {
			u := col
			shell := int(math32.Sqrt(float32(u*u + v*v)))
			if shell >= nShells {
				continue
			}
			counts[shell]++
			psAvg[shell] += complexPow2(mean.At(u, v))
			for _, im := range images {
				avgPs[shell] += complexPow2(im.At(u, v))
			}
		}
	}
	for k := 0; k < nShells; k++ {
		if counts[k] == 0 {
			continue
		}
		psAvg[k] /= float32(counts[k])
		avgPs[k] /= float32(counts[k] * len(images))
	}
	return avgPs, psAvg
}

func complexPow2(c complex64) float32 {
	re, im := real(c), imag(c)
	return re*re + im*im
}

// Run executes §4.5's iteration loop up to cfg.IterMax times, or until the
// resolution state machine enters STOP.
func (o *Optimiser) Run(ctx context.Context) error {
	for iter := 0; iter < o.cfg.IterMax; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if o.cutoff.SearchPhase == model.Stop {
			logger.Log.Info().Int("iter", iter).Msg("resolution state machine reached STOP")
			break
		}
		if err := o.iterate(ctx, iter); err != nil {
			return fmt.Errorf("optimiser: iteration %d: %w", iter, err)
		}
	}
	return nil
}

func (o *Optimiser) iterate(ctx context.Context, iter int) error {
	defer func() { o.lastIter = iter }()
	if err := o.expectation(ctx, o.hemiA); err != nil {
		return err
	}
	if err := o.expectation(ctx, o.hemiB); err != nil {
		return err
	}

	if iter == 0 && o.cfg.CorrectScaleFirstIter {
		o.correctScale(o.hemiA)
		o.correctScale(o.hemiB)
	}

	rChangeMean, rChangeStd := o.poseChangeStats()

	o.maximization(o.hemiA)
	o.maximization(o.hemiB)

	fscA := model.FSC(o.hemiA.recon.F, o.hemiB.recon.F)
	agreed := o.exchangeFSC(fscA)
	o.lastFSC = agreed

	// agreed is a shell index over the padded nPad-side volume; the cutoff
	// model tracks R in unpadded-pixel units, so rescale by PF.
	res := model.ResolutionFromFSC(agreed, model.FSCThreshold) / float32(o.cfg.PF)

	o.cutoff.Update(rChangeMean, rChangeStd, res)
	o.refreshProjectors()

	logger.Log.Info().
		Int("iter", iter).
		Str("phase", o.cutoff.SearchPhase.String()).
		Float32("r", o.cutoff.R).
		Float32("res", res).
		Msg("iteration complete")
	return nil
}

// poseChangeStats averages each image's DiffTopR (angular change of the
// rank-1 pose between the previous call and this one) across both
// hemispheres into a mean and std, feeding the resolution state machine.
func (o *Optimiser) poseChangeStats() (mean, std float32) {
	var sum, sumSq float32
	var n int
	for _, h := range []*hemisphere{o.hemiA, o.hemiB} {
		for _, f := range h.filters {
			d := f.DiffTopR()
			sum += d
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float32(n)
	variance := sumSq/float32(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	std = math32.Sqrt(variance)
	return mean, std
}

func (o *Optimiser) refreshProjectors() {
	o.hemiA.proj = projector.New(o.hemiA.ref, o.cfg.PF, float32(o.cfg.Size)/2, projector.Gridding, o.krn)
	o.hemiB.proj = projector.New(o.hemiB.ref, o.cfg.PF, float32(o.cfg.Size)/2, projector.Gridding, o.krn)
}

// expectation runs §4.5's per-image Expectation over every image in h, in
// parallel, per §5's "Expectation loops over the rank's images in a
// parallel-for" concurrency contract.
func (o *Optimiser) expectation(ctx context.Context, h *hemisphere) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range h.ids {
		i := i
		g.Go(func() error {
			o.expectationImage(h, i)
			return nil
		})
	}
	return g.Wait()
}

func (o *Optimiser) expectationImage(h *hemisphere, idx int) {
	f := h.filters[idx]
	img := h.images[idx]
	ctfImg := h.ctfs[idx]
	sigma := h.sigma[h.groupIdx[idx]]
	n := o.cfg.Size
	transS := translationSearchCount(o.cfg.TransS)

	for phase := 0; phase < MaxNPhasePerIter; phase++ {
		switch {
		case phase == 0 && o.cutoff.SearchPhase == model.Global:
			o.resetGlobalGrid(f, o.cfg.MG, transS)
		case phase == 0 && o.cutoff.SearchPhase == model.Local:
			f.Resample(o.cfg.ML, AlphaLocalSearch)
			perturbTimes(f, PerturbConfidence)
		default:
			f.Perturb()
		}

		l := o.likelihood(h.proj, img, ctfImg, f, sigma, n)
		if allZero(l) {
			logger.Log.Warn().Int("image", idx).Msg("degenerate filter: zero weights after bounded transform, skipping")
			return
		}
		particle.UpdateWeights(f.W, l)

		if phase == 0 && o.cutoff.SearchPhase == model.Global {
			truncateAndShuffle(f, o.cfg.MG, o.rng)
		}

		target := o.cfg.MG
		if o.cutoff.SearchPhase == model.Local {
			target = o.cfg.ML
		}
		if f.N() != target {
			f.Resample(target, 0)
		}

		if phase >= MinNPhasePerIter {
			if o.checkEarlyExit(h, idx, f) {
				return
			}
		}
	}
}

// resetGlobalGrid builds the nR x nT rotation/translation grid of §4.5's
// GLOBAL phase-zero policy: nR rotations drawn from an isotropic ACG, each
// paired with every one of nT translations drawn from N(0, transS) and
// clamped to the configured translation box.
func (o *Optimiser) resetGlobalGrid(f *particle.Filter, nR, nT int) {
	maxX, maxY := f.Bounds()
	rots := dstat.NewIsotropicACG(1, 1).Sample(o.rng, nR)

	total := nR * nT
	newR := make([]vec.Quaternion, 0, total)
	newT := make([]vec.Vec2, 0, total)
	trans := make([]vec.Vec2, nT)
	for t := range trans {
		tx := clampf(float32(o.rng.NormFloat64())*o.cfg.TransS, -maxX, maxX)
		ty := clampf(float32(o.rng.NormFloat64())*o.cfg.TransS, -maxY, maxY)
		trans[t] = vec.NewVec2(tx, ty)
	}
	for _, r := range rots {
		for _, tr := range trans {
			newR = append(newR, r)
			newT = append(newT, tr)
		}
	}
	f.R = newR
	f.T = newT
	f.W = make([]float32, total)
	for i := range f.W {
		f.W[i] = 1 / float32(total)
	}
	f.Fold()
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func perturbTimes(f *particle.Filter, confidence int) {
	for i := 0; i < confidence; i++ {
		f.Perturb()
	}
}

// likelihood computes §4.5 step 3's per-sample log-likelihood over the
// band d^2 < |k|^2 < r^2, d == 0 here since the specification's band
// lower bound is only used for the DC-excluding insertion step, not the
// expectation likelihood sum.
func (o *Optimiser) likelihood(proj *projector.Projector, img, ctfImg *reconimage.Image, f *particle.Filter, sigma []float32, n int) []float32 {
	r2 := o.cutoff.R * o.cutoff.R
	half := n/2 + 1
	l := make([]float32, f.N())
	scratch := reconimage.NewImage(n)

	for m := 0; m < f.N(); m++ {
		rot := f.R[m].ToMatrix3x3()
		proj.Project(scratch, rot, f.T[m])

		var sum float32
		for row := 0; row < n; row++ {
			v := row
			if v > n/2 {
				v -= n
			}
			for col := 0; col < half; col++ {
				u := col
				k2 := float32(u*u + v*v)
				if k2 >= r2 {
					continue
				}
				shell := int(math32.Sqrt(k2))
				if shell >= len(sigma) {
					continue
				}
				s := sigma[shell]
				if s <= 0 {
					continue
				}
				ctfVal := real(ctfImg.At(u, v))
				diff := img.At(u, v) - complex64(complex(ctfVal, 0))*scratch.At(u, v)
				mag2 := complexPow2(diff)
				sum += -mag2 / (2 * s)
			}
		}
		l[m] = sum
	}
	return l
}

// allZero reports whether every log-likelihood in l is degenerate: exactly
// zero (no shell contributed, per likelihood's `s <= 0` skip) or NaN (a
// corrupted per-image filter), either of which must trigger the
// degenerate-filter skip rather than flow into UpdateWeights.
func allZero(l []float32) bool {
	for _, v := range l {
		if v != 0 && !math32.IsNaN(v) {
			return false
		}
	}
	return true
}

// truncateAndShuffle sorts f's samples by descending weight, keeps the top
// mG, and shuffles their order, per §4.5 step 5.
func truncateAndShuffle(f *particle.Filter, mG int, rng *rand.Rand) {
	if mG > f.N() {
		mG = f.N()
	}
	rank := f.RankByWeight()
	newR := make([]vec.Quaternion, mG)
	newT := make([]vec.Vec2, mG)
	newW := make([]float32, mG)
	var wsum float32
	for i := 0; i < mG; i++ {
		idx := rank[i]
		newR[i] = f.R[idx]
		newT[i] = f.T[idx]
		newW[i] = f.W[idx]
		wsum += newW[i]
	}
	rng.Shuffle(mG, func(i, j int) {
		newR[i], newR[j] = newR[j], newR[i]
		newT[i], newT[j] = newT[j], newT[i]
		newW[i], newW[j] = newW[j], newW[i]
	})
	if wsum > 0 {
		for i := range newW {
			newW[i] /= wsum
		}
	}
	f.R, f.T, f.W = newR, newT, newW
}

// checkEarlyExit implements §4.5 step 7's variance-based early exit,
// reporting whether expectation for this image should stop early.
func (o *Optimiser) checkEarlyExit(h *hemisphere, idx int, f *particle.Filter) bool {
	rVari := angularVariance(f.R)
	t0, t1 := translationVariance(f.T)

	decreased := false
	if rVari < h.bestRVari[idx]*(1-VarianceDecreaseFrac) {
		h.bestRVari[idx] = rVari
		decreased = true
	}
	if t0 < h.bestT0Vari[idx]*(1-VarianceDecreaseFrac) {
		h.bestT0Vari[idx] = t0
		decreased = true
	}
	if t1 < h.bestT1Vari[idx]*(1-VarianceDecreaseFrac) {
		h.bestT1Vari[idx] = t1
		decreased = true
	}

	if decreased {
		h.nNoDecrease[idx] = 0
		return false
	}
	h.nNoDecrease[idx]++
	return h.nNoDecrease[idx] >= NoDecreaseCap
}

func angularVariance(qs []vec.Quaternion) float32 {
	if len(qs) == 0 {
		return 0
	}
	mean := qs[0]
	var sum float32
	for _, q := range qs {
		d := q.Dot(mean)
		if d > 1 {
			d = 1
		}
		if d < -1 {
			d = -1
		}
		angle := 2 * math32.Acos(math32.Abs(d))
		sum += angle * angle
	}
	return sum / float32(len(qs))
}

func translationVariance(ts []vec.Vec2) (v0, v1 float32) {
	n := float32(len(ts))
	if n == 0 {
		return 0, 0
	}
	var m0, m1 float32
	for _, t := range ts {
		m0 += t[0]
		m1 += t[1]
	}
	m0 /= n
	m1 /= n
	for _, t := range ts {
		d0, d1 := t[0]-m0, t[1]-m1
		v0 += d0 * d0
		v1 += d1 * d1
	}
	return v0 / n, v1 / n
}

// maximization implements §4.5's sigma all-reduce + reconstruction step.
// The hemisphere owns exactly one logical rank here, so PrepareTF's
// internal all-reduce runs over o.hRank's trivial size-1 world; the real
// cross-process reduction this stands in for happens across the ranks a
// single hemisphere is split over, which this exercise collapses to one.
func (o *Optimiser) maximization(h *hemisphere) {
	o.sigmaAllReduce(h)
	o.insertReconstructions(h)
	h.recon.PrepareTF(o.hRank.For(0))
	h.recon.Balance(o.lastFSC, true)
	vol := h.recon.Reconstruct(true)
	o.storeReference(h, vol)
}

// sigmaAllReduce implements §4.5 Maximization step 1: zero the first r
// columns and last column, accumulate residual power per group, divide by
// the accumulated count.
func (o *Optimiser) sigmaAllReduce(h *hemisphere) {
	r := int(o.cutoff.R)
	n := o.cfg.Size
	half := n/2 + 1

	counts := make([]float32, h.nGroups)
	accum := make([][]float32, h.nGroups)
	for g := range accum {
		accum[g] = make([]float32, o.nShells)
	}

	for i, img := range h.images {
		f := h.filters[i]
		best, trans := f.Best()
		rot := best.ToMatrix3x3()

		scratch := reconimage.NewImage(n)
		h.proj.Project(scratch, rot, trans)

		g := h.groupIdx[i]
		ctfImg := h.ctfs[i]
		for row := 0; row < n; row++ {
			v := row
			if v > n/2 {
				v -= n
			}
			for col := 0; col < half; col++ {
				u := col
				shell := int(math32.Sqrt(float32(u*u + v*v)))
				if shell >= o.nShells {
					continue
				}
				ctfVal := real(ctfImg.At(u, v))
				resid := img.At(u, v) - complex64(complex(ctfVal, 0))*scratch.At(u, v)
				accum[g][shell] += complexPow2(resid) / 2
			}
		}
		counts[g]++
	}

	for g := 0; g < h.nGroups; g++ {
		for k := 0; k < r && k < o.nShells; k++ {
			h.sigma[g][k] = 0
			if counts[g] > 0 {
				h.sigma[g][k] = accum[g][k] / counts[g]
			}
		}
	}
}

// correctScale implements the optional first-iteration scale-correction
// step spec.md's Open Questions leaves undecided: a per-group factor
// matching each group's observed Fourier data to its current rank-1
// CTF-weighted projection, applied once before insertion.
func (o *Optimiser) correctScale(h *hemisphere) {
	n := o.cfg.Size
	half := n/2 + 1

	num := make([]float32, h.nGroups)
	den := make([]float32, h.nGroups)

	for i, img := range h.images {
		f := h.filters[i]
		best, trans := f.Best()
		rot := best.ToMatrix3x3()
		g := h.groupIdx[i]
		ctfImg := h.ctfs[i]

		scratch := reconimage.NewImage(n)
		h.proj.Project(scratch, rot, trans)

		for row := 0; row < n; row++ {
			v := row
			if v > n/2 {
				v -= n
			}
			for col := 0; col < half; col++ {
				u := col
				ctfVal := real(ctfImg.At(u, v))
				model := complex64(complex(ctfVal, 0)) * scratch.At(u, v)
				obs := img.At(u, v)
				num[g] += real(model)*real(obs) + imag(model)*imag(obs)
				den[g] += complexPow2(model)
			}
		}
	}

	for i, img := range h.images {
		g := h.groupIdx[i]
		if den[g] <= 0 {
			continue
		}
		s := complex64(complex(num[g]/den[g], 0))
		data := img.FourierData()
		for k := range data {
			data[k] *= s
		}
	}
}

// insertReconstructions implements §4.5 Maximization step 2: insert each
// image's own Fourier data at its rank-1 pose. Insert itself applies the
// CTF weighting (F += CTF*data, T += CTF^2) the later Balance/Reconstruct
// steps deconvolve; the shift correction has to happen here since Insert
// takes no translation.
func (o *Optimiser) insertReconstructions(h *hemisphere) {
	n := o.cfg.Size

	for i, img := range h.images {
		f := h.filters[i]
		best, trans := f.Best()
		rot := best.ToMatrix3x3()
		ctfImg := h.ctfs[i]

		centered := reconimage.NewImage(n)
		centered.ResetFourier()
		copy(centered.FourierData(), img.FourierData())
		unshiftImage(centered, trans)
		h.recon.Insert(centered, ctfImg, rot, 1.0)
	}
}

// unshiftImage undoes the in-plane shift a particle image was picked with,
// so the data lines up with the zero-shift projection at rot before
// insertion. Mirrors projector.Project's phase-ramp convention with the
// sign reversed.
func unshiftImage(img *reconimage.Image, trans vec.Vec2) {
	if trans[0] == 0 && trans[1] == 0 {
		return
	}
	n := img.N()
	half := n/2 + 1
	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for col := 0; col < half; col++ {
			u := col
			phase := 2 * math32.Pi * (float32(u)*trans[0] + float32(v)*trans[1]) / float32(n)
			c, s := math32.Cos(phase), math32.Sin(phase)
			img.Set(u, v, img.At(u, v)*complex64(complex(c, s)))
		}
	}
}

func (o *Optimiser) storeReference(h *hemisphere, vol *reconimage.Volume) {
	h.lastVolume = vol
	nPad := o.cfg.Size * o.cfg.PF
	padded := padVolume(vol, nPad)
	spec := o.tr.Forward3D(padded.RealData(), nPad)
	h.ref.ResetFourier()
	copy(h.ref.FourierData(), spec)
}

// FinalVolume averages the two hemispheres' most recent real-space
// reconstructions into the joined map a run reports, per §4.5's "the
// reported map is the average of the two independent half-reconstructions"
// convention. Returns nil if no iteration has completed yet.
func (o *Optimiser) FinalVolume() *reconimage.Volume {
	if o.hemiA.lastVolume == nil || o.hemiB.lastVolume == nil {
		return nil
	}
	n := o.cfg.Size
	out := reconimage.NewVolume(n)
	out.ResetReal()
	a := o.hemiA.lastVolume.RealData()
	b := o.hemiB.lastVolume.RealData()
	outData := out.RealData()
	for i := range outData {
		outData[i] = (a[i] + b[i]) / 2
	}
	return out
}

// Checkpoint snapshots the optimiser's resumable state per §6's checkpoint
// contract: hemisphere A's reference spectrum and sigma table stand in for
// the run's current noise/resolution estimate (hemisphere B's is symmetric
// under the gold-standard split and is rebuilt independently on resume via
// New), plus the resolution state machine's cutoff fields.
func (o *Optimiser) Checkpoint(iteration int) *checkpoint.Checkpoint {
	var c checkpoint.Checkpoint
	c.FromReference(o.hemiA.ref, o.cfg.PF)
	c.FromModel(o.cutoff, iteration)
	c.SigmaGroups = int32(o.hemiA.nGroups)
	c.SigmaShells = int32(o.nShells)
	c.Sigma = make([]float32, 0, o.hemiA.nGroups*o.nShells)
	for _, row := range o.hemiA.sigma {
		c.Sigma = append(c.Sigma, row...)
	}
	return &c
}

// exchangeFSC runs the cross-hemisphere FSC broadcast of §4.5: both logical
// hemisphere ranks must call transport.Comm's Broadcast concurrently, since
// World's barrier blocks until every rank in it has arrived. Only rank 0's
// (hemisphere A's) curve is authoritative; rank 1 contributes a placeholder.
func (o *Optimiser) exchangeFSC(fscA []float32) []float32 {
	var agreed, agreedB []float32
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agreed = model.BcastFSC(o.world.For(0), fscA, 0)
	}()
	go func() {
		defer wg.Done()
		agreedB = model.BcastFSC(o.world.For(1), nil, 0)
	}()
	wg.Wait()
	_ = agreedB
	return agreed
}
