// Package model implements the resolution state machine of §4.4: the
// current/reconstruction/top-ever frequency cutoffs, the GLOBAL/LOCAL/STOP
// search-phase transitions, and cross-hemisphere FSC exchange.
//
// Grounded on the teacher's typed state-machine style
// (pkg/core/math/control/motion's planner packages carry a small enum plus
// counters advanced by one Update call per tick).
package model

import (
	"github.com/chewxy/math32"

	"github.com/itohio/cryoem/pkg/reconimage"
	"github.com/itohio/cryoem/pkg/transport"
)

// SearchType is the pose-search phase §4.4 drives the optimiser with.
type SearchType int

const (
	Global SearchType = iota
	Local
	Stop
)

func (s SearchType) String() string {
	switch s {
	case Global:
		return "GLOBAL"
	case Local:
		return "LOCAL"
	case Stop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Tuning constants named in §4.4's transition table.
const (
	RChangeDecreaseNorm = 0.1
	FSCThreshold        = 0.143
)

// Model tracks the frequency-cutoff state machine. Gap and MaxR bound how
// fast the cutoff can grow; all fields are exported so the optimiser can
// read/restore them (e.g. from a checkpoint) without an accessor for every
// one.
type Model struct {
	Gap, MaxR float32

	R, RU, RT, RPrev float32
	SearchPhase      SearchType

	stdRChange         float32
	nRChangeNoDecrease int
	nTopResNoImprove   int
	prevRChange        float32
	hasPrevRChange     bool
}

// New starts the state machine at cutoff r0 in GLOBAL phase.
func New(r0, gap, maxR float32) *Model {
	return &Model{
		Gap: gap, MaxR: maxR,
		R: r0, RU: clampf(r0+gap, 0, maxR), RT: 0, RPrev: r0,
		SearchPhase: Global,
	}
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

// Update advances the state machine one iteration given the mean/std of
// per-image rotation change and the resolution (in frequency shells)
// measured from FSC at the 0.143 threshold, per §4.4's transition table.
func (m *Model) Update(rChangeMean, rChangeStd, res float32) {
	if !m.hasPrevRChange {
		m.prevRChange = rChangeMean
		m.hasPrevRChange = true
	} else if m.prevRChange-rChangeMean >= RChangeDecreaseNorm*rChangeStd {
		m.nRChangeNoDecrease = 0
	} else {
		m.nRChangeNoDecrease++
	}
	m.prevRChange = rChangeMean
	m.stdRChange = rChangeStd

	determineIncreaseR := false
	if res > m.RT {
		m.RT = res
		m.nTopResNoImprove = 0
		determineIncreaseR = true
	} else {
		m.nTopResNoImprove++
	}

	switch m.SearchPhase {
	case Global:
		if m.nRChangeNoDecrease >= 2 {
			m.SearchPhase = Local
		}
	case Local:
		if m.nRChangeNoDecrease >= 1 && m.nTopResNoImprove >= 3 {
			m.SearchPhase = Stop
		}
	}

	if determineIncreaseR {
		m.RPrev = m.R
		m.R = clampf(m.R+m.Gap, 0, m.MaxR)
		m.RU = clampf(m.R+m.Gap, 0, m.MaxR)
	}
}

// FSC computes the Fourier Shell Correlation curve between two
// half-spectrum volumes of equal side, normalised by shell-wise magnitude:
// FSC[k] = Re(sum A.conj(B)) / sqrt(sum|A|^2 * sum|B|^2) over shell k.
func FSC(a, b *reconimage.Volume) []float32 {
	n := a.N()
	nShells := n/2 + 1
	numReal := make([]float32, nShells)
	denA := make([]float32, nShells)
	denB := make([]float32, nShells)

	half := n/2 + 1
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
			for col := 0; col < half; col++ {
				u := col
				shell := int(math32.Sqrt(float32(u*u + v*v + w*w)))
				if shell >= nShells {
					continue
				}
				av := a.At(u, v, w)
				bv := b.At(u, v, w)
				cross := av * complexConj(bv)
				numReal[shell] += real(cross)
				denA[shell] += real(av)*real(av) + imag(av)*imag(av)
				denB[shell] += real(bv)*real(bv) + imag(bv)*imag(bv)
			}
		}
	}

	fsc := make([]float32, nShells)
	for k := 0; k < nShells; k++ {
		denom := math32.Sqrt(denA[k] * denB[k])
		if denom > 0 {
			fsc[k] = numReal[k] / denom
		}
	}
	return fsc
}

func complexConj(c complex64) complex64 { return complex(real(c), -imag(c)) }

// ResolutionFromFSC returns the index of the first shell whose FSC drops
// below threshold, i.e. one past the last passing shell (§4.4's
// "resolution res from FSC at threshold 0.143"), scanning from the origin
// outward; it returns len(fsc) when no shell drops below threshold.
func ResolutionFromFSC(fsc []float32, threshold float32) float32 {
	for k, v := range fsc {
		if v < threshold {
			return float32(k)
		}
	}
	return float32(len(fsc))
}

// BcastFSC exchanges the FSC curve computed between the two hemisphere
// leaders and broadcasts the agreed curve to every rank in comm: rank 0
// (the hemisphere-A leader) holds the authoritative curve computed against
// hemisphere B's reconstruction, and every other rank receives an
// identical copy, matching §4.4's cross-hemisphere resolution agreement.
func BcastFSC(comm transport.Comm, localFSC []float32, leaderRank int) []float32 {
	n := len(localFSC)
	n = comm.BroadcastInt(leaderRank, n)
	buf := make([]float32, n)
	if comm.Rank() == leaderRank {
		copy(buf, localFSC)
	}
	return comm.Broadcast(leaderRank, buf)
}
