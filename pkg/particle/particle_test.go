package particle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/symmetry"
)

func TestNewFilterWeightsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	f := New(100, 10, 10, nil, rng)
	var sum float32
	for _, w := range f.W {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestFilterTranslationsWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	f := New(200, 5, 3, nil, rng)
	for _, t2 := range f.T {
		assert.LessOrEqual(t, t2[0], float32(5))
		assert.GreaterOrEqual(t, t2[0], float32(-5))
		assert.LessOrEqual(t, t2[1], float32(3))
		assert.GreaterOrEqual(t, t2[1], float32(-3))
	}
}

func TestPerturbPreservesSampleCount(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	f := New(50, 10, 10, nil, rng)
	f.Perturb()
	assert.Equal(t, 50, f.N())
}

func TestResampleChangesSize(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	f := New(100, 10, 10, nil, rng)
	f.Resample(40, 0.2)
	assert.Equal(t, 40, f.N())
	var sum float32
	for _, w := range f.W {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestUpdateWeightsNormalizes(t *testing.T) {
	w := []float32{0.25, 0.25, 0.25, 0.25}
	l := []float32{-1, -2, -3, -0.5}
	UpdateWeights(w, l)
	var sum float32
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestNeffUniformWeightsEqualsN(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	f := New(64, 1, 1, nil, rng)
	assert.InDelta(t, 64, f.Neff(), 1e-2)
}

func TestRankByWeightDescending(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	f := New(10, 1, 1, nil, rng)
	f.W = []float32{0.05, 0.5, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.1}
	rank := f.RankByWeight()
	require.Equal(t, 1, rank[0])
}

func TestFoldAllKeepsPosesInFundamentalDomain(t *testing.T) {
	g, err := symmetry.New("C2V")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	f := New(500, 1, 1, g, rng)
	for i, q := range f.R {
		phi, theta, _ := q.Euler()
		assert.True(t, g.InFundamentalDomain(phi, theta), "sample %d not folded into domain", i)
	}
}

func TestBoundsReturnsConstructorArgs(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	f := New(10, 7, 3, nil, rng)
	maxX, maxY := f.Bounds()
	assert.Equal(t, float32(7), maxX)
	assert.Equal(t, float32(3), maxY)
}

func TestFoldAppliedAfterDirectAssignment(t *testing.T) {
	g, err := symmetry.New("C4")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(10))
	f := New(5, 1, 1, g, rng)
	// Overwrite R directly, bypassing Reset/Perturb, then fold.
	f.R[0] = vec.Quaternion{0, 0, 0.9, 0.1}.Normal()
	f.Fold()
	phi, theta, _ := f.R[0].Euler()
	assert.True(t, g.InFundamentalDomain(phi, theta))
}

func TestDiffTopRFirstCallIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	f := New(20, 1, 1, nil, rng)
	assert.Equal(t, float32(0), f.DiffTopR())
}
