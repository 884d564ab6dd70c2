package dstat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACGSampleUnitNorm(t *testing.T) {
	a := NewIsotropicACG(1, 4)
	rng := rand.New(rand.NewSource(1))
	samples := a.Sample(rng, 50)
	require.Len(t, samples, 50)
	for _, q := range samples {
		assert.InDelta(t, 1.0, math.Sqrt(float64(q.SumSqr())), 1e-4)
	}
}

func TestACGFitRecoversConcentration(t *testing.T) {
	truth := NewIsotropicACG(1, 9)
	rng := rand.New(rand.NewSource(2))
	samples := truth.Sample(rng, 4000)
	fitted := FitACG(samples, nil, 30)
	// A tightly concentrated ACG should assign far higher density to
	// samples drawn from it than an isotropic one.
	isotropic := NewIsotropicACG(1, 1)
	var fittedSum, isoSum float64
	for _, q := range samples[:200] {
		fittedSum += fitted.PDF(q)
		isoSum += isotropic.PDF(q)
	}
	assert.Greater(t, fittedSum, isoSum)
}

func TestVonMisesFitRecoversMode(t *testing.T) {
	truth := VonMises{Mu: 1.0, Kappa: 20}
	rng := rand.New(rand.NewSource(3))
	angles := truth.Sample(rng, 2000)
	fitted := FitVonMises(angles, nil)
	diff := math.Abs(float64(fitted.Mu - truth.Mu))
	if diff > math.Pi {
		diff = 2*math.Pi - diff
	}
	assert.Less(t, diff, 0.1)
	assert.Greater(t, fitted.Kappa, float32(5))
}

func TestVonMisesSampleWithinRange(t *testing.T) {
	v := VonMises{Mu: 0, Kappa: 3}
	rng := rand.New(rand.NewSource(4))
	angles := v.Sample(rng, 100)
	for _, a := range angles {
		assert.LessOrEqual(t, a, float32(math.Pi))
		assert.GreaterOrEqual(t, a, float32(-math.Pi))
	}
}

func TestVonMisesZeroKappaIsUniform(t *testing.T) {
	v := VonMises{Mu: 0, Kappa: 0}
	rng := rand.New(rand.NewSource(5))
	angles := v.Sample(rng, 500)
	var sumC, sumS float64
	for _, a := range angles {
		sumC += math.Cos(float64(a))
		sumS += math.Sin(float64(a))
	}
	r := math.Sqrt(sumC*sumC+sumS*sumS) / float64(len(angles))
	assert.Less(t, r, 0.2)
}
