package fft

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round-trip tolerance is float32-realistic (the spec's 1e-10 figure assumes
// double precision; this engine runs its hot loops in float32 throughout,
// matching the teacher's vec/mat packages).
const roundTripTol = 1e-3

func relL2(a, b []float32) float32 {
	var num, den float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		num += d * d
		den += float64(a[i]) * float64(a[i])
	}
	if den == 0 {
		return float32(num)
	}
	return float32(num / den)
}

func TestRoundTrip2D(t *testing.T) {
	n := 16
	rng := rand.New(rand.NewSource(1))
	src := make([]float32, n*n)
	for i := range src {
		src[i] = rng.Float32()*2 - 1
	}
	var tr Radix2
	spec := tr.Forward2D(src, n)
	require.Len(t, spec, (n/2+1)*n)
	got := tr.Inverse2D(spec, n)
	assert.Less(t, relL2(src, got), float32(roundTripTol))
}

func TestRoundTrip3D(t *testing.T) {
	n := 8
	rng := rand.New(rand.NewSource(2))
	src := make([]float32, n*n*n)
	for i := range src {
		src[i] = rng.Float32()*2 - 1
	}
	var tr Radix2
	spec := tr.Forward3D(src, n)
	require.Len(t, spec, (n/2+1)*n*n)
	got := tr.Inverse3D(spec, n)
	assert.Less(t, relL2(src, got), float32(roundTripTol))
}

func TestForwardDCIsSum(t *testing.T) {
	n := 8
	src := make([]float32, n*n)
	for i := range src {
		src[i] = 1
	}
	var tr Radix2
	spec := tr.Forward2D(src, n)
	// DC component (index 0) is the sum of all samples.
	assert.InDelta(t, float32(n*n), real(spec[0]), 1e-2)
}
