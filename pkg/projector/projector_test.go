package projector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/cryoem/pkg/core/math/kernel"
	"github.com/itohio/cryoem/pkg/core/math/mat"
	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/reconimage"
)

func TestProjectIdentityRecoversCentralSliceExactly(t *testing.T) {
	n := 16
	vol := reconimage.NewVolume(n)
	vol.ResetFourier()

	half := n/2 + 1
	want := make(map[[2]int]complex64)
	for u := 0; u < half; u++ {
		for v := -n / 2; v < n/2; v++ {
			val := complex64(complex(float32(u)-float32(v)*0.5, float32(v)*0.25))
			vol.Set(u, v, 0, val)
			want[[2]int{u, v}] = vol.At(u, v, 0)
		}
	}

	p := New(vol, 1, float32(n), Trilinear, nil)
	out := reconimage.NewImage(n)
	out.ResetFourier()
	p.Project(out, mat.Identity3x3(), vec.Vec2{0, 0})

	for uv, w := range want {
		got := out.At(uv[0], uv[1])
		assert.InDelta(t, real(w), real(got), 1e-4)
		assert.InDelta(t, imag(w), imag(got), 1e-4)
	}
}

func TestProjectBandLimitZeroesOutOfBand(t *testing.T) {
	n := 16
	vol := reconimage.NewVolume(n)
	vol.ResetFourier()
	vol.Set(7, 7, 0, complex(1, 1))
	vol.Set(1, 1, 0, complex(2, 2))

	p := New(vol, 1, 3, Trilinear, nil)
	out := reconimage.NewImage(n)
	out.ResetFourier()
	p.Project(out, mat.Identity3x3(), vec.Vec2{0, 0})

	assert.Equal(t, complex64(0), out.At(7, 7))
	assert.NotEqual(t, complex64(0), out.At(1, 1))
}

func TestProjectShiftAppliesPhaseRamp(t *testing.T) {
	n := 16
	vol := reconimage.NewVolume(n)
	vol.ResetFourier()
	vol.Set(1, 0, 0, complex(1, 0))

	p := New(vol, 1, float32(n), Trilinear, nil)
	out := reconimage.NewImage(n)
	out.ResetFourier()
	p.Project(out, mat.Identity3x3(), vec.Vec2{float32(n) / 4, 0})

	got := out.At(1, 0)
	// an n/4-pixel shift at u=1 introduces a quarter turn: phase = -2*pi*1*(n/4)/n = -pi/2
	assert.InDelta(t, 0, real(got), 1e-3)
	assert.InDelta(t, -1, imag(got), 1e-3)
}

func TestProjectGriddingModeProducesFiniteValues(t *testing.T) {
	n := 16
	vol := reconimage.NewVolume(n)
	vol.ResetFourier()
	vol.Set(2, 2, 0, complex(1, 0))

	k := kernel.New(1.9, 15, 2, 100)
	p := New(vol, 2, float32(n), Gridding, k)
	out := reconimage.NewImage(n)
	out.ResetFourier()
	p.Project(out, mat.Identity3x3(), vec.Vec2{0, 0})

	var got complex64
	require.NotPanics(t, func() { got = out.At(2, 2) })
	for _, part := range []float32{real(got), imag(got)} {
		assert.False(t, math.IsNaN(float64(part)) || math.IsInf(float64(part), 0))
	}
}
