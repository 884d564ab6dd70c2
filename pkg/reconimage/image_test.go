package reconimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridSingleSpaceInvariant(t *testing.T) {
	im := NewImage(8)
	im.ResetReal()
	assert.Equal(t, SpaceReal, im.Space())
	assert.Panics(t, func() { im.FourierData() })

	im.ResetFourier()
	assert.Equal(t, SpaceFourier, im.Space())
	assert.Panics(t, func() { im.RealData() })
}

func TestImageRealAtRoundTrip(t *testing.T) {
	im := NewImage(8)
	im.ResetReal()
	im.SetRealAt(-3, 2, 1.5)
	assert.Equal(t, float32(1.5), im.RealAt(-3, 2))
}

func TestImageFourierHermitianSymmetry(t *testing.T) {
	im := NewImage(8)
	im.ResetFourier()
	im.Set(2, 3, complex(1, 2))
	assert.Equal(t, complex64(complex(1, 2)), im.At(2, 3))
	assert.Equal(t, complex64(complex(1, -2)), im.At(-2, -3))
}

func TestImageAddAccumulatesConjugate(t *testing.T) {
	im := NewImage(8)
	im.ResetFourier()
	im.Add(1, 1, complex(1, 1))
	im.Add(-1, -1, complex(1, 1))
	// second Add hits the conjugate slot: stored value accumulates conj(1+1i) = 1-1i
	assert.Equal(t, complex64(complex(2, 0)), im.At(1, 1))
}

func TestVolumeRealAtRoundTrip(t *testing.T) {
	vl := NewVolume(8)
	vl.ResetReal()
	vl.SetRealAt(-1, 2, 3, 4.25)
	assert.Equal(t, float32(4.25), vl.RealAt(-1, 2, 3))
}

func TestVolumeFourierHermitianSymmetry(t *testing.T) {
	vl := NewVolume(8)
	vl.ResetFourier()
	vl.Set(1, 2, 3, complex(0.5, -0.25))
	assert.Equal(t, complex64(complex(0.5, -0.25)), vl.At(1, 2, 3))
	assert.Equal(t, complex64(complex(0.5, 0.25)), vl.At(-1, -2, -3))
}

func TestVolumeCloneIsIndependent(t *testing.T) {
	vl := NewVolume(4)
	vl.ResetReal()
	vl.SetRealAt(0, 0, 0, 9)
	clone := vl.Clone()
	clone.SetRealAt(0, 0, 0, -9)
	require.Equal(t, float32(9), vl.RealAt(0, 0, 0))
	assert.Equal(t, float32(-9), clone.RealAt(0, 0, 0))
}

func TestNewGridRejectsOddOrInvalidDim(t *testing.T) {
	assert.Panics(t, func() { NewImage(7) })
}
