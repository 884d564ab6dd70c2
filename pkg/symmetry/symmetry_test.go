package symmetry

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/cryoem/pkg/core/math/vec"
)

func TestNewC1IsTrivial(t *testing.T) {
	g, err := New("C1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Order())
}

func TestNewC4Order(t *testing.T) {
	g, err := New("C4")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Order())
}

func TestNewD4Order(t *testing.T) {
	g, err := New("D4")
	require.NoError(t, err)
	assert.Equal(t, 8, g.Order())
}

func TestNewC2VOrderMatchesD2(t *testing.T) {
	g, err := New("C2V")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Order())
}

func TestNewUnknownGroupErrors(t *testing.T) {
	_, err := New("Q7")
	assert.Error(t, err)
}

func TestTetrahedralOrder(t *testing.T) {
	g, err := New("T")
	require.NoError(t, err)
	assert.Equal(t, 12, g.Order())
}

func TestOctahedralOrder(t *testing.T) {
	g, err := New("O")
	require.NoError(t, err)
	assert.Equal(t, 24, g.Order())
}

func TestIcosahedralOrder(t *testing.T) {
	g, err := New("I")
	require.NoError(t, err)
	assert.Equal(t, 60, g.Order())
}

func TestC2VFoldStaysInFundamentalDomain(t *testing.T) {
	g, err := New("C2V")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		phi := rng.Float32() * 2 * math32.Pi
		theta := rng.Float32() * math32.Pi
		psi := rng.Float32() * 2 * math32.Pi
		q := vec.QuaternionFromEuler(phi, theta, psi)

		_, fPhi, fTheta := g.Fold(q)
		require.GreaterOrEqual(t, fTheta, float32(0))
		require.LessOrEqual(t, fTheta, math32.Pi/2+1e-3)
		require.GreaterOrEqual(t, fPhi, float32(0)-1e-3)
		require.LessOrEqual(t, fPhi, math32.Pi+1e-3)
	}
}

func TestFoldedPoseIsInFundamentalDomain(t *testing.T) {
	g, err := New("D4")
	require.NoError(t, err)
	q := vec.QuaternionFromEuler(1.1, 0.7, 0.3)
	_, phi, theta := g.Fold(q)
	assert.True(t, g.InFundamentalDomain(phi, theta))
}
