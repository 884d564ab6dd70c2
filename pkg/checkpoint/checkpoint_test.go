package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/cryoem/pkg/model"
	"github.com/itohio/cryoem/pkg/reconimage"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	vol := reconimage.NewVolume(8)
	vol.ResetFourier()
	vol.Set(1, 2, 0, complex(1.5, -2.5))
	vol.Set(0, 0, 1, complex(3, 4))

	var c Checkpoint
	c.FromReference(vol, 2)
	c.SigmaGroups = 2
	c.SigmaShells = 3
	c.Sigma = []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}

	m := model.New(5, 2, 40)
	m.Update(1.0, 0.1, 6)
	c.FromModel(m, 3)

	data, err := c.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var decoded Checkpoint
	require.NoError(t, decoded.Unmarshal(data))

	assert.Equal(t, c.N, decoded.N)
	assert.Equal(t, c.PF, decoded.PF)
	assert.Equal(t, c.SigmaGroups, decoded.SigmaGroups)
	assert.Equal(t, c.SigmaShells, decoded.SigmaShells)
	assert.Equal(t, c.Sigma, decoded.Sigma)
	assert.Equal(t, c.R, decoded.R)
	assert.Equal(t, c.RU, decoded.RU)
	assert.Equal(t, c.RT, decoded.RT)
	assert.Equal(t, c.SearchPhase, decoded.SearchPhase)
	assert.Equal(t, c.Iteration, decoded.Iteration)
	assert.Equal(t, c.RefReal, decoded.RefReal)
	assert.Equal(t, c.RefImag, decoded.RefImag)
}

func TestToReferenceRebuildsVolume(t *testing.T) {
	vol := reconimage.NewVolume(8)
	vol.ResetFourier()
	vol.Set(1, 2, 0, complex(1.5, -2.5))

	var c Checkpoint
	c.FromReference(vol, 2)

	rebuilt, err := c.ToReference()
	require.NoError(t, err)
	assert.Equal(t, vol.At(1, 2, 0), rebuilt.At(1, 2, 0))
	assert.Equal(t, vol.N(), rebuilt.N())
}

func TestToReferenceRejectsMismatchedRails(t *testing.T) {
	c := Checkpoint{N: 8, RefReal: []float32{1, 2}, RefImag: []float32{1}}
	_, err := c.ToReference()
	assert.Error(t, err)
}

func TestUnmarshalEmptyBytesIsZeroValue(t *testing.T) {
	var c Checkpoint
	require.NoError(t, c.Unmarshal(nil))
	assert.Equal(t, int32(0), c.N)
}
