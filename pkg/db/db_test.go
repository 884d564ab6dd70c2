package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/itohio/cryoem/pkg/reconimage"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "particles.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE micrographs (ID INTEGER PRIMARY KEY, Voltage REAL, Cs REAL);
		CREATE TABLE particles (
			ID INTEGER PRIMARY KEY, Name TEXT, GroupID INTEGER, micrographID INTEGER,
			DefocusU REAL, DefocusV REAL, DefocusAngle REAL
		);
		INSERT INTO micrographs VALUES (1, 300, 2.7);
		INSERT INTO particles VALUES (1, 'img1.mrc', 1, 1, 12000, 11800, 0.2);
		INSERT INTO particles VALUES (2, '2@stack.mrc', 1, 1, 12100, 11900, 0.3);
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, dir
}

func TestAllParticleIDsReturnsAscending(t *testing.T) {
	d, _ := newTestDB(t)
	ids, err := d.AllParticleIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestParticleLoadsRow(t *testing.T) {
	d, _ := newTestDB(t)
	p, err := d.Particle(1)
	require.NoError(t, err)
	assert.Equal(t, "img1.mrc", p.Name)
	assert.Equal(t, int64(1), p.GroupID)
	assert.InDelta(t, 12000, p.DefocusU, 1e-6)
}

func TestParticleMissingRowErrors(t *testing.T) {
	d, _ := newTestDB(t)
	_, err := d.Particle(99)
	assert.Error(t, err)
}

func TestMicrographLoadsRow(t *testing.T) {
	d, _ := newTestDB(t)
	m, err := d.Micrograph(1)
	require.NoError(t, err)
	assert.InDelta(t, 300, m.Voltage, 1e-6)
	assert.InDelta(t, 2.7, m.Cs, 1e-6)
}

func TestParseNamePlainPath(t *testing.T) {
	path, slice, hasSlice, err := ParseName("some/path.mrc")
	require.NoError(t, err)
	assert.Equal(t, "some/path.mrc", path)
	assert.Equal(t, 0, slice)
	assert.False(t, hasSlice)
}

func TestParseNameSliceSelector(t *testing.T) {
	path, slice, hasSlice, err := ParseName("3@stack.mrc")
	require.NoError(t, err)
	assert.Equal(t, "stack.mrc", path)
	assert.Equal(t, 2, slice)
	assert.True(t, hasSlice)
}

func TestParseNameInvalidSelectorErrors(t *testing.T) {
	_, _, _, err := ParseName("x@stack.mrc")
	assert.Error(t, err)
}

func TestLoadParticleImagePlainPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img1.mrc")
	require.NoError(t, reconimage.WriteMRC(path, make([]float32, 16), 4, 4, 1))

	p := Particle{Name: path}
	im, err := LoadParticleImage(p, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, im.N())
}

func TestLoadParticleImageSliceSelector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.mrc")
	data := make([]float32, 16*3)
	for i := range data[16:32] {
		data[16+i] = 1
	}
	require.NoError(t, reconimage.WriteMRC(path, data, 4, 4, 3))

	p := Particle{Name: "2@" + path}
	im, err := LoadParticleImage(p, 4)
	require.NoError(t, err)
	assert.Equal(t, float32(1), im.RealData()[0])
}
