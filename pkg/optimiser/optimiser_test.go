package optimiser

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/itohio/cryoem/pkg/config"
	"github.com/itohio/cryoem/pkg/core/math/vec"
	"github.com/itohio/cryoem/pkg/model"
	"github.com/itohio/cryoem/pkg/particle"
	"github.com/itohio/cryoem/pkg/reconimage"
)

func TestTranslationSearchCountFloorsAtMinimum(t *testing.T) {
	assert.Equal(t, MinTransSearch, translationSearchCount(0.1))
}

func TestTranslationSearchCountGrowsWithTransS(t *testing.T) {
	small := translationSearchCount(1)
	large := translationSearchCount(50)
	assert.Greater(t, large, small)
}

func TestPadVolumeCentersOriginalData(t *testing.T) {
	v := reconimage.NewVolume(4)
	v.ResetReal()
	v.SetRealAt(0, 0, 0, 7)
	v.SetRealAt(1, 1, 1, 3)

	padded := padVolume(v, 8)
	assert.Equal(t, float32(7), padded.RealAt(0, 0, 0))
	assert.Equal(t, float32(3), padded.RealAt(1, 1, 1))
	assert.Equal(t, float32(0), padded.RealAt(3, 3, 3))
}

func TestSplitHemispheresAlternates(t *testing.T) {
	ids := []int64{10, 11, 12, 13, 14}
	a, b := splitHemispheres(ids)
	assert.Equal(t, []int64{10, 12, 14}, a)
	assert.Equal(t, []int64{11, 13}, b)
}

func TestEstimateInitialSpectraShapeMatchesNShells(t *testing.T) {
	n := 8
	im1 := reconimage.NewImage(n)
	im1.ResetFourier()
	im2 := reconimage.NewImage(n)
	im2.ResetFourier()
	im1.Set(1, 1, complex64(complex(2, 0)))
	im2.Set(1, 1, complex64(complex(2, 0)))

	avgPs, psAvg := estimateInitialSpectra([]*reconimage.Image{im1, im2}, n/2+1)
	require.Len(t, avgPs, n/2+1)
	require.Len(t, psAvg, n/2+1)
	// Identical images: the mean equals either one, so per-shell average
	// power and mean power coincide.
	for k := range avgPs {
		assert.InDelta(t, psAvg[k], avgPs[k], 1e-4)
	}
}

func TestEstimateInitialSpectraEmptyImages(t *testing.T) {
	avgPs, psAvg := estimateInitialSpectra(nil, 5)
	assert.Equal(t, make([]float32, 5), avgPs)
	assert.Equal(t, make([]float32, 5), psAvg)
}

func TestComplexPow2(t *testing.T) {
	assert.Equal(t, float32(25), complexPow2(complex64(complex(3, 4))))
}

func TestClampf(t *testing.T) {
	assert.Equal(t, float32(-1), clampf(-5, -1, 1))
	assert.Equal(t, float32(1), clampf(5, -1, 1))
	assert.Equal(t, float32(0), clampf(0, -1, 1))
}

func TestAllZero(t *testing.T) {
	assert.True(t, allZero([]float32{0, 0, 0}))
	assert.False(t, allZero([]float32{0, 0.1, 0}))
	assert.True(t, allZero([]float32{0, float32(math.NaN()), 0}))
	assert.False(t, allZero([]float32{0.1, float32(math.NaN()), 0}))
}

func TestAngularVarianceZeroForIdenticalQuaternions(t *testing.T) {
	q := vec.Quaternion{1, 0, 0, 0}
	assert.Equal(t, float32(0), angularVariance([]vec.Quaternion{q, q, q}))
}

func TestTranslationVarianceZeroForIdenticalShifts(t *testing.T) {
	ts := []vec.Vec2{{1, 2}, {1, 2}, {1, 2}}
	v0, v1 := translationVariance(ts)
	assert.Equal(t, float32(0), v0)
	assert.Equal(t, float32(0), v1)
}

func TestTruncateAndShuffleKeepsTopWeightsAndNormalizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	f := particle.New(4, 5, 5, nil, rng)
	f.W = []float32{0.1, 0.5, 0.1, 0.3}

	truncateAndShuffle(f, 2, rng)
	assert.Equal(t, 2, f.N())
	var sum float32
	for _, w := range f.W {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-4)
}

// newTestDatabase writes a tiny sqlite particle database with four
// particles (each its own image, so the images disagree and the initial
// sigma table isn't degenerately zero) split across two micrographs/groups,
// and returns its path.
func newTestDatabase(t *testing.T, imgPaths [4]string) string {
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
		INSERT INTO micrographs VALUES (2, 300, 2.7);
		INSERT INTO particles VALUES (1, '` + imgPaths[0] + `', 1, 1, 12000, 11800, 0.2);
		INSERT INTO particles VALUES (2, '` + imgPaths[1] + `', 1, 1, 12100, 11900, 0.3);
		INSERT INTO particles VALUES (3, '` + imgPaths[2] + `', 2, 2, 11900, 11700, 0.1);
		INSERT INTO particles VALUES (4, '` + imgPaths[3] + `', 2, 2, 12200, 12000, 0.4);
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())
	return path
}

func testConfig(t *testing.T, dbPath, modelPath string, size int) config.Options {
	t.Helper()
	return config.New(
		config.WithSize(size),
		config.WithPF(1),
		config.WithDatabase(dbPath),
		config.WithInitModel(modelPath),
		config.WithSymmetry("C1"),
		config.WithSampleCounts(50, 2, 2, 1),
		config.WithTranslationBounds(2, 2, 2),
		config.WithIterMax(1),
	)
}

func writeFixtures(t *testing.T, size int) (dbPath, modelPath string) {
	t.Helper()
	dir := t.TempDir()

	modelPath = filepath.Join(dir, "model.mrc")
	modelData := make([]float32, size*size*size)
	for i := range modelData {
		modelData[i] = float32(i%7) * 0.01
	}
	require.NoError(t, reconimage.WriteMRC(modelPath, modelData, size, size, size))

	var imgPaths [4]string
	for p := 0; p < 4; p++ {
		imgPaths[p] = filepath.Join(dir, fmt.Sprintf("particle%d.mrc", p))
		imgData := make([]float32, size*size)
		for i := range imgData {
			imgData[i] = float32((i+p*3)%5) * 0.1
		}
		require.NoError(t, reconimage.WriteMRC(imgPaths[p], imgData, size, size, 1))
	}

	dbPath = newTestDatabase(t, imgPaths)
	return dbPath, modelPath
}

func TestNewBuildsBothHemispheresFromDatabase(t *testing.T) {
	const size = 8
	dbPath, modelPath := writeFixtures(t, size)
	cfg := testConfig(t, dbPath, modelPath, size)
	rng := rand.New(rand.NewSource(42))

	o, err := New(cfg, rng)
	require.NoError(t, err)

	assert.Len(t, o.hemiA.ids, 2)
	assert.Len(t, o.hemiB.ids, 2)
	assert.Equal(t, []int64{1, 3}, o.hemiA.ids)
	assert.Equal(t, []int64{2, 4}, o.hemiB.ids)
	assert.NotSame(t, o.hemiA.ref, o.hemiB.ref)
	assert.Equal(t, model.Global, o.cutoff.SearchPhase)
}

func TestRunCompletesOneIterationWithoutError(t *testing.T) {
	const size = 8
	dbPath, modelPath := writeFixtures(t, size)
	cfg := testConfig(t, dbPath, modelPath, size)
	rng := rand.New(rand.NewSource(7))

	o, err := New(cfg, rng)
	require.NoError(t, err)

	err = o.Run(context.Background())
	require.NoError(t, err)

	// A completed iteration must have produced a finite resolution-driven
	// cutoff state and left every image's filter with at least one sample.
	assert.GreaterOrEqual(t, o.cutoff.R, float32(0))
	for _, h := range []*hemisphere{o.hemiA, o.hemiB} {
		for _, f := range h.filters {
			assert.Greater(t, f.N(), 0)
		}
	}

	vol := o.FinalVolume()
	require.NotNil(t, vol)
	assert.Equal(t, size, vol.N())

	cp := o.Checkpoint(0)
	assert.Equal(t, int32(size), cp.N)
	assert.Equal(t, int32(0), cp.Iteration)
	assert.Len(t, cp.RefReal, len(cp.RefImag))
	require.NotEmpty(t, cp.Sigma)
}

func TestRunWithCorrectScaleFirstIterCompletesWithoutError(t *testing.T) {
	const size = 8
	dbPath, modelPath := writeFixtures(t, size)
	cfg := config.New(
		config.WithSize(size),
		config.WithPF(1),
		config.WithDatabase(dbPath),
		config.WithInitModel(modelPath),
		config.WithSymmetry("C1"),
		config.WithSampleCounts(50, 2, 2, 1),
		config.WithTranslationBounds(2, 2, 2),
		config.WithIterMax(1),
		config.WithCorrectScaleFirstIter(true),
	)
	rng := rand.New(rand.NewSource(13))

	o, err := New(cfg, rng)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
	assert.NotNil(t, o.FinalVolume())
}

func TestFinalVolumeNilBeforeAnyIteration(t *testing.T) {
	const size = 8
	dbPath, modelPath := writeFixtures(t, size)
	cfg := testConfig(t, dbPath, modelPath, size)
	rng := rand.New(rand.NewSource(11))

	o, err := New(cfg, rng)
	require.NoError(t, err)
	assert.Nil(t, o.FinalVolume())
}
