package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableFTMonotonicDecay(t *testing.T) {
	tbl := New(1.9, 15, 2, 1<<10)
	prev := tbl.FT(0)
	assert.Greater(t, prev, float32(0))
	for i := 1; i <= 10; i++ {
		r2 := tbl.maxR2 * float32(i) / 10
		v := tbl.FT(r2)
		assert.LessOrEqual(t, v, prev+1e-6)
		prev = v
	}
}

func TestTableFTZeroOutsideSupport(t *testing.T) {
	tbl := New(1.9, 15, 2, 1<<10)
	assert.Equal(t, float32(0), tbl.FT(tbl.maxR2*1.5))
}

func TestTableRLFinite(t *testing.T) {
	tbl := New(1.9, 15, 2, 1<<10)
	for _, r := range []float32{0, 0.1, 1, 5, 20} {
		v := tbl.RL(r)
		assert.False(t, v != v, "RL(%v) is NaN", r) // NaN check
	}
}
