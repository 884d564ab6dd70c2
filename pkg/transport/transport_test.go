package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllReduceSumAcrossRanks(t *testing.T) {
	w := NewWorld(4)
	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for rank := 0; rank < 4; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := w.For(r)
			results[r] = c.AllReduceSum([]float32{float32(r + 1)})
		}(rank)
	}
	wg.Wait()
	for _, res := range results {
		assert.Equal(t, []float32{1 + 2 + 3 + 4}, res)
	}
}

func TestBroadcastFromRoot(t *testing.T) {
	w := NewWorld(3)
	var wg sync.WaitGroup
	results := make([][]float32, 3)
	for rank := 0; rank < 3; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := w.For(r)
			var payload []float32
			if r == 1 {
				payload = []float32{9, 9}
			}
			results[r] = c.Broadcast(1, payload)
		}(rank)
	}
	wg.Wait()
	for _, res := range results {
		assert.Equal(t, []float32{9, 9}, res)
	}
}

func TestAllReduceSumComplex(t *testing.T) {
	w := NewWorld(2)
	var wg sync.WaitGroup
	results := make([][]complex64, 2)
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := w.For(r)
			results[r] = c.AllReduceSumComplex([]complex64{complex(float32(r), float32(-r))})
		}(rank)
	}
	wg.Wait()
	want := []complex64{complex(float32(1), float32(-1))}
	assert.Equal(t, want, results[0])
	assert.Equal(t, want, results[1])
}

func TestBroadcastIntFromRoot(t *testing.T) {
	w := NewWorld(2)
	var wg sync.WaitGroup
	results := make([]int, 2)
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := w.For(r)
			v := 0
			if r == 0 {
				v = 42
			}
			results[r] = c.BroadcastInt(0, v)
		}(rank)
	}
	wg.Wait()
	assert.Equal(t, []int{42, 42}, results)
}
