package sink

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRing(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{1, 1},
		{3, 4},
		{100, 128},
		{1024, 1024},
		{1025, 2048},
	}
	for _, tt := range tests {
		r := NewRing(tt.input)
		assert.Equal(t, tt.expected, r.Cap(), "NewRing(%d)", tt.input)
		assert.Equal(t, uint64(tt.expected-1), r.mask)
	}
}

func TestRingWriteRead(t *testing.T) {
	r := NewRing(16)
	data := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, 3, r.Write(data))
	assert.Equal(t, 3, r.Available())
	assert.Equal(t, 13, r.Free())

	out := make([]float32, 10)
	n := r.Read(out)
	assert.Equal(t, 3, n)
	assert.Equal(t, data, out[:n])
	assert.Equal(t, 0, r.Read(out), "empty ring")
}

func TestRingPartialWrite(t *testing.T) {
	r := NewRing(8)
	data := make([]float32, 12)
	for i := range data {
		data[i] = float32(i)
	}
	assert.Equal(t, 8, r.Write(data))
	assert.Equal(t, 0, r.Write([]float32{1}), "full ring")

	out := make([]float32, 8)
	require.Equal(t, 8, r.Read(out))
	assert.Equal(t, data[:8], out)
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(8)
	r.Write(make([]float32, 6))
	r.Read(make([]float32, 6))

	data := []float32{10, 20, 30, 40, 50}
	require.Equal(t, 5, r.Write(data))
	out := make([]float32, 5)
	require.Equal(t, 5, r.Read(out))
	assert.Equal(t, data, out)
}

func TestRingMultipleWrapArounds(t *testing.T) {
	r := NewRing(8)
	for cycle := 0; cycle < 1000; cycle++ {
		data := []float32{float32(cycle), float32(cycle + 1), float32(cycle + 2)}
		require.Equal(t, 3, r.Write(data))
		out := make([]float32, 3)
		require.Equal(t, 3, r.Read(out))
		require.Equal(t, data, out, "cycle %d", cycle)
	}
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	r := NewRing(1024)

	const iterations = 10000
	const chunk = 32

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		data := make([]float32, chunk)
		for i := 0; i < iterations; i++ {
			for j := range data {
				data[j] = float32(i)
			}
			written := 0
			for written < chunk {
				written += r.Write(data[written:])
				if written < chunk {
					time.Sleep(time.Microsecond)
				}
			}
		}
	}()

	corrupt := make(chan int, 1)
	go func() {
		defer wg.Done()
		out := make([]float32, chunk)
		for i := 0; i < iterations; i++ {
			read := 0
			for read < chunk {
				read += r.Read(out[read:])
				if read < chunk {
					time.Sleep(time.Microsecond)
				}
			}
			for _, v := range out {
				if v != float32(i) {
					corrupt <- i
					return
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case i := <-corrupt:
		t.Fatalf("data corruption at iteration %d", i)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}
}
