package sink

import "sync/atomic"

// Ring is a lock-free single-producer, single-consumer queue of float32
// samples.
//
// The producer is the data callback (Write, Free); the consumer is the
// writer goroutine (Read, Available). Positions only grow and are masked
// into a power-of-two buffer. The producer publishes writePos after copying
// data, so a consumer that loads writePos sees the samples behind it.
type Ring struct {
	writePos atomic.Uint64
	_pad1    [56]byte
	readPos  atomic.Uint64
	_pad2    [56]byte

	buf  []float32
	mask uint64
}

// NewRing returns a ring holding at least minSamples samples.
func NewRing(minSamples int) *Ring {
	size := 1
	for size < minSamples {
		size <<= 1
	}
	return &Ring{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Write queues up to len(p) samples and returns how many it queued.
func (r *Ring) Write(p []float32) int {
	w := r.writePos.Load()
	rd := r.readPos.Load()

	free := uint64(len(r.buf)) - (w - rd)
	n := min(uint64(len(p)), free)
	if n == 0 {
		return 0
	}

	pos := w & r.mask
	if first := uint64(len(r.buf)) - pos; first >= n {
		copy(r.buf[pos:pos+n], p[:n])
	} else {
		copy(r.buf[pos:], p[:first])
		copy(r.buf[:n-first], p[first:n])
	}

	r.writePos.Store(w + n)
	return int(n)
}

// Read dequeues up to len(p) samples and returns how many it read.
func (r *Ring) Read(p []float32) int {
	rd := r.readPos.Load()
	w := r.writePos.Load()

	n := min(uint64(len(p)), w-rd)
	if n == 0 {
		return 0
	}

	pos := rd & r.mask
	if first := uint64(len(r.buf)) - pos; first >= n {
		copy(p[:n], r.buf[pos:pos+n])
	} else {
		copy(p[:first], r.buf[pos:])
		copy(p[first:n], r.buf[:n-first])
	}

	r.readPos.Store(rd + n)
	return int(n)
}

// Available returns the number of queued samples.
func (r *Ring) Available() int {
	return int(r.writePos.Load() - r.readPos.Load())
}

// Free returns the room left in samples.
func (r *Ring) Free() int {
	return len(r.buf) - r.Available()
}
