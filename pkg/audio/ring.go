package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// Ring is a fixed-capacity circular store of mono float32 samples. It is the
// only structure touched by the capture path: a single writer appends via
// Write, which never blocks and never allocates, while any number of readers
// take consistent snapshots of logical sample ranges.
//
// Samples are addressed by a monotonically increasing logical index; only the
// most recent Capacity() samples are retrievable. Requests reaching below the
// retained window are clamped, not failed, since readers are expected to
// request conservatively and a partial window is still usable for inference.
type Ring struct {
	// Sample bits are stored atomically so a reader overlapping the writer
	// during a wrap-around never observes a torn value; logical consistency
	// of a whole snapshot is enforced separately via the total counter.
	buf   []atomic.Uint32
	total atomic.Int64 // samples written since creation
}

// NewRing creates a ring buffer holding the most recent capacity samples.
// Capacity must be positive.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic("audio: ring capacity must be positive")
	}
	return &Ring{buf: make([]atomic.Uint32, capacity)}
}

// NewRingDuration creates a ring buffer sized to hold d of audio at rate.
func NewRingDuration(d time.Duration, rate int) *Ring {
	return NewRing(int(SampleCount(d, rate)))
}

// Capacity returns the fixed number of samples the ring retains.
func (r *Ring) Capacity() int { return len(r.buf) }

// TotalWritten returns the total number of samples written since creation.
// The retained window is [TotalWritten()-Capacity(), TotalWritten()).
func (r *Ring) TotalWritten() int64 { return r.total.Load() }

// Write appends samples, overwriting the oldest data once capacity is
// exceeded. It must only be called from a single goroutine (the capture
// path). Write never blocks and performs no allocation.
func (r *Ring) Write(samples []float32) {
	n := int64(len(samples))
	if n == 0 {
		return
	}
	total := r.total.Load()
	c := int64(len(r.buf))
	start := total
	if n > c {
		// Only the newest capacity samples survive this call; skip the
		// rest so the logical index of every stored sample stays exact.
		samples = samples[n-c:]
		start = total + (n - c)
	}
	pos := int(start % c)
	for _, s := range samples {
		r.buf[pos].Store(math.Float32bits(s))
		pos++
		if pos == len(r.buf) {
			pos = 0
		}
	}
	r.total.Store(total + n)
}

// Snapshot returns a copy of the samples in the logical half-open range
// [from, to). The range is clamped to the retained window: from is raised to
// the oldest retained index, to is lowered to the total written. A nil slice
// is returned when the clamped range is empty.
//
// Snapshot is safe to call concurrently with Write. The copy is validated
// against the writer's progress afterwards; if the writer lapped the copied
// region mid-read the snapshot retries with the advanced window, so the
// result is always data that was retained for the full duration of the copy.
func (r *Ring) Snapshot(from, to int64) []float32 {
	c := int64(len(r.buf))
	for {
		total := r.total.Load()
		lo, hi := from, to
		if hi > total {
			hi = total
		}
		if oldest := total - c; lo < oldest {
			lo = oldest
		}
		if lo < 0 {
			lo = 0
		}
		if lo >= hi {
			return nil
		}
		out := make([]float32, hi-lo)
		pos := int(lo % c)
		for i := range out {
			out[i] = math.Float32frombits(r.buf[pos].Load())
			pos++
			if pos == len(r.buf) {
				pos = 0
			}
		}
		// Valid only if the writer has not reclaimed index lo while we
		// were copying. Each retry re-clamps lo upward, so the loop
		// terminates even against a fast writer.
		if r.total.Load()-c <= lo {
			return out
		}
	}
}

// ReadLast returns the most recent d of audio at the given sample rate,
// clamped to the available data when the session is younger than d.
func (r *Ring) ReadLast(d time.Duration, rate int) []float32 {
	n := SampleCount(d, rate)
	if n <= 0 {
		return nil
	}
	total := r.total.Load()
	return r.Snapshot(total-n, total)
}
