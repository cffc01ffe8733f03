// Package ringbuf implements a fixed-capacity ring of interleaved float32
// audio frames shared by exactly one producer and one consumer.
//
// Positions are monotonically increasing frame counters wrapped with a
// modulo on access. The producer owns the write cursor; the read cursor is
// advanced by the consumer on commit and by the producer when it has to make
// room (drop-oldest). Both advance it with compare-and-swap, so a consumer
// whose acquired frames were discarded underneath it finds out at commit
// time and throws its copy away. Samples are stored as float32 bits in
// atomic words, so a slot rewritten by the producer while the consumer is
// copying it is a discarded read, not a data race.
//
// Nothing in this package allocates after New.
package ringbuf

import (
	"errors"
	"math"
	"sync/atomic"
)

var (
	// ErrInvalidSize is returned by New for a non-positive capacity or channel count.
	ErrInvalidSize = errors.New("ringbuf: capacity and channels must be positive")
	// ErrTooLarge is returned by New when capacity*channels overflows an int.
	ErrTooLarge = errors.New("ringbuf: capacity too large")
)

// RingBuffer is a single-producer/single-consumer circular store of frames.
//
// Producer-side methods: AcquireWrite, CommitWrite, Write, DiscardOldest.
// Consumer-side methods: AcquireRead, CommitRead, ReadFull.
// Len, Free, Dropped and Overruns may be called from anywhere.
type RingBuffer struct {
	// Separate cache lines for the two cursors.
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	dropped  atomic.Uint64
	overruns atomic.Uint64

	buf      []atomic.Uint32
	channels int
	capacity uint64

	// producer-local
	writeAcquired uint64

	// consumer-local
	readStart    uint64
	readAcquired uint64
}

// New allocates a ring holding capacityFrames frames of channels samples each.
func New(capacityFrames, channels int) (*RingBuffer, error) {
	if capacityFrames <= 0 || channels <= 0 {
		return nil, ErrInvalidSize
	}
	if capacityFrames > math.MaxInt/channels {
		return nil, ErrTooLarge
	}
	return &RingBuffer{
		buf:      make([]atomic.Uint32, capacityFrames*channels),
		channels: channels,
		capacity: uint64(capacityFrames),
	}, nil
}

// Cap returns the capacity in frames.
func (rb *RingBuffer) Cap() int { return int(rb.capacity) }

// Channels returns the number of interleaved samples per frame.
func (rb *RingBuffer) Channels() int { return rb.channels }

// Len returns the number of unread frames, always within [0, Cap()].
func (rb *RingBuffer) Len() int {
	// read cursor first: it never passes the write cursor
	r := rb.readPos.Load()
	w := rb.writePos.Load()
	n := w - r
	if n > rb.capacity {
		n = rb.capacity
	}
	return int(n)
}

// Free returns the number of frames that can be written without dropping.
func (rb *RingBuffer) Free() int { return rb.Cap() - rb.Len() }

// Dropped returns the total number of frames discarded by drop-oldest.
func (rb *RingBuffer) Dropped() uint64 { return rb.dropped.Load() }

// Overruns returns how many consumer reads were invalidated because the
// producer discarded the frames while they were being read.
func (rb *RingBuffer) Overruns() uint64 { return rb.overruns.Load() }

// AcquireWrite returns the contiguous writable region starting at the write
// cursor, limited to maxFrames. A zero count means the ring is full.
func (rb *RingBuffer) AcquireWrite(maxFrames int) (Region, int) {
	rb.writeAcquired = 0
	if maxFrames <= 0 {
		return Region{}, 0
	}
	w := rb.writePos.Load()
	free := rb.capacity - (w - rb.readPos.Load())
	pos := w % rb.capacity
	n := min(uint64(maxFrames), free, rb.capacity-pos)
	if n == 0 {
		return Region{}, 0
	}
	rb.writeAcquired = n
	return rb.region(pos, n), int(n)
}

// CommitWrite publishes frames written into the region returned by the last
// AcquireWrite. Counts beyond what was acquired are clamped.
func (rb *RingBuffer) CommitWrite(frames int) {
	if frames <= 0 {
		rb.writeAcquired = 0
		return
	}
	n := min(uint64(frames), rb.writeAcquired)
	rb.writeAcquired = 0
	if n == 0 {
		return
	}
	rb.writePos.Store(rb.writePos.Load() + n)
}

// DiscardOldest advances the read cursor by up to frames unread frames and
// returns how many were discarded. Producer side only.
func (rb *RingBuffer) DiscardOldest(frames int) int {
	if frames <= 0 {
		return 0
	}
	w := rb.writePos.Load()
	for {
		r := rb.readPos.Load()
		n := min(uint64(frames), w-r)
		if n == 0 {
			return 0
		}
		if rb.readPos.CompareAndSwap(r, r+n) {
			rb.dropped.Add(n)
			return int(n)
		}
	}
}

// Write stores every whole frame in samples, discarding the oldest unread
// frames when there is not enough room. It never blocks and returns the
// number of frames discarded. Trailing samples that do not make up a whole
// frame are ignored.
func (rb *RingBuffer) Write(samples []float32) int {
	frames := len(samples) / rb.channels
	written, dropped := 0, 0
	for written < frames {
		region, n := rb.AcquireWrite(frames - written)
		if n == 0 {
			dropped += rb.DiscardOldest(frames - written)
			continue
		}
		region.CopyFrom(samples[written*rb.channels : (written+n)*rb.channels])
		rb.CommitWrite(n)
		written += n
	}
	return dropped
}

// AcquireRead returns the contiguous readable region starting at the read
// cursor, limited to maxFrames. A zero count means nothing is readable
// without wrapping.
func (rb *RingBuffer) AcquireRead(maxFrames int) (Region, int) {
	rb.readAcquired = 0
	if maxFrames <= 0 {
		return Region{}, 0
	}
	r := rb.readPos.Load()
	avail := min(rb.writePos.Load()-r, rb.capacity)
	pos := r % rb.capacity
	n := min(uint64(maxFrames), avail, rb.capacity-pos)
	if n == 0 {
		return Region{}, 0
	}
	rb.readStart = r
	rb.readAcquired = n
	return rb.region(pos, n), int(n)
}

// CommitRead releases frames consumed from the region returned by the last
// AcquireRead. It reports false when the producer discarded those frames in
// the meantime, in which case whatever was read from the region must not be
// used. A zero-length commit always succeeds.
func (rb *RingBuffer) CommitRead(frames int) bool {
	n := uint64(0)
	if frames > 0 {
		n = min(uint64(frames), rb.readAcquired)
	}
	rb.readAcquired = 0
	if n == 0 {
		return true
	}
	if rb.readPos.CompareAndSwap(rb.readStart, rb.readStart+n) {
		return true
	}
	rb.overruns.Add(1)
	return false
}

// ReadFull copies exactly len(dst)/Channels() frames into dst, following the
// wrap point, and consumes them. It returns false without consuming anything
// when fewer frames are available or when the frames were discarded by the
// producer during the copy.
func (rb *RingBuffer) ReadFull(dst []float32) bool {
	frames := uint64(len(dst) / rb.channels)
	if frames == 0 || frames > rb.capacity {
		return false
	}
	r := rb.readPos.Load()
	if rb.writePos.Load()-r < frames {
		return false
	}

	ch := uint64(rb.channels)
	pos := r % rb.capacity
	first := min(frames, rb.capacity-pos)
	rb.region(pos, first).CopyTo(dst[:first*ch])
	if first < frames {
		rb.region(0, frames-first).CopyTo(dst[first*ch : frames*ch])
	}

	if rb.readPos.CompareAndSwap(r, r+frames) {
		return true
	}
	rb.overruns.Add(1)
	return false
}

func (rb *RingBuffer) region(pos, frames uint64) Region {
	ch := uint64(rb.channels)
	return Region{slots: rb.buf[pos*ch : (pos+frames)*ch]}
}

// Reset discards all unread frames. Both sides must be quiescent.
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(rb.writePos.Load())
	rb.writeAcquired = 0
	rb.readAcquired = 0
}

// Region is a contiguous run of ring slots returned by AcquireWrite and
// AcquireRead. Len is in samples. A Region must not be used after the
// matching commit.
type Region struct {
	slots []atomic.Uint32
}

// Len returns the number of samples in the region.
func (r Region) Len() int { return len(r.slots) }

// At returns sample i.
func (r Region) At(i int) float32 { return math.Float32frombits(r.slots[i].Load()) }

// Set stores v as sample i.
func (r Region) Set(i int, v float32) { r.slots[i].Store(math.Float32bits(v)) }

// CopyFrom fills the region from src and returns the number of samples copied.
func (r Region) CopyFrom(src []float32) int {
	n := min(len(src), len(r.slots))
	for i, v := range src[:n] {
		r.slots[i].Store(math.Float32bits(v))
	}
	return n
}

// CopyTo copies the region into dst and returns the number of samples copied.
func (r Region) CopyTo(dst []float32) int {
	n := min(len(dst), len(r.slots))
	for i := range dst[:n] {
		dst[i] = math.Float32frombits(r.slots[i].Load())
	}
	return n
}
