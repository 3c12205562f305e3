// Package minimizer implements the rolling-minimizer window that assigns
// each k-mer to a bucket, plus the super-k-mer boundary detection that
// rides on top of it.
//
// The rolling hash functions only need to satisfy RollingHasher's
// contract (a rolling k-mer hasher producing a u64); the concrete
// hashers here are minimal reference implementations rather than a
// claim of nt-hash-grade statistical quality.
package minimizer

import "github.com/ggcat-go/ggcat/internal/kmer"

// HashKind selects which RollingHasher a run dispatches to, matching the
// CLI's --hash-type flag.
type HashKind int

const (
	HashAuto HashKind = iota
	HashSeqHash
	HashRabinKarp32
	HashRabinKarp64
	HashRabinKarp128
)

func ParseHashKind(s string) (HashKind, bool) {
	switch s {
	case "", "Auto":
		return HashAuto, true
	case "SeqHash":
		return HashSeqHash, true
	case "RabinKarp32":
		return HashRabinKarp32, true
	case "RabinKarp64":
		return HashRabinKarp64, true
	case "RabinKarp128":
		return HashRabinKarp128, true
	default:
		return 0, false
	}
}

// RollingHasher produces a 64-bit rolling hash over a fixed-width window
// of 2-bit bases, updated incrementally as the window slides one base at
// a time (Roll) rather than recomputed from scratch.
type RollingHasher interface {
	// Reset seeds the hasher with all m bases of a new window (width m);
	// the caller then calls Roll once per subsequent base.
	Reset(window []kmer.Base)
	// Roll slides the window forward by one base, dropping `out` and
	// appending `in`, and returns the new hash.
	Roll(out, in kmer.Base) uint64
	// Value returns the hash of the current window without rolling.
	Value() uint64
}

// Resolve picks a concrete hasher of window width m for the given kind.
// Auto always resolves to SeqHash; k plays no part in the choice and
// there is no wider-than-64-bit hasher.
func Resolve(kind HashKind, m int) RollingHasher {
	switch kind {
	case HashRabinKarp32:
		return newRabinKarp(m, rkPrime32)
	case HashRabinKarp64:
		return newRabinKarp(m, rkPrime64)
	case HashRabinKarp128:
		return newRabinKarp(m, rkPrime128)
	case HashSeqHash:
		return newSeqHash(m)
	default: // HashAuto
		return newSeqHash(m)
	}
}

// rabinKarp is a polynomial rolling hash: hash = sum(base[i] * p^i) mod 2^64,
// which rolls in O(1) via one multiply-subtract-add per base.
type rabinKarp struct {
	m        int
	prime    uint64
	highPow  uint64 // prime^(m-1), used to remove the outgoing base
	hash     uint64
}

const (
	rkPrime32  = 0x9E3779B1
	rkPrime64  = 0x9E3779B97F4A7C15
	rkPrime128 = 0xC2B2AE3D27D4EB4F
)

func newRabinKarp(m int, prime uint64) *rabinKarp {
	h := &rabinKarp{m: m, prime: prime, highPow: 1}
	for i := 0; i < m-1; i++ {
		h.highPow *= prime
	}
	return h
}

func (h *rabinKarp) Reset(window []kmer.Base) {
	h.hash = 0
	for _, b := range window {
		h.hash = h.hash*h.prime + uint64(b) + 1
	}
}

func (h *rabinKarp) Roll(out, in kmer.Base) uint64 {
	h.hash -= (uint64(out) + 1) * h.highPow
	h.hash = h.hash*h.prime + uint64(in) + 1
	return h.hash
}

func (h *rabinKarp) Value() uint64 { return h.hash }

// seqHash packs the m-mer into 2 bits/base (as kmer.Kmer does) and runs
// it through a fixed-point multiplicative mix, giving a hash with better
// avalanche behavior than raw polynomial rolling at the cost of needing
// the packed window kept alongside the mixed value.
type seqHash struct {
	m      int
	packed kmer.Kmer
}

func newSeqHash(m int) *seqHash { return &seqHash{m: m} }

func (h *seqHash) Reset(window []kmer.Base) {
	h.packed = kmer.Kmer{}
	for _, b := range window {
		h.packed = h.packed.Push(b, h.m)
	}
}

func (h *seqHash) Roll(_, in kmer.Base) uint64 {
	h.packed = h.packed.Push(in, h.m)
	return h.Value()
}

func (h *seqHash) Value() uint64 {
	x := h.packed.Lo ^ (h.packed.Hi * 0x9E3779B97F4A7C15)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
