// Package simd provides bitmap scanning over raw read bytes: finding
// every ambiguity code, record-header marker, and newline in one pass,
// the building block minimizer-bucketing's scanner uses to split a
// mapped input file into per-worker chunks and N-free records.
//
// An earlier AMD64 build of this package declared AVX2/AVX512/SSE4.2
// entry points behind //go:noescape with no matching assembly file, so
// that path could never have linked; this package keeps only the
// portable implementation that was always the one actually running.
package simd

// ScanBases walks data once and sets, for every byte position, the
// corresponding bit in whichever bitmap applies: ambig for 'N'/'n',
// headers for '>'/'@'/'+' (FASTA/FASTQ record and quality markers), and
// newlines for '\n'. Each bitmap must be pre-allocated with length >=
// (len(data)+63)/64.
func ScanBases(data []byte, ambig, headers, newlines []uint64) {
	for i, b := range data {
		wordIdx := i / 64
		bitPos := uint(i % 64)
		switch b {
		case 'N', 'n':
			ambig[wordIdx] |= 1 << bitPos
		case '>', '@', '+':
			headers[wordIdx] |= 1 << bitPos
		case '\n':
			newlines[wordIdx] |= 1 << bitPos
		}
	}
}

// CountBase returns how many times target occurs in data, the
// lightweight counterpart to ScanBases for callers that only need a
// tally (e.g. estimating ambiguity-code density before allocating
// per-record buffers).
func CountBase(data []byte, target byte) uint64 {
	var n uint64
	for _, b := range data {
		if b == target {
			n++
		}
	}
	return n
}
