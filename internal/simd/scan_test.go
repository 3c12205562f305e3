package simd

import (
	"math/bits"
	"testing"
)

func TestScanBases(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantAmbig    []int
		wantHeaders  []int
		wantNewlines []int
	}{
		{
			name:         "plain record",
			input:        ">r1\nACGT\n",
			wantAmbig:    nil,
			wantHeaders:  []int{0},
			wantNewlines: []int{3, 8},
		},
		{
			name:         "ambiguity code splits sequence",
			input:        "ACGTNNACGT\n",
			wantAmbig:    []int{4, 5},
			wantHeaders:  nil,
			wantNewlines: []int{10},
		},
		{
			name:         "fastq quality marker",
			input:        "@r1\nACGT\n+\nIIII\n",
			wantAmbig:    nil,
			wantHeaders:  []int{0, 9},
			wantNewlines: []int{3, 8, 10, 15},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []byte(tt.input)
			bitmapLen := (len(input) + 63) / 64
			ambig := make([]uint64, bitmapLen)
			headers := make([]uint64, bitmapLen)
			newlines := make([]uint64, bitmapLen)

			ScanBases(input, ambig, headers, newlines)

			if got := bitmapToPositions(ambig, len(input)); !equalIntSlices(got, tt.wantAmbig) {
				t.Errorf("ambig: got %v, want %v", got, tt.wantAmbig)
			}
			if got := bitmapToPositions(headers, len(input)); !equalIntSlices(got, tt.wantHeaders) {
				t.Errorf("headers: got %v, want %v", got, tt.wantHeaders)
			}
			if got := bitmapToPositions(newlines, len(input)); !equalIntSlices(got, tt.wantNewlines) {
				t.Errorf("newlines: got %v, want %v", got, tt.wantNewlines)
			}
		})
	}
}

func TestCountBase(t *testing.T) {
	input := []byte("ACGTNNACGTNNNN")
	if got := CountBase(input, 'N'); got != 6 {
		t.Errorf("CountBase(N) = %d, want 6", got)
	}
	if got := CountBase(input, 'Z'); got != 0 {
		t.Errorf("CountBase(Z) = %d, want 0", got)
	}
}

func BenchmarkScanBases1KB(b *testing.B) {
	input := make([]byte, 1024)
	for i := range input {
		input[i] = 'A'
	}
	for i := 0; i < len(input); i += 10 {
		input[i] = 'N'
	}

	bitmapLen := (len(input) + 63) / 64
	ambig := make([]uint64, bitmapLen)
	headers := make([]uint64, bitmapLen)
	newlines := make([]uint64, bitmapLen)

	b.ResetTimer()
	b.SetBytes(int64(len(input)))
	for i := 0; i < b.N; i++ {
		for j := range ambig {
			ambig[j], headers[j], newlines[j] = 0, 0, 0
		}
		ScanBases(input, ambig, headers, newlines)
	}
}

// bitmapToPositions converts a bitmap to a list of set bit positions.
func bitmapToPositions(bitmap []uint64, maxLen int) []int {
	var positions []int
	for wordIdx, word := range bitmap {
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			pos := wordIdx*64 + tz
			if pos < maxLen {
				positions = append(positions, pos)
			}
			word &^= 1 << tz
		}
	}
	return positions
}

func equalIntSlices(a, b []int) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
