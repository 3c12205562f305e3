package pipeline

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"
	"runtime"
	"sync"

	"github.com/ggcat-go/ggcat/internal/common"
	"github.com/ggcat-go/ggcat/internal/simd"
)

// ReadScanner memory-maps one input file and walks it in parallel,
// chunk boundaries placed only at FASTA record starts so no worker ever
// splits a sequence body. The FASTA/FASTQ grammar itself is treated as
// an external concern (only '>' header lines and N-splitting matter
// here); this is deliberately a minimal reader, not a validating parser.
type ReadScanner struct {
	data    []byte
	cleanup func()
	workers int
}

func NewReadScanner(path string, workers int) (*ReadScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := common.MmapFile(f)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &ReadScanner{
		data:    data,
		cleanup: func() { _ = common.MunmapFile(data) },
		workers: workers,
	}, nil
}

func (s *ReadScanner) Close() { s.cleanup() }

// NFreeRecord is one maximal N-free run of bases from a read, ready to
// feed minimizer-bucketing.
type NFreeRecord struct {
	Bases []byte
}

// Scan splits the mapped file into s.workers chunks at safe FASTA
// boundaries (never inside a sequence body), then runs handler over
// every N-free record found in each chunk concurrently. handler must be
// safe to call concurrently from different workerIDs; it is never
// called concurrently for the same workerID.
func (s *ReadScanner) Scan(handler func(workerID int, rec NFreeRecord)) error {
	n := len(s.data)
	if n == 0 {
		return nil
	}

	boundaries := make([]int, s.workers+1)
	boundaries[0] = 0
	boundaries[s.workers] = n
	chunkSize := n / s.workers
	for i := 1; i < s.workers; i++ {
		hint := i * chunkSize
		if hint < n {
			boundaries[i] = findRecordBoundary(s.data, hint)
		} else {
			boundaries[i] = n
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end, workerID int) {
			defer wg.Done()
			scanChunk(s.data[start:end], workerID, handler)
		}(start, end, i)
	}
	wg.Wait()
	return nil
}

// findRecordBoundary walks forward from hint to the next line that
// starts a FASTA record ('>'), or to EOF. Splitting only ever happens
// at such a boundary so a multi-line sequence body is never divided
// between two workers.
func findRecordBoundary(data []byte, hint int) int {
	pos := hint
	for pos < len(data) {
		nl := bytes.IndexByte(data[pos:], '\n')
		if nl == -1 {
			return len(data)
		}
		next := pos + nl + 1
		if next >= len(data) || data[next] == '>' {
			return next
		}
		pos = next
	}
	return len(data)
}

// scanChunk walks one chunk's FASTA records, splitting each sequence on
// runs of 'N'/'n' and calling handler once per maximal N-free run of
// length > 0. A FASTQ '+' separator line ends the sequence and the
// quality line after it is skipped. Each line is first tallied with simd.CountBase: a
// zero count skips the bitmap scan entirely and the whole line is
// appended as-is, which is the common case for real read data.
func scanChunk(data []byte, workerID int, handler func(workerID int, rec NFreeRecord)) {
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			handler(workerID, NFreeRecord{Bases: cur})
			cur = nil
		}
	}

	skipQuality := false
	lines := bytes.Split(data, []byte{'\n'})
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if skipQuality {
			skipQuality = false
			continue
		}
		if line[0] == '+' {
			flush()
			skipQuality = true
			continue
		}
		if line[0] == '>' || line[0] == '@' {
			flush()
			continue
		}
		if simd.CountBase(line, 'N')+simd.CountBase(line, 'n') == 0 {
			cur = append(cur, line...)
			continue
		}
		start := 0
		for _, pos := range ambiguityPositions(line) {
			if pos > start {
				cur = append(cur, line[start:pos]...)
			}
			flush()
			start = pos + 1
		}
		if start < len(line) {
			cur = append(cur, line[start:]...)
		}
	}
	flush()
}

// ambiguityPositions returns the sorted positions of every 'N'/'n' in
// line, using simd.ScanBases's ambiguity bitmap rather than a manual
// byte-by-byte walk.
func ambiguityPositions(line []byte) []int {
	bitmapLen := (len(line) + 63) / 64
	ambig := make([]uint64, bitmapLen)
	headers := make([]uint64, bitmapLen)
	newlines := make([]uint64, bitmapLen)
	simd.ScanBases(line, ambig, headers, newlines)

	var positions []int
	for wordIdx, word := range ambig {
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			pos := wordIdx*64 + tz
			if pos < len(line) {
				positions = append(positions, pos)
			}
			word &^= 1 << tz
		}
	}
	return positions
}
