package pipeline

import (
	"sort"
	"testing"

	"github.com/ggcat-go/ggcat/internal/colors"
	"github.com/ggcat-go/ggcat/internal/kmer"
)

func TestBuildGraphSingleRead(t *testing.T) {
	nodes := make(map[kmer.Kmer]*node)
	buildGraph([]byte("ACGTACGT"), 4, false, nodes, 0)

	// 8 bases, k=4 -> 5 overlapping k-mers, each canonicalized.
	if len(nodes) == 0 {
		t.Fatal("expected at least one node")
	}
	for k, n := range nodes {
		if n.mult == 0 {
			t.Errorf("node %v has zero multiplicity", k)
		}
	}
}

func TestBuildGraphTracksColorMask(t *testing.T) {
	nodes := make(map[kmer.Kmer]*node)
	buildGraph([]byte("ACGTACGT"), 4, false, nodes, 0)
	buildGraph([]byte("ACGTACGT"), 4, false, nodes, 2)

	for k, n := range nodes {
		if n.colorMask != (1<<0 | 1<<2) {
			t.Errorf("node %v colorMask = %b, want %b", k, n.colorMask, 1<<0|1<<2)
		}
	}
}

func TestWalkPathLinearOverlap(t *testing.T) {
	nodes := make(map[kmer.Kmer]*node)
	// "AAACAAGAAT": a single unbranched path through k=4 k-mers.
	buildGraph([]byte("AAACAAGAAT"), 4, false, nodes, 1)

	visited := make(map[kmer.Kmer]bool)
	var start kmer.Kmer
	for k, n := range nodes {
		if degree(n.bwd) != 1 {
			start = k
			break
		}
	}

	seq, colorMask, _, _, _, _ := walkPath(nodes, visited, start, true, 4, false)
	if len(seq) == 0 {
		t.Fatal("expected a non-empty walk")
	}
	if colorMask&(1<<1) == 0 {
		t.Errorf("walk lost color mask: got %b, want bit 1 set", colorMask)
	}
}

func TestMaskToColorIDs(t *testing.T) {
	tests := []struct {
		mask uint64
		want []uint32
	}{
		{0, nil},
		{1, []uint32{0}},
		{0b1010, []uint32{1, 3}},
		{1 << 63, []uint32{63}},
	}
	for _, tt := range tests {
		got := maskToColorIDs(tt.mask)
		if len(got) != len(tt.want) {
			t.Errorf("maskToColorIDs(%b) = %v, want %v", tt.mask, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("maskToColorIDs(%b) = %v, want %v", tt.mask, got, tt.want)
				break
			}
		}
	}
}

func TestColorSerializerMemoizesBySet(t *testing.T) {
	s := colors.NewSerializer(nil)
	a := s.GetID(maskToColorIDs(0b101))
	b := s.GetID(maskToColorIDs(0b101))
	c := s.GetID(maskToColorIDs(0b110))
	if a != b {
		t.Errorf("identical color sets got different indexes: %d vs %d", a, b)
	}
	if a == c {
		t.Errorf("distinct color sets collided on the same index: %d", a)
	}
}

func TestCompressedReadsBucketDataRoundTrip(t *testing.T) {
	rec := CompressedReadsBucketData{
		Sequence:      packSeq([]byte("ACGTACGT")),
		BaseCount:     8,
		SecondBucket:  3,
		IsOutlierHint: true,
		ColorID:       5,
	}
	enc := rec.Encode(nil)
	got, rest, ok := DecodeCompressedReadsBucketData(enc)
	if !ok {
		t.Fatal("decode failed")
	}
	if len(rest) != 0 {
		t.Errorf("leftover bytes after decode: %d", len(rest))
	}
	if got.BaseCount != rec.BaseCount || got.SecondBucket != rec.SecondBucket ||
		got.IsOutlierHint != rec.IsOutlierHint || got.ColorID != rec.ColorID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rec)
	}
	if string(got.Sequence) != string(rec.Sequence) {
		t.Errorf("sequence mismatch: got %v, want %v", got.Sequence, rec.Sequence)
	}
}

func TestPartialUnitigRoundTrip(t *testing.T) {
	pu := PartialUnitig{Entry: 42, Sequence: []byte("ACGTACGT"), ColorIdx: 7}
	enc := pu.Encode(nil)
	got, rest, ok := DecodePartialUnitig(enc)
	if !ok {
		t.Fatal("decode failed")
	}
	if len(rest) != 0 {
		t.Errorf("leftover bytes after decode: %d", len(rest))
	}
	if got.Entry != pu.Entry || got.ColorIdx != pu.ColorIdx || string(got.Sequence) != string(pu.Sequence) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, pu)
	}
}

func TestDegreeAndSingleBase(t *testing.T) {
	if degree(0) != 0 {
		t.Errorf("degree(0) = %d, want 0", degree(0))
	}
	if degree(0b1010) != 2 {
		t.Errorf("degree(0b1010) = %d, want 2", degree(0b1010))
	}
	if b, ok := singleBase(1 << 2); !ok || b != 2 {
		t.Errorf("singleBase(1<<2) = (%v, %v), want (2, true)", b, ok)
	}
	if _, ok := singleBase(0b1010); ok {
		t.Error("singleBase of a two-bit mask should report false")
	}
}

func TestBucketOfHashDeterministic(t *testing.T) {
	hashes := []uint64{1, 2, 100, 1 << 40}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	for _, h := range hashes {
		b1 := bucketOfHash(h, 16)
		b2 := bucketOfHash(h, 16)
		if b1 != b2 || b1 < 0 || b1 >= 16 {
			t.Errorf("bucketOfHash(%d, 16) not stable/in-range: %d", h, b1)
		}
	}
}
