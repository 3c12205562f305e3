package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/ggcat-go/ggcat/internal/bucket"
)

func writeLink(t *testing.T, links *bucket.MultiThreadBuckets, id int, l UnitigLink) {
	t.Helper()
	d := bucket.NewDispatcher(links, true)
	if err := d.Push(id, UnitigLinkCodec.Encode(nil, l, UnitigLinkCodec.Zero())); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func writeSeq(t *testing.T, seqs *bucket.MultiThreadBuckets, id int, pu PartialUnitig) {
	t.Helper()
	d := bucket.NewDispatcher(seqs, true)
	if err := d.Push(id, pu.Encode(nil)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func countChains(t *testing.T, chains *bucket.MultiThreadBuckets) []PartialUnitig {
	t.Helper()
	var out []PartialUnitig
	for id := 0; id < chains.NumBuckets(); id++ {
		m, err := loadBucketUnitigs(chains, id)
		if err != nil {
			t.Fatalf("loadBucketUnitigs(chains, %d): %v", id, err)
		}
		for _, pu := range m {
			out = append(out, pu)
		}
	}
	return out
}

func countConsumed(t *testing.T, resultMap *bucket.MultiThreadBuckets) int {
	t.Helper()
	var total int
	for id := 0; id < resultMap.NumBuckets(); id++ {
		s, err := loadConsumedSet(resultMap, id)
		if err != nil {
			t.Fatalf("loadConsumedSet(%d): %v", id, err)
		}
		total += len(s)
	}
	return total
}

// TestRunCompactionFusesTwoOpenEnds places two opposite-direction,
// already end-sealed links at the same (bucket, entry) address — the
// shape a node with exactly two distinct neighbors produces — and
// checks the fixed-point loop walks both routing hops, fuses them, and
// finishes with one three-piece stitched chain plus a result-map entry
// for every constituent.
func TestRunCompactionFusesTwoOpenEnds(t *testing.T) {
	dir := t.TempDir()
	links, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "links"), "links", 4)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}
	seqs, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "seqs"), "seqs", 4)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}

	// Node (0,0) has two neighbors: forward to (2,0), backward to
	// (3,0), both of which are themselves already sealed leaves.
	writeLink(t, links, 0, UnitigLink{
		Entry:   0,
		Flags:   UnitigFlags{IsForward: true, EndSealed: true},
		Entries: []UnitigIndex{{Bucket: 2, Index: 0}},
	})
	writeLink(t, links, 0, UnitigLink{
		Entry:   0,
		Flags:   UnitigFlags{IsForward: false, BeginSealed: true, EndSealed: true},
		Entries: []UnitigIndex{{Bucket: 3, Index: 0}},
	})

	writeSeq(t, seqs, 0, PartialUnitig{Entry: 0, Sequence: []byte("AAAAAAA")})
	writeSeq(t, seqs, 2, PartialUnitig{Entry: 0, Sequence: []byte("GGGGGGG")})
	writeSeq(t, seqs, 3, PartialUnitig{Entry: 0, Sequence: []byte("TTTT")})

	if err := links.Close(); err != nil {
		t.Fatalf("links.Close: %v", err)
	}
	if err := seqs.Close(); err != nil {
		t.Fatalf("seqs.Close: %v", err)
	}

	cfg := CompactionConfig{K: 4, Seed: 7}
	chains, resultMap, err := RunCompaction(cfg, links, seqs, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}

	stitched := countChains(t, chains)
	if len(stitched) != 1 {
		t.Fatalf("got %d finished chains, want 1", len(stitched))
	}
	if want := "TTTTAAAAGGGG"; string(stitched[0].Sequence) != want {
		t.Errorf("stitched sequence = %q, want %q", stitched[0].Sequence, want)
	}

	if consumed := countConsumed(t, resultMap); consumed != 3 {
		t.Errorf("result-map names %d consumed entries, want 3 (one per constituent)", consumed)
	}
}

// TestRunCompactionFinalizesCircularChain checks a record whose own
// chain already loops back to its own address finalizes immediately
// as a closed unitig, without waiting for another round.
func TestRunCompactionFinalizesCircularChain(t *testing.T) {
	dir := t.TempDir()
	links, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "links"), "links", 1)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}
	seqs, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "seqs"), "seqs", 1)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}

	writeLink(t, links, 0, UnitigLink{
		Entry:   0,
		Flags:   UnitigFlags{IsForward: true},
		Entries: []UnitigIndex{{Bucket: 0, Index: 0}},
	})
	writeSeq(t, seqs, 0, PartialUnitig{Entry: 0, Sequence: []byte("ACGTACGT")})

	if err := links.Close(); err != nil {
		t.Fatalf("links.Close: %v", err)
	}
	if err := seqs.Close(); err != nil {
		t.Fatalf("seqs.Close: %v", err)
	}

	cfg := CompactionConfig{K: 4}
	chains, resultMap, err := RunCompaction(cfg, links, seqs, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}

	stitched := countChains(t, chains)
	if len(stitched) != 1 {
		t.Fatalf("got %d finished chains, want 1", len(stitched))
	}
	if want := "ACGTACGT"; string(stitched[0].Sequence) != want {
		t.Errorf("stitched sequence = %q, want %q", stitched[0].Sequence, want)
	}
	if consumed := countConsumed(t, resultMap); consumed != 1 {
		t.Errorf("result-map names %d consumed entries, want 1", consumed)
	}
}

// TestRunCompactionDropsBranchingGroup checks three non-empty links
// sharing the same address — a branch point, the shape hash-sorting
// already guarantees it never produces but compaction must still
// tolerate defensively — are dropped rather than fused or finalized.
func TestRunCompactionDropsBranchingGroup(t *testing.T) {
	dir := t.TempDir()
	links, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "links"), "links", 3)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}
	seqs, err := bucket.NewMultiThreadBuckets(filepath.Join(dir, "seqs"), "seqs", 3)
	if err != nil {
		t.Fatalf("NewMultiThreadBuckets: %v", err)
	}

	for _, nb := range []UnitigIndex{{Bucket: 1, Index: 0}, {Bucket: 2, Index: 0}, {Bucket: 2, Index: 1}} {
		writeLink(t, links, 0, UnitigLink{
			Entry:   0,
			Flags:   UnitigFlags{IsForward: true, EndSealed: true},
			Entries: []UnitigIndex{nb},
		})
	}
	writeSeq(t, seqs, 0, PartialUnitig{Entry: 0, Sequence: []byte("ACGTACGT")})

	if err := links.Close(); err != nil {
		t.Fatalf("links.Close: %v", err)
	}
	if err := seqs.Close(); err != nil {
		t.Fatalf("seqs.Close: %v", err)
	}

	cfg := CompactionConfig{K: 4}
	chains, resultMap, err := RunCompaction(cfg, links, seqs, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}

	if stitched := countChains(t, chains); len(stitched) != 0 {
		t.Errorf("got %d finished chains from a branch point, want 0", len(stitched))
	}
	if consumed := countConsumed(t, resultMap); consumed != 0 {
		t.Errorf("result-map names %d consumed entries, want 0", consumed)
	}
}
