package pipeline

import "testing"

func TestStitchChainTrimsOverlap(t *testing.T) {
	seqs := map[UnitigIndex]PartialUnitig{
		{Bucket: 0, Index: 0}: {Entry: 0, Sequence: []byte("ACGTACG")},
		{Bucket: 0, Index: 1}: {Entry: 1, Sequence: []byte("ACGTTTT")},
	}
	chain := []UnitigIndex{{Bucket: 0, Index: 0}, {Bucket: 0, Index: 1}}

	got, err := stitchChain(4, chain, seqs)
	if err != nil {
		t.Fatalf("stitchChain: %v", err)
	}
	want := "ACGTACGTTTT"
	if string(got) != want {
		t.Fatalf("stitchChain = %q, want %q", got, want)
	}
}

func TestStitchChainSingleEntry(t *testing.T) {
	seqs := map[UnitigIndex]PartialUnitig{
		{Bucket: 1, Index: 0}: {Entry: 0, Sequence: []byte("ACGT")},
	}
	chain := []UnitigIndex{{Bucket: 1, Index: 0}}
	got, err := stitchChain(4, chain, seqs)
	if err != nil {
		t.Fatalf("stitchChain: %v", err)
	}
	if string(got) != "ACGT" {
		t.Fatalf("stitchChain = %q, want ACGT", got)
	}
}

func TestStitchChainMissingEntryErrors(t *testing.T) {
	seqs := map[UnitigIndex]PartialUnitig{}
	chain := []UnitigIndex{{Bucket: 0, Index: 0}}
	if _, err := stitchChain(4, chain, seqs); err == nil {
		t.Fatal("expected an error for a chain referencing a missing partial unitig")
	}
}

func TestStitchChainEmptyErrors(t *testing.T) {
	seqs := map[UnitigIndex]PartialUnitig{}
	if _, err := stitchChain(4, nil, seqs); err == nil {
		t.Fatal("expected an error for an empty chain")
	}
}
