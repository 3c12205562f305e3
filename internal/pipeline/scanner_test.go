package pipeline

import "testing"

func TestScanChunkSplitsOnAmbiguityCodes(t *testing.T) {
	var got []string
	scanChunk([]byte(">r1\nACGTNNACGT\n"), 0, func(_ int, rec NFreeRecord) {
		got = append(got, string(rec.Bases))
	})
	want := []string{"ACGT", "ACGT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanChunkNoAmbiguityFastPath(t *testing.T) {
	var got []string
	scanChunk([]byte(">r1\nACGTACGT\n"), 0, func(_ int, rec NFreeRecord) {
		got = append(got, string(rec.Bases))
	})
	if len(got) != 1 || got[0] != "ACGTACGT" {
		t.Fatalf("got %v, want [ACGTACGT]", got)
	}
}

func TestScanChunkFastqRecord(t *testing.T) {
	var got []string
	scanChunk([]byte("@r1\nACGT\n+\nIIII\n"), 0, func(_ int, rec NFreeRecord) {
		got = append(got, string(rec.Bases))
	})
	if len(got) != 1 || got[0] != "ACGT" {
		t.Fatalf("got %v, want [ACGT]", got)
	}
}

func TestFindRecordBoundarySkipsSequenceBody(t *testing.T) {
	data := []byte(">r1\nACGTACGT\nACGT\n>r2\nACGT\n")
	// hint lands inside r1's sequence body; the boundary must resolve to
	// the start of the next '>' line, never mid-sequence.
	b := findRecordBoundary(data, 6)
	if b >= len(data) || data[b] != '>' {
		t.Fatalf("findRecordBoundary landed at %d (%q), want start of '>r2'", b, data[b:])
	}
}

func TestAmbiguityPositions(t *testing.T) {
	positions := ambiguityPositions([]byte("ACNGTn"))
	want := []int{2, 5}
	if len(positions) != len(want) {
		t.Fatalf("got %v, want %v", positions, want)
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Errorf("position %d = %d, want %d", i, positions[i], want[i])
		}
	}
}
