package kmer

import "testing"

func encodeSeq(t *testing.T, s string) Kmer {
	t.Helper()
	var k Kmer
	for i := 0; i < len(s); i++ {
		b, ok := EncodeBase(s[i])
		if !ok {
			t.Fatalf("bad base %q", s[i])
		}
		k = k.Push(b, len(s))
	}
	return k
}

func TestPushAndString(t *testing.T) {
	seq := "ACGTACGTAC"
	k := encodeSeq(t, seq)
	if got := k.String(len(seq)); got != seq {
		t.Fatalf("String() = %q, want %q", got, seq)
	}
}

func TestReverseComplement(t *testing.T) {
	k := encodeSeq(t, "ACGT")
	rc := k.ReverseComplement(4)
	if got := rc.String(4); got != "ACGT" {
		t.Fatalf("ACGT reverse complement = %q, want ACGT (self-complementary)", got)
	}

	k2 := encodeSeq(t, "AAAA")
	rc2 := k2.ReverseComplement(4)
	if got := rc2.String(4); got != "TTTT" {
		t.Fatalf("AAAA reverse complement = %q, want TTTT", got)
	}
}

func TestCanonicalPicksSmaller(t *testing.T) {
	fwd := encodeSeq(t, "TTTT")
	canon, wasFwd := Canonical(fwd, 4, false)
	if wasFwd {
		t.Fatalf("expected TTTT to canonicalize to its reverse complement")
	}
	if got := canon.String(4); got != "AAAA" {
		t.Fatalf("canonical(TTTT) = %q, want AAAA", got)
	}
}

func TestCanonicalForwardOnly(t *testing.T) {
	fwd := encodeSeq(t, "TTTT")
	canon, wasFwd := Canonical(fwd, 4, true)
	if !wasFwd || canon.String(4) != "TTTT" {
		t.Fatalf("forward-only mode must never flip orientation")
	}
}

func TestWidthForDispatch(t *testing.T) {
	cases := []struct {
		k    int
		want Width
	}{
		{4, Width16}, {8, Width16},
		{9, Width32}, {16, Width32},
		{17, Width64}, {32, Width64},
		{33, Width128}, {63, Width128},
	}
	for _, c := range cases {
		if got := WidthFor(c.k); got != c.want {
			t.Errorf("WidthFor(%d) = %v, want %v", c.k, got, c.want)
		}
	}
}

func TestLessTotalOrder(t *testing.T) {
	a := encodeSeq(t, "AAAA")
	b := encodeSeq(t, "AAAC")
	if !a.Less(b) {
		t.Fatalf("AAAA should sort before AAAC")
	}
	if b.Less(a) {
		t.Fatalf("AAAC should not sort before AAAA")
	}
}
