package minimizer

import "testing"

func TestWindowTracksMinimum(t *testing.T) {
	w := NewWindow(4, Resolve(HashSeqHash, 4))
	w.Reset()
	hashes := []uint64{5, 3, 8, 1, 9, 2}
	wantMin := []uint64{5, 3, 3, 1, 1, 1}
	wantPos := []int{0, 1, 1, 3, 3, 3}
	for i, h := range hashes {
		w.PushHash(h)
		w.EvictBefore(i - 2) // window width 3
		min, pos, ok := w.Min()
		if !ok {
			t.Fatalf("expected a minimum at step %d", i)
		}
		if min != wantMin[i] || pos != wantPos[i] {
			t.Errorf("step %d: Min() = (%d, %d), want (%d, %d)", i, min, pos, wantMin[i], wantPos[i])
		}
	}
}

func TestBucketOfPowersOfTwo(t *testing.T) {
	hi, lo := Shifts(128, 256)
	b, s := BucketOf(0xFFFFFFFFFFFFFFFF, hi, lo, 128, 256)
	if b >= 128 {
		t.Fatalf("bucket %d out of range", b)
	}
	if s >= 256 {
		t.Fatalf("second bucket %d out of range", s)
	}
}

func TestDefaultMHeuristic(t *testing.T) {
	if m := DefaultM(21); m < 8 || m > 21 || m%2 != 0 {
		t.Fatalf("DefaultM(21) = %d, want an even value in [8, 21]", m)
	}
	if m := DefaultM(63); m <= 8 {
		t.Fatalf("DefaultM(63) = %d, expected to scale above the floor", m)
	}
}
