package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestSchedulerRunsAllTasks(t *testing.T) {
	s := New(4)
	var done int32
	const n = 50
	for i := 0; i < n; i++ {
		i := i
		s.Submit(&Task{Priority: i, Run: func(ctx context.Context) error {
			atomic.AddInt32(&done, 1)
			return nil
		}})
	}
	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt32(&done); got != n {
		t.Fatalf("ran %d tasks, want %d", got, n)
	}
}

func TestPoolAllocReleaseCycle(t *testing.T) {
	p := NewPool(2, func() *int { v := 0; return &v }, func(v *int) { *v = 0 })
	pkt, err := p.Alloc(context.Background())
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	*pkt.Body = 42
	pkt.Close()
	pkt.Close() // double close must be a no-op, not a double-release

	pkt2, err := p.Alloc(context.Background())
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if *pkt2.Body != 0 {
		t.Fatalf("expected reset body, got %d", *pkt2.Body)
	}
}

func TestAddressRefcount(t *testing.T) {
	a := NewAddress("hash-entry-bucket")
	b := a.Retain()
	if a.Release() {
		t.Fatalf("Release with an outstanding Retain must not report drained")
	}
	if !b.Release() {
		t.Fatalf("final Release must report drained")
	}
}
