package id

import (
	"sync"
	"testing"
)

func TestCounter_NextID_Uniqueness(t *testing.T) {
	gen := NewCounter(0)

	seen := make(map[uint64]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %d", i, id)
		}
		seen[id] = true
	}
}

func TestCounter_NextID_Monotonic(t *testing.T) {
	gen := NewCounter(4242)

	prev := gen.NextID()
	if prev != 4242 {
		t.Fatalf("expected first id 4242, got %d", prev)
	}

	for i := 0; i < 1000; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%d, curr=%d", i, prev, id)
		}
		prev = id
	}

	if gen.Last() != prev {
		t.Fatalf("expected Last()=%d, got %d", prev, gen.Last())
	}
}

func TestCounter_ZeroNeverIssued(t *testing.T) {
	gen := NewCounter(0)
	if id := gen.NextID(); id != FirstID {
		t.Fatalf("expected %d, got %d", FirstID, id)
	}
}

func TestCounter_NextID_Concurrent(t *testing.T) {
	gen := NewCounter(0)

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	idsChan := make(chan uint64, goroutines*idsPerGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < idsPerGoroutine; i++ {
				idsChan <- gen.NextID()
			}
		}()
	}

	wg.Wait()
	close(idsChan)

	seen := make(map[uint64]bool)
	for id := range idsChan {
		if seen[id] {
			t.Fatalf("duplicate ID in concurrent test: %d", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines*idsPerGoroutine {
		t.Fatalf("expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}

func TestCounter_IndependentInstances(t *testing.T) {
	a := NewCounter(0)
	b := NewCounter(0)

	a.NextID()
	a.NextID()

	if id := b.NextID(); id != FirstID {
		t.Fatalf("counters must not share state, got %d from fresh counter", id)
	}
}

func BenchmarkCounter_NextID(b *testing.B) {
	gen := NewCounter(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gen.NextID()
	}
}

func BenchmarkCounter_NextID_Parallel(b *testing.B) {
	gen := NewCounter(0)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			gen.NextID()
		}
	})
}
