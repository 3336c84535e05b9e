package id

import (
	"sync"
	"testing"
)

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if string(next.Bytes()) <= string(prev.Bytes()) {
			t.Fatalf("id not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNextUniqueConcurrent(t *testing.T) {
	g := NewGenerator()
	const workers = 8
	const perWorker = 500
	var mu sync.Mutex
	seen := make(map[ID]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.Next()
				mu.Lock()
				if _, dup := seen[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %s", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestStringIsHex(t *testing.T) {
	g := NewGenerator()
	s := g.Next().String()
	if len(s) != 32 {
		t.Fatalf("want 32 hex chars, got %d: %q", len(s), s)
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("non-hex char %q in %q", c, s)
		}
	}
}
