package enginetest

import (
	"sync"
	"testing"
)

// Growth reallocates the backing slice; readers running at the same
// time must see either the old or the new slice, never a torn state.
func TestMemoryConcurrentGrowthAndAccess(t *testing.T) {
	m := &fakeMemory{data: make([]byte, 64)}
	if err := m.WriteU32(8, 0xdecafbad); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for end := uint32(4096); end <= 1<<20; end += 4096 {
			m.grow(end)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			v, err := m.ReadU32(8)
			if err != nil || v != 0xdecafbad {
				t.Errorf("read %d: %#x, %v", i, v, err)
				return
			}
		}
	}()
	wg.Wait()

	if v, _ := m.ReadU32(8); v != 0xdecafbad {
		t.Fatalf("value lost after growth: %#x", v)
	}
}
