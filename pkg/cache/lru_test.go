package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPutGetRemove(t *testing.T) {
	c := NewLRU[string, string](10)

	c.Put("a", "alpha")
	c.Put("b", "beta")

	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Get(a) = (%q,%v), want (alpha,true)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get(missing) ok")
	}
	if !c.Remove("a") {
		t.Fatal("Remove(a) = false, want true")
	}
	if c.Remove("a") {
		t.Fatal("second Remove(a) = true, want false")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get(a) ok after remove")
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestEmptyStringIsALegitimateValue(t *testing.T) {
	c := NewLRU[string, string](10)
	c.Put("k", "")
	v, ok := c.Get("k")
	if !ok || v != "" {
		t.Fatalf("Get(k) = (%q,%v), want (\"\",true)", v, ok)
	}
}

func TestOverwriteKeepsLen(t *testing.T) {
	c := NewLRU[string, string](10)
	c.Put("x", "one")
	c.Put("x", "two")
	if got := c.Len(); got != 1 {
		t.Fatalf("Len after overwrite = %d, want 1", got)
	}
	if v, _ := c.Get("x"); v != "two" {
		t.Fatalf("Get(x) = %q, want two", v)
	}
}

// Property: after C+1 distinct inserts exactly the oldest key is gone.
func TestEvictsExactlyOldest(t *testing.T) {
	const C = 8
	c := NewLRU[string, int](C)
	for i := 0; i <= C; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatal("oldest key k0 survived eviction")
	}
	for i := 1; i <= C; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Fatalf("k%d evicted, only k0 should be", i)
		}
	}
	if got := c.Len(); got != C {
		t.Fatalf("Len = %d, want %d", got, C)
	}
}

func TestGetUpdatesRecency(t *testing.T) {
	c := NewLRU[string, string](2)
	c.Put("a", "1")
	c.Put("b", "2")

	// touch a so b becomes the LRU victim
	if _, ok := c.Get("a"); !ok {
		t.Fatal("precondition: a missing")
	}
	c.Put("c", "3")

	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to remain (Get must update recency)")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c present")
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	c := NewLRU[string, string](1 << 14)

	var wg sync.WaitGroup
	const G = 32
	const N = 2000

	errCh := make(chan error, G)
	var stop atomic.Bool

	for gid := 0; gid < G; gid++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := 0; i < N; i++ {
				if stop.Load() {
					return
				}
				k := fmt.Sprintf("k-%d-%d", gid, i)
				v := fmt.Sprintf("v-%d", i)

				c.Put(k, v)
				got, ok := c.Get(k)
				if !ok || got != v {
					errCh <- fmt.Errorf("key=%s got=(%q,%v) want=(%q,true)", k, got, ok, v)
					stop.Store(true)
					return
				}
				if i%7 == 0 {
					c.Remove(k)
				}
			}
		}(gid)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrency test failed: %v", err)
	}
}
