package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("get a = %q, %v", v, ok)
	}

	// "b" is now the least recently used and gets evicted.
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)

	c.Set("x", 42)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("x"); ok {
		t.Fatal("expected x to be expired")
	}

	c.Set("y", 1)
	time.Sleep(20 * time.Millisecond)
	c.Set("z", 2)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("cleaned = %d, want 1", n)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}

func TestStartJanitorSweepsExpired(t *testing.T) {
	c := NewLRUCache[int](10, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartJanitor(ctx, 10*time.Millisecond)
	c.Set("x", 1)

	deadline := time.Now().Add(time.Second)
	for c.Size() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep expired entry, size = %d", c.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)

	c.Set("user:1:2026-08", 1)
	c.Set("user:1:2026-09", 2)
	c.Set("user:2:2026-08", 3)

	if n := c.DeletePrefix("user:1:"); n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}
	if _, ok := c.Get("user:2:2026-08"); !ok {
		t.Fatal("expected user 2 entry to survive")
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}
