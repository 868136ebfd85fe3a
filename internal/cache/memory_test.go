package cache

import (
	"testing"
	"time"
)

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache[string]()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", "alpha", time.Minute)
	c.Set("b", "beta", time.Second)

	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Expected alpha, got %q %v", v, ok)
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to have expired")
	}
	if c.Len() != 1 {
		t.Errorf("Expected expired entry to be dropped on read, len=%d", c.Len())
	}

	now = now.Add(time.Hour)
	if n := c.Purge(); n != 1 {
		t.Errorf("Expected Purge to drop 1 entry, got %d", n)
	}
	c.Set("c", "gamma", time.Minute)
	c.Delete("c")
	if _, ok := c.Get("c"); ok {
		t.Error("Expected deleted entry to be gone")
	}
}

func TestMemoryCache_SetIfAbsent(t *testing.T) {
	c := NewMemoryCache[int]()
	now := time.Now()
	c.now = func() time.Time { return now }

	if !c.SetIfAbsent("k", 1, time.Second) {
		t.Fatal("Expected first SetIfAbsent to store")
	}
	if c.SetIfAbsent("k", 2, time.Second) {
		t.Error("Expected SetIfAbsent to refuse a live key")
	}
	if v, _ := c.Get("k"); v != 1 {
		t.Errorf("Expected original value kept, got %d", v)
	}

	now = now.Add(2 * time.Second)
	if !c.SetIfAbsent("k", 3, time.Second) {
		t.Error("Expected SetIfAbsent to replace an expired entry")
	}
}
