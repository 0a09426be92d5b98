package cache

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for key a")
	}
	if got.(int) != 1 {
		t.Errorf("expected 1, got %v", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestSetOverwrites(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("a", 2)

	got, ok := c.Get("a")
	if !ok || got.(int) != 2 {
		t.Errorf("expected 2, got %v (hit=%t)", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestExpiry(t *testing.T) {
	base := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return base }

	c.Set("a", "value")

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry survived past its TTL")
	}

	// Expired entries are removed on lookup.
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be deleted, %d entries remain", c.Len())
	}
}

func TestSetResetsTTL(t *testing.T) {
	base := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return base }
	c.Set("a", 1)

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("a", 2)

	c.now = func() time.Time { return base.Add(90 * time.Second) }
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("entry expired despite TTL reset")
	}
	if got.(int) != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestNonPositiveTTLNeverExpires(t *testing.T) {
	base := time.Now()
	c := New(0)
	c.now = func() time.Time { return base }
	c.Set("a", 1)

	c.now = func() time.Time { return base.Add(24 * time.Hour) }
	if _, ok := c.Get("a"); !ok {
		t.Error("entry expired with expiry disabled")
	}
	if evicted := c.EvictExpired(); evicted != 0 {
		t.Errorf("expected no evictions with expiry disabled, got %d", evicted)
	}
}

func TestDelete(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("unrelated key was deleted")
	}
}

func TestClear(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d entries", c.Len())
	}
}

func TestEvictExpired(t *testing.T) {
	base := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return base }
	c.Set("old", 1)

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	c.Set("fresh", 2)

	c.now = func() time.Time { return base.Add(70 * time.Second) }
	if evicted := c.EvictExpired(); evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry was evicted")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry after eviction, got %d", c.Len())
	}
}
