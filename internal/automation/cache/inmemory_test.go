package cache

import (
	"testing"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
)

func TestInMemoryGetMissWhenEmpty(t *testing.T) {
	c := NewInMemory(DefaultConfig())
	if got := c.Get(); got != nil {
		t.Fatalf("expected nil on empty cache, got %v", got)
	}
	if c.IsValid() {
		t.Fatal("expected IsValid() false on empty cache")
	}
}

func TestInMemorySetAndGet(t *testing.T) {
	c := NewInMemory(DefaultConfig())
	rules := []*automation.Rule{{ID: "r1"}, {ID: "r2"}}
	c.Set(rules)

	got := c.Get()
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got))
	}
	if !c.IsValid() {
		t.Fatal("expected IsValid() true after Set")
	}
}

func TestInMemorySetCopiesSlice(t *testing.T) {
	c := NewInMemory(DefaultConfig())
	rules := []*automation.Rule{{ID: "r1"}}
	c.Set(rules)

	rules[0] = &automation.Rule{ID: "mutated"}

	got := c.Get()
	if got[0].ID != "r1" {
		t.Fatalf("cache should not observe external mutation, got %q", got[0].ID)
	}
}

func TestInMemoryInvalidate(t *testing.T) {
	c := NewInMemory(DefaultConfig())
	c.Set([]*automation.Rule{{ID: "r1"}})
	c.Invalidate()

	if c.IsValid() {
		t.Fatal("expected IsValid() false after Invalidate")
	}
	if got := c.Get(); got != nil {
		t.Fatalf("expected nil after Invalidate, got %v", got)
	}
}

func TestInMemoryTTLExpiry(t *testing.T) {
	c := NewInMemory(Config{TTL: 10 * time.Millisecond})
	c.Set([]*automation.Rule{{ID: "r1"}})

	if got := c.Get(); got == nil {
		t.Fatal("expected cache hit immediately after Set")
	}

	time.Sleep(20 * time.Millisecond)

	if got := c.Get(); got != nil {
		t.Fatalf("expected cache miss after TTL expiry, got %v", got)
	}
	if c.IsValid() {
		t.Fatal("expected IsValid() false after TTL expiry")
	}
}
