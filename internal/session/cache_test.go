package session

import (
	"testing"
	"time"

	"github.com/tidic84/InstaAi/internal/provider"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTLCache(30*time.Minute, clock.now)
	s := &provider.Session{Token: "tok"}

	c.Put("acc-1", s)

	clock.t = clock.t.Add(29 * time.Minute)
	if got, ok := c.Get("acc-1"); !ok || got != s {
		t.Fatal("session should still be cached before the TTL")
	}

	clock.t = clock.t.Add(time.Minute)
	if _, ok := c.Get("acc-1"); ok {
		t.Error("session should expire at the TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, expired entry should be evicted", c.Len())
	}
}

func TestTTLCache_Delete(t *testing.T) {
	c := NewTTLCache(time.Minute, nil)
	c.Put("acc-1", &provider.Session{})
	c.Delete("acc-1")
	if _, ok := c.Get("acc-1"); ok {
		t.Error("deleted entry should be gone")
	}
}

func TestTTLCache_LastWriteWins(t *testing.T) {
	c := NewTTLCache(time.Minute, nil)
	first := &provider.Session{Token: "a"}
	second := &provider.Session{Token: "b"}
	c.Put("acc-1", first)
	c.Put("acc-1", second)
	if got, _ := c.Get("acc-1"); got != second {
		t.Error("later Put should replace the earlier session")
	}
}

func TestNewTTLCache_DefaultTTL(t *testing.T) {
	c := NewTTLCache(0, nil)
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}
