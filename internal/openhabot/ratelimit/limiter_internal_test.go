package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.Now
	return l, clock
}

func TestAllow_UpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("alice"); !ok {
			t.Fatalf("call %d denied", i+1)
		}
	}
	ok, wait := l.Allow("alice")
	if ok {
		t.Fatal("fourth call allowed")
	}
	if wait != time.Minute {
		t.Errorf("retry after = %s, want 1m", wait)
	}
	if n := len(l.hits["alice"]); n != 3 {
		t.Errorf("recorded = %d, want denied calls not to count", n)
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	l.Allow("alice")
	clock.Advance(30 * time.Second)
	l.Allow("alice")

	if ok, wait := l.Allow("alice"); ok || wait != 30*time.Second {
		t.Fatalf("Allow = %v, %s; want false, 30s", ok, wait)
	}
	clock.Advance(31 * time.Second)
	if ok, _ := l.Allow("alice"); !ok {
		t.Fatal("call after the oldest event expired was denied")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.Allow("alice")
	if ok, _ := l.Allow("bob"); !ok {
		t.Fatal("bob limited by alice's usage")
	}
}

func TestSweepForgetsIdleKeys(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)
	l.Allow("alice")
	l.Allow("bob")
	clock.Advance(2 * time.Minute)
	l.Sweep()
	if n := len(l.hits); n != 0 {
		t.Errorf("tracked keys = %d, want 0", n)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	if l.limit != DefaultLimit || l.window != DefaultWindow {
		t.Errorf("limit/window = %d/%s", l.limit, l.window)
	}
}
