package router

import (
	"testing"
	"time"
)

func TestRateLimiter_EnforcesLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("conn-1") {
			t.Fatalf("message %d within limit was denied", i+1)
		}
	}
	if rl.Allow("conn-1") {
		t.Error("message over the limit was allowed")
	}

	// Limits are per connection.
	if !rl.Allow("conn-2") {
		t.Error("independent connection was denied")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("conn-1") {
		t.Fatal("first message denied")
	}
	if rl.Allow("conn-1") {
		t.Fatal("second message in window allowed")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("conn-1") {
		t.Error("message after window reset was denied")
	}
}

func TestRateLimiter_ForgetClearsState(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	rl.Allow("conn-1")
	rl.Forget("conn-1")

	if !rl.Allow("conn-1") {
		t.Error("forgotten connection still limited")
	}
}

func TestRateLimiter_CleanupDropsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(10, time.Millisecond)

	rl.Allow("conn-1")
	time.Sleep(10 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	_, exists := rl.clients["conn-1"]
	rl.mu.Unlock()
	if exists {
		t.Error("stale entry survived cleanup")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRateLimit, rl.limit)
	}
	if rl.window != time.Minute {
		t.Errorf("expected one minute window, got %s", rl.window)
	}
}
