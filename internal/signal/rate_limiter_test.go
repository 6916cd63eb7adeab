package signal

import (
	"testing"
	"time"
)

func TestJoinRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewJoinRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("attempt %d blocked below the limit", i)
		}
	}
	if rl.Allow("alice") {
		t.Fatalf("attempt past the limit allowed")
	}
	if !rl.Allow("bob") {
		t.Fatalf("another user blocked by alice's attempts")
	}
}

func TestJoinRateLimiter_WindowSlides(t *testing.T) {
	rl := NewJoinRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("alice") {
		t.Fatalf("first attempt blocked")
	}
	if rl.Allow("alice") {
		t.Fatalf("second attempt allowed inside the window")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Fatalf("attempt blocked after the window expired")
	}
}
