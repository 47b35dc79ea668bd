package connhandler

import "testing"

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := newRateLimiter(10, 3)
	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("expected call %d within burst to be allowed", i)
		}
	}
	if rl.allow() {
		t.Fatalf("expected call beyond burst to be rejected")
	}
}
