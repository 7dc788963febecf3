package worker

import (
	"context"
	"testing"
	"time"
)

// ready reports whether endpoint has a token available right now. Wait fails
// at once when the next token would arrive after the deadline.
func ready(l *Limiter, endpoint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, endpoint) == nil
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1) // 100 rps, burst 1
	ctx := context.Background()

	if err := limiter.Wait(ctx, "bolt://localhost:7687"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	// Different endpoint should also work
	if err := limiter.Wait(ctx, "neo4j://db.internal:7687"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !ready(limiter, "bolt://localhost:7687") {
			t.Fatalf("request %d should pass without a rate", i)
		}
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	// 1 rps, burst 1
	limiter := NewLimiter(1, 1)
	ctx := context.Background()
	endpoint := "bolt://localhost:7687"

	if err := limiter.Wait(ctx, endpoint); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst 1 means the token is consumed
	if ready(limiter, endpoint) {
		t.Errorf("expected the bucket to be empty")
	}

	// Same host with another scheme shares the bucket
	if ready(limiter, "neo4j://localhost:7687") {
		t.Errorf("expected the same host to share the bucket")
	}

	// Different endpoint should be allowed
	if !ready(limiter, "bolt://localhost:17687") {
		t.Errorf("expected a token for another endpoint")
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	endpoint := "bolt://localhost:7687"
	ready(limiter, endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, endpoint); err == nil {
		t.Error("expected wait to fail once the token bucket is empty and ctx expires")
	}
}

func TestEndpointKey(t *testing.T) {
	key, err := endpointKey("bolt://localhost:7687")
	if err != nil {
		t.Fatalf("endpointKey failed: %v", err)
	}
	if key != "localhost:7687" {
		t.Errorf("expected localhost:7687, got %s", key)
	}

	key, err = endpointKey("plain-key")
	if err != nil || key != "plain-key" {
		t.Errorf("expected the raw key back, got %q, %v", key, err)
	}

	_, err = endpointKey("::invalid")
	if err == nil {
		t.Errorf("expected error for invalid URI")
	}
}
