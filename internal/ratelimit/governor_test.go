package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestConsumeUnlimited(t *testing.T) {
	g := New(0)
	start := time.Now()
	if err := g.Consume(context.Background(), 10_000_000); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("expected an unlimited Governor to never block")
	}
}

func TestConsumeThrottles(t *testing.T) {
	g := New(100) // 100 B/s, burst 100
	start := time.Now()
	// consuming 250 bytes at 100 B/s takes at least ~1.5s past the initial burst
	if err := g.Consume(context.Background(), 250); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("expected Consume to block for throttling, only took %v", elapsed)
	}
}

func TestConsumeRespectsCancellation(t *testing.T) {
	g := New(1) // 1 B/s: any meaningful Consume call blocks for a long time
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Consume(ctx, 1_000_000); err == nil {
		t.Error("expected Consume to return an error on context cancellation")
	}
}

func TestSetRateFromUnlimited(t *testing.T) {
	g := New(0)
	g.SetRate(10)
	start := time.Now()
	if err := g.Consume(context.Background(), 100); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected SetRate to make a previously unlimited Governor throttle")
	}
}

func TestSetRateToUnlimited(t *testing.T) {
	g := New(1)
	g.SetRate(0)
	start := time.Now()
	if err := g.Consume(context.Background(), 10_000_000); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("expected SetRate(0) to make the Governor unlimited")
	}
}
