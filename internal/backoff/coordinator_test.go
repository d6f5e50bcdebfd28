package backoff

import (
	"context"
	"testing"
	"time"
)

func TestWaitNoOpWhenNotTripped(t *testing.T) {
	c := New()
	start := time.Now()
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("expected Wait to return immediately with no active trip")
	}
}

func TestTripSetsQuietWindow(t *testing.T) {
	c := New()
	before := time.Now()
	until := c.Trip(ReasonThrottled)
	if !until.After(before.Add(minQuiet - time.Millisecond)) {
		t.Errorf("expected quiet-until at least %v after trip, got %v", minQuiet, until.Sub(before))
	}
	if until.After(before.Add(maxQuiet + time.Second)) {
		t.Errorf("expected quiet-until within %v of trip, got %v", maxQuiet, until.Sub(before))
	}
}

func TestTripNeverShortensExistingPause(t *testing.T) {
	c := New()
	first := c.Trip(ReasonOverloaded)
	second := c.Trip(ReasonThrottled)
	if second.Before(first) {
		t.Errorf("expected second trip not to shorten the pause: first=%v second=%v", first, second)
	}
}

func TestWaitBlocksUntilQuietPasses(t *testing.T) {
	c := &Coordinator{now: time.Now}
	c.quietUntil = time.Now().Add(30 * time.Millisecond)

	start := time.Now()
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("expected Wait to block roughly until quietUntil, only waited %v", elapsed)
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	c := &Coordinator{now: time.Now}
	c.quietUntil = time.Now().Add(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.Wait(ctx); err == nil {
		t.Error("expected Wait to return an error on context cancellation")
	}
}
