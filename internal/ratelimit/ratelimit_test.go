package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowWithinBudget(t *testing.T) {
	l := New(600) // 10/sec, burst 60
	for i := 0; i < 5; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("unexpected rate limit on request %d: %v", i, err)
		}
	}
}

func TestLimiter_ExceedsBudget(t *testing.T) {
	l := New(60) // 1/sec, burst 6
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := l.Allow("client-b"); err != nil {
			lastErr = err
			break
		}
	}
	if lastErr == nil {
		t.Error("expected rate limit to trigger eventually")
	}
}

func TestLimiter_PerClientIsolation(t *testing.T) {
	l := New(60)
	for i := 0; i < 6; i++ {
		if err := l.Allow("client-c"); err != nil {
			t.Fatalf("client-c exhausted burst early: %v", err)
		}
	}
	if err := l.Allow("client-d"); err != nil {
		t.Errorf("different client should have its own bucket: %v", err)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := New(60)
	_ = l.Allow("stale-client")
	time.Sleep(10 * time.Millisecond)
	removed := l.Cleanup(5 * time.Millisecond)
	if removed != 1 {
		t.Errorf("Cleanup removed %d entries, want 1", removed)
	}
}
