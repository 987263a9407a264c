package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Initial: time.Second, Multiplier: 2, Max: 10 * time.Second}

	if got := p.Delay(0, 0.5); got != time.Second {
		t.Fatalf("attempt 0 delay = %v, want 1s", got)
	}
	if got := p.Delay(1, 0.5); got != 2*time.Second {
		t.Fatalf("attempt 1 delay = %v, want 2s", got)
	}
	if got := p.Delay(10, 0.5); got != 10*time.Second {
		t.Fatalf("attempt 10 delay = %v, want capped at 10s", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Initial: time.Second, Multiplier: 2, Jitter: 0.5}

	lo := p.Delay(0, 0) // rng 0 -> -jitter
	hi := p.Delay(0, 1) // rng 1 -> +jitter
	if lo != 500*time.Millisecond {
		t.Fatalf("lower jitter bound = %v, want 500ms", lo)
	}
	if hi != 1500*time.Millisecond {
		t.Fatalf("upper jitter bound = %v, want 1.5s", hi)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	errBoom := errors.New("boom")
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoSucceedsMidway(t *testing.T) {
	p := Policy{MaxAttempts: 5, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 10, Initial: time.Hour, Multiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
