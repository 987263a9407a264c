package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is a parameterized retry schedule shared by all external calls.
// Delay grows exponentially from Initial by Multiplier per attempt, spread by
// +/- Jitter and capped at Max.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Jitter      float64 // 0..1, fraction of the delay
	Max         time.Duration
}

// Grants fail open: a few attempts, then give up and flag drift while local
// access stays granted. Revocations fail closed in intent and retry harder.
var (
	GrantPolicy  = Policy{MaxAttempts: 3, Initial: 2 * time.Second, Multiplier: 2, Jitter: 0.2, Max: time.Minute}
	RevokePolicy = Policy{MaxAttempts: 6, Initial: time.Second, Multiplier: 1.5, Jitter: 0.2, Max: 30 * time.Second}
)

// Delay computes the backoff delay for a zero-based attempt number. rng must
// be a uniform sample in [0,1).
func (p Policy) Delay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Initial)
	if base <= 0 {
		base = float64(2 * time.Second)
	}
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	return time.Duration(delay)
}

// Do runs op up to MaxAttempts times, sleeping the policy delay between
// attempts. It returns nil on the first success, the last error when all
// attempts fail, and the context error if cancelled while waiting.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt, rand.Float64())):
		}
	}
	return lastErr
}
