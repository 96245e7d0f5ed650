package gemini

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy - rate limit 에러에 대한 재시도 정책 (키당)
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay - attempt 번째 실패 후 대기 시간 (attempt 는 1부터)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter && d > 0 {
		// ±20%
		d = d * (0.8 + 0.4*rand.Float64())
	}
	return time.Duration(d)
}

// Retrying - 429 에러 시 같은 키로 backoff 재시도 후 다음 키로 넘어가는 Submitter
// rate limit 외의 실패(blocked, empty, malformed 등)는 즉시 반환
type Retrying struct {
	targets []Submitter
	policy  RetryPolicy
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying - targets 는 API 키별 Submitter
func NewRetrying(policy RetryPolicy, log zerolog.Logger, targets ...Submitter) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrying{
		targets: targets,
		policy:  policy,
		log:     log,
		sleep:   sleepContext,
	}
}

func (r *Retrying) Submit(ctx context.Context, req Request) (*Result, error) {
	if len(r.targets) == 0 {
		return nil, fmt.Errorf("no API keys provided")
	}

	var lastErr error
	for keyIndex, target := range r.targets {
		for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
			result, err := target.Submit(ctx, req)
			if err == nil {
				if keyIndex > 0 || attempt > 1 {
					r.log.Info().Int("key", keyIndex+1).Int("attempt", attempt).Msg("✅ [Gemini Retry] Succeeded after retry")
				}
				return result, nil
			}

			lastErr = err
			if !IsRateLimited(err) {
				return nil, err
			}

			r.log.Warn().
				Int("key", keyIndex+1).
				Int("attempt", attempt).
				Int("max_attempts", r.policy.MaxAttempts).
				Msg("⚠️ [Gemini Retry] Rate limited")

			if attempt < r.policy.MaxAttempts {
				if err := r.sleep(ctx, r.policy.Delay(attempt)); err != nil {
					return nil, err
				}
			}
		}
		r.log.Warn().Int("key", keyIndex+1).Msg("⚠️ [Gemini Retry] Key exhausted, trying next key")
	}

	return nil, fmt.Errorf("all %d API keys exhausted (%d attempts each): %w", len(r.targets), r.policy.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
