package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kulai-character-server/modules/common/model"
)

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Submit(ctx context.Context, req Request) (*Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Result{Image: &model.Image{Data: []byte("ok"), MIMEType: "image/png"}}, nil
}

func noSleep(r *Retrying) *Retrying {
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

var rateLimited = &Error{Kind: KindProvider, Code: 429, Message: "quota"}

func TestRetryingRetriesRateLimit(t *testing.T) {
	key := &scripted{errs: []error{rateLimited, rateLimited}}
	r := noSleep(NewRetrying(RetryPolicy{MaxAttempts: 3}, zerolog.Nop(), key))

	res, err := r.Submit(context.Background(), Request{Parts: []Part{TextPart("x")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Image == nil || key.calls != 3 {
		t.Fatalf("expected success on 3rd call, calls=%d", key.calls)
	}
}

func TestRetryingMovesToNextKey(t *testing.T) {
	first := &scripted{errs: []error{rateLimited, rateLimited}}
	second := &scripted{}
	r := noSleep(NewRetrying(RetryPolicy{MaxAttempts: 2}, zerolog.Nop(), first, second))

	if _, err := r.Submit(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.calls != 2 || second.calls != 1 {
		t.Fatalf("calls mismatch: first=%d second=%d", first.calls, second.calls)
	}
}

func TestRetryingDoesNotRetryOtherFailures(t *testing.T) {
	for _, failure := range []error{
		&Error{Kind: KindBlocked, Reason: "SAFETY"},
		&Error{Kind: KindMalformed},
		&Error{Kind: KindEmpty},
		&Error{Kind: KindProvider, Code: 400, Message: "API key not valid"},
	} {
		key := &scripted{errs: []error{failure}}
		r := noSleep(NewRetrying(RetryPolicy{MaxAttempts: 5}, zerolog.Nop(), key))

		_, err := r.Submit(context.Background(), Request{})
		if !errors.Is(err, failure) {
			t.Fatalf("expected %v to pass through, got %v", failure, err)
		}
		if key.calls != 1 {
			t.Fatalf("%v retried %d times", failure, key.calls)
		}
	}
}

func TestRetryingExhaustedKeepsClassification(t *testing.T) {
	key := &scripted{errs: []error{rateLimited, rateLimited}}
	r := noSleep(NewRetrying(RetryPolicy{MaxAttempts: 2}, zerolog.Nop(), key))

	_, err := r.Submit(context.Background(), Request{})
	if !IsRateLimited(err) {
		t.Fatalf("exhausted error should still classify as rate limited: %v", err)
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	key := &scripted{errs: []error{rateLimited, rateLimited, rateLimited}}
	r := noSleep(NewRetrying(RetryPolicy{MaxAttempts: 3}, zerolog.Nop(), key))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Submit(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if key.calls != 1 {
		t.Fatalf("expected a single call before cancel, got %d", key.calls)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}

	p.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.Delay(1)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}
