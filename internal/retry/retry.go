package retry

import (
	"context"
	"errors"
	"log"
	"time"
)

type Class int

const (
	// Permanent errors are returned immediately.
	Permanent Class = iota
	// Transient errors retry up to MaxAttempts.
	Transient
	// RateLimited errors back off exponentially up to RateLimitAttempts.
	RateLimited
)

// Policy is the one retry behaviour shared by every oracle call site.
type Policy struct {
	MaxAttempts       int
	RateLimitAttempts int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Classify          func(error) Class
	Sleep             func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy(classify func(error) Class) Policy {
	return Policy{
		MaxAttempts:       3,
		RateLimitAttempts: 5,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		Classify:          classify,
	}
}

// ErrExhausted wraps the last error once every allowed attempt failed.
var ErrExhausted = errors.New("retries exhausted")

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return ErrExhausted.Error() + ": " + e.last.Error()
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrExhausted, e.last} }

func (e *exhaustedError) Attempts() int { return e.attempts }

// Do runs fn until it succeeds, returns a permanent error, exhausts the
// attempt budget for its error class, or ctx ends.
func (p Policy) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Transient }
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxAttempts := max(p.MaxAttempts, 1)
	rateAttempts := max(p.RateLimitAttempts, maxAttempts)

	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		class := classify(err)
		limit := maxAttempts
		switch class {
		case Permanent:
			return err
		case RateLimited:
			limit = rateAttempts
		}
		if attempt >= limit {
			return &exhaustedError{attempts: attempt, last: err}
		}
		delay := p.backoff(attempt)
		log.Printf("retry %s attempt=%d/%d rate_limited=%t delay=%s err=%v", label, attempt, limit, class == RateLimited, delay, err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
