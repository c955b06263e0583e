// Package retry re-invokes a model call that came back empty.
//
// Each logical request carries its own Budget, so counters are never shared
// between unrelated calls that happen to send the same prompt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 5 * time.Second
)

var (
	// ErrEmptyResponse marks a producer result that had no content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrExhaustedRetries is returned once a budget's retries are spent.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// Budget counts empty responses for one logical request.
type Budget struct {
	key     string
	max     int
	retries int
}

// NewBudget creates a budget allowing max retries after the first attempt.
func NewBudget(key string, max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{key: key, max: max}
}

// Key identifies the request the budget belongs to.
func (b *Budget) Key() string { return b.key }

// Retries reports how many empty responses have been counted.
func (b *Budget) Retries() int { return b.retries }

// Max reports the configured retry limit.
func (b *Budget) Max() int { return b.max }

// consume records an empty response and reports whether another attempt is
// allowed. An exhausted budget is reset to zero.
func (b *Budget) consume() bool {
	b.retries++
	if b.retries > b.max {
		b.retries = 0
		return false
	}
	return true
}

func (b *Budget) reset() { b.retries = 0 }

// Producer performs one attempt.
type Producer func(ctx context.Context) (string, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Invoker retries producers on empty output with a fixed backoff.
type Invoker struct {
	MaxRetries int
	Backoff    time.Duration
	Logger     *logging.Logger

	// OnRetry is called before each backoff wait. Optional.
	OnRetry func(key string, attempt int)

	sleep SleepFunc
}

// NewInvoker returns an Invoker with the given limits. Zero values select the defaults.
func NewInvoker(maxRetries int, backoff time.Duration, logger *logging.Logger) *Invoker {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoff == 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Invoker{MaxRetries: maxRetries, Backoff: backoff, Logger: logger, sleep: Sleep}
}

// WithSleep returns a copy of the invoker that waits using fn.
func (i *Invoker) WithSleep(fn SleepFunc) *Invoker {
	c := *i
	c.sleep = fn
	return &c
}

// Budget creates a fresh budget for key using the invoker's limit.
func (i *Invoker) Budget(key string) *Budget {
	return NewBudget(key, i.MaxRetries)
}

// Invoke calls produce until it returns non-blank text. Producer errors are
// returned immediately. Blank results consume the budget; once it is spent
// the budget is reset and ErrExhaustedRetries is returned, which happens
// after budget.Max()+1 attempts.
func (i *Invoker) Invoke(ctx context.Context, budget *Budget, produce Producer) (string, error) {
	if budget == nil {
		budget = i.Budget("")
	}
	sleep := i.sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := i.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	for attempt := 1; ; attempt++ {
		out, err := produce(ctx)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) != "" {
			budget.reset()
			return out, nil
		}

		if !budget.consume() {
			logger.Warn(ctx, "empty response, retries exhausted",
				zap.String("key", budget.Key()),
				zap.Int("attempts", attempt))
			return "", fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, attempt, ErrEmptyResponse)
		}

		logger.Warn(ctx, "empty response, retrying",
			zap.String("key", budget.Key()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", i.Backoff))
		if i.OnRetry != nil {
			i.OnRetry(budget.Key(), attempt)
		}
		if err := sleep(ctx, i.Backoff); err != nil {
			return "", err
		}
	}
}

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
