// Package ratelimit implements the per-source rate governor shared by every adapter.
//
// A Governor spaces calls to each source by the source's minimum delay, retries
// rate-limited and transient failures with exponential backoff, and escalates to
// errs.ErrQuotaExceeded or errs.ErrSourceUnavailable once the attempts are spent.
// Calls that would exceed a quota wait; they never fail for being early.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

// Policy is the throttling policy for one source.
type Policy struct {
	MinDelay         time.Duration
	MaxRecordsPerRun int // 0 means no cap
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
}

type lane struct {
	mu   sync.Mutex
	next time.Time
}

// Governor is safe for concurrent use by runs of different sources.
type Governor struct {
	mu       sync.Mutex
	policies map[models.Source]Policy
	lanes    map[models.Source]*lane
	fallback Policy
	logger   *logrus.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGovernor creates a governor. Sources without a policy use fallback.
func NewGovernor(policies map[models.Source]Policy, fallback Policy, logger *logrus.Logger) *Governor {
	if logger == nil {
		logger = logrus.New()
	}
	p := make(map[models.Source]Policy, len(policies))
	for src, policy := range policies {
		p[src] = policy
	}
	return &Governor{
		policies: p,
		lanes:    make(map[models.Source]*lane),
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Policy returns the effective policy for src.
func (g *Governor) Policy(src models.Source) Policy {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.policies[src]; ok {
		return p
	}
	return g.fallback
}

// RecordCap returns the maximum records a single run may take from src; 0 means no cap.
func (g *Governor) RecordCap(src models.Source) int {
	return g.Policy(src).MaxRecordsPerRun
}

func (g *Governor) lane(src models.Source) *lane {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lanes[src]
	if !ok {
		l = &lane{}
		g.lanes[src] = l
	}
	return l
}

// Wait blocks until src may be called again. It only returns an error when ctx ends.
func (g *Governor) Wait(ctx context.Context, src models.Source) error {
	policy := g.Policy(src)
	l := g.lane(src)

	l.mu.Lock()
	defer l.mu.Unlock()

	if wait := l.next.Sub(g.now()); wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	l.next = g.now().Add(policy.MinDelay)
	return nil
}

// Do waits for its turn, runs call under the per-call timeout and retries retryable
// failures. Non-retryable errors are returned unchanged after the first attempt.
func (g *Governor) Do(ctx context.Context, src models.Source, call func(ctx context.Context) error) error {
	policy := g.Policy(src)
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.Wait(ctx, src); err != nil {
			return err
		}

		err := g.invoke(ctx, policy, call)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := backoff(policy, attempt, err)
		g.logger.WithError(err).WithFields(logrus.Fields{
			"source":  src,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Retrying provider call")

		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if errors.Is(lastErr, errs.ErrRateLimited) {
		return fmt.Errorf("%w: %s after %d attempts: %w", errs.ErrQuotaExceeded, src, attempts, lastErr)
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", errs.ErrSourceUnavailable, src, attempts, lastErr)
}

func (g *Governor) invoke(ctx context.Context, policy Policy, call func(ctx context.Context) error) error {
	if policy.CallTimeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, policy.CallTimeout)
	defer cancel()
	return call(callCtx)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errs.ErrRateLimited) || errors.Is(err, errs.ErrTransient) {
		return true
	}
	// A per-call timeout fired while the run itself is still alive
	return errors.Is(err, context.DeadlineExceeded)
}

func backoff(policy Policy, attempt int, err error) time.Duration {
	delay := policy.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	var limited *errs.RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > delay {
		delay = limited.RetryAfter
	}

	if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
		delay = policy.MaxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
