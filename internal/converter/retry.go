package converter

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tuanvm/diachimoi/internal/common"
	"github.com/tuanvm/diachimoi/internal/models"
)

// Refresher tears down and recreates the underlying browser context.
// Satisfied by browser.Session.
type Refresher interface {
	Refresh() error
}

// RetryPolicy wraps a single workflow invocation with bounded retries,
// exponential backoff and periodic session refresh. Stateless across calls.
type RetryPolicy struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	RefreshEvery int // full session refresh every Nth failed attempt

	logger arbor.ILogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from configuration
func NewRetryPolicy(cfg common.RetryConfig, logger arbor.ILogger) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		BackoffBase:  cfg.BackoffBaseDuration(),
		RefreshEvery: cfg.RefreshEvery,
		logger:       logger,
		sleep:        sleepContext,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.RefreshEvery < 1 {
		p.RefreshEvery = 2
	}
	return p
}

// Execute runs the converter once per attempt. Between failed attempts it
// waits 2^attempt backoff units, and every RefreshEvery-th failure forces a
// full session refresh to clear corrupted UI state. The last error is
// surfaced on exhaustion; the caller decides whether to poison the record.
func (p *RetryPolicy) Execute(ctx context.Context, rec models.InputRecord, conv Converter, ref Refresher) (Outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := conv.Convert(ctx, rec)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoffDelay(attempt)
		p.logger.Warn().
			Int("pref_old_id", rec.PrefOldID).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("backoff", delay).
			Err(err).
			Msg("Conversion attempt failed, backing off")

		if attempt%p.RefreshEvery == 0 && ref != nil {
			if rerr := ref.Refresh(); rerr != nil {
				p.logger.Error().Err(rerr).Msg("Session refresh failed")
			}
		}

		if serr := p.sleep(ctx, delay); serr != nil {
			return Outcome{}, serr
		}
	}

	return Outcome{}, lastErr
}

// backoffDelay returns 2^attempt backoff units
func (p *RetryPolicy) backoffDelay(attempt int) time.Duration {
	return p.BackoffBase << uint(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
