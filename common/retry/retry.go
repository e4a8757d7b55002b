// Package retry runs an operation again with growing pauses while it keeps
// failing with an error the caller considers transient.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config describes a retry policy.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts int
	// InitialDelay is the pause after the first failure; it doubles after
	// each further failure.
	InitialDelay time.Duration
	// MaxDelay caps a single pause.
	MaxDelay time.Duration
	// ShouldRetry classifies errors. Nil retries every error.
	ShouldRetry func(err error) bool
}

const (
	fallbackInitialDelay = 200 * time.Millisecond
	fallbackMaxDelay     = 5 * time.Second
)

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = fallbackInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = fallbackMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = func(error) bool { return true }
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error from fn is returned, joined with the
// context error when cancellation cut the loop short.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.normalized()

	var err error
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.ShouldRetry(err) {
			return err
		}

		slog.Debug("retrying", "attempt", attempt, "max", cfg.MaxAttempts, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, cfg.MaxDelay)
	}
}
