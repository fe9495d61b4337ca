package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"krakenfeed/config"
	"krakenfeed/logger"
)

// Config controls the exponential schedule. Zero fields take the defaults
// applied in Retry.
type Config struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	PerAttemptTimeout   time.Duration
}

// FromRetryConfig maps the writer retry section onto Config.
func FromRetryConfig(rc config.RetryConfig) Config {
	return Config{
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: rc.BaseDelay,
		MaxInterval:     rc.MaxDelay,
	}
}

// RetryableFunc is one attempt of the operation.
type RetryableFunc func(ctx context.Context) error

// Error is returned once every attempt has failed or ctx ended.
type Error struct {
	Err      error
	Attempts int
}

func (e *Error) Error() string {
	return fmt.Sprintf("backoff: failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn until it succeeds, returns a Permanent error, the attempt
// budget is spent or ctx is done. onRetry, when set, runs before each wait.
func Retry(ctx context.Context, cfg Config, log *logger.Entry, onRetry func(err error, delay time.Duration), fn RetryableFunc) error {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.RandomizationFactor <= 0 {
		cfg.RandomizationFactor = 0.5
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.RandomizationFactor
	// attempts, not elapsed time, bound the schedule
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = exp
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		if cfg.PerAttemptTimeout > 0 {
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
			return fn(attemptCtx)
		}
		return fn(ctx)
	}

	notify := func(err error, delay time.Duration) {
		if log != nil {
			log.WithError(err).WithFields(logger.Fields{
				"attempt":  attempts,
				"delay_ms": delay.Milliseconds(),
			}).Warn("retrying after failure")
		}
		if onRetry != nil {
			onRetry(err, delay)
		}
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return &Error{Err: err, Attempts: attempts}
	}
	return nil
}
