package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"
)

// ---------------------------------------------------------------------------
// Retryable error interface
// ---------------------------------------------------------------------------

// RetryableError is implemented by errors that know whether a retry is
// worthwhile.
type RetryableError interface {
	error
	ShouldRetry() bool
}

type retryableErr struct {
	err       error
	retryable bool
}

func (e *retryableErr) Error() string     { return e.err.Error() }
func (e *retryableErr) Unwrap() error     { return e.err }
func (e *retryableErr) ShouldRetry() bool { return e.retryable }

// NewRetryableError wraps err marking it as retryable.
func NewRetryableError(err error) error {
	return &retryableErr{err: err, retryable: true}
}

// NewNonRetryableError wraps err marking it as non-retryable. Publishers use
// it for payloads the sink rejects outright (bad request, mapping conflict).
func NewNonRetryableError(err error) error {
	return &retryableErr{err: err, retryable: false}
}

// IsRetryable reports whether err is worth another attempt. Errors that do
// not implement RetryableError are treated as transient. Context errors never
// are.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.ShouldRetry()
	}
	return true
}

// ---------------------------------------------------------------------------
// RetryConfig
// ---------------------------------------------------------------------------

// RetryConfig holds parameters for RetryWithBackoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// 0 means 3.
	MaxAttempts int
	// InitialDelay is the delay before the first retry (default 500ms).
	InitialDelay time.Duration
	// MaxDelay caps a single delay (default 10s).
	MaxDelay time.Duration
	// Multiplier controls exponential growth (default 2.0).
	Multiplier float64
	// JitterFraction is the randomization factor (default 0.1).
	JitterFraction float64
	Logger         *zerolog.Logger
	OperationName  string
}

func (c *RetryConfig) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFraction == 0 {
		c.JitterFraction = 0.1
	}
	if c.OperationName == "" {
		c.OperationName = "operation"
	}
}

// newExponential builds the backoff.v1 policy for cfg. MaxElapsedTime is
// disabled; the attempt limit is enforced by boundedBackOff instead.
func newExponential(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.JitterFraction
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// boundedBackOff stops the wrapped policy after maxRetries delays, when the
// context is done, or when the last error was marked non-retryable.
type boundedBackOff struct {
	ctx        context.Context
	delegate   backoff.BackOff
	maxRetries int
	retries    int
	stop       bool
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	if b.stop || b.ctx.Err() != nil || b.retries >= b.maxRetries {
		return backoff.Stop
	}
	b.retries++
	return b.delegate.NextBackOff()
}

func (b *boundedBackOff) Reset() {
	b.retries = 0
	b.stop = false
	b.delegate.Reset()
}

// ---------------------------------------------------------------------------
// RetryWithBackoff
// ---------------------------------------------------------------------------

// RetryWithBackoff executes fn up to MaxAttempts times with exponential
// backoff and jitter. It stops early on context cancellation or on an error
// marked non-retryable. A cancellation that arrives while sleeping takes
// effect before the next attempt.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.setDefaults()

	policy := &boundedBackOff{
		ctx:        ctx,
		delegate:   newExponential(cfg),
		maxRetries: cfg.MaxAttempts - 1,
	}

	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			policy.stop = true
			return err
		}
		attempts++
		err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			policy.stop = true
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if cfg.Logger == nil {
			return
		}
		cfg.Logger.Warn().
			Err(err).
			Str("operation", cfg.OperationName).
			Int("attempt", attempts).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("next_delay", next).
			Msg("Retrying after error")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		if attempts > 1 && cfg.Logger != nil {
			cfg.Logger.Info().
				Str("operation", cfg.OperationName).
				Int("attempt", attempts).
				Msg("Retry succeeded")
		}
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: context cancelled after %d attempts: %w", cfg.OperationName, attempts, ctx.Err())
	case !IsRetryable(err):
		return err
	default:
		return fmt.Errorf("%s: all %d attempts failed: %w", cfg.OperationName, attempts, err)
	}
}
