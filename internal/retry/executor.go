// Package retry wraps single external calls with bounded attempts,
// per-attempt timeouts and class-dependent exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts      = 3
	DefaultTimeoutBackoff   = 5 * time.Second
	DefaultRateLimitBackoff = 10 * time.Second
)

// Options configures an Executor. Zero values take the defaults above.
type Options struct {
	MaxAttempts      int
	AttemptTimeout   time.Duration
	TimeoutBackoff   time.Duration
	RateLimitBackoff time.Duration
	// Sleep waits between attempts; tests inject a recorder.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(Attempt)
	Logger  *zerolog.Logger
}

// Attempt describes a failed attempt that will be retried.
type Attempt struct {
	Op     string
	Number int
	Class  Class
	Delay  time.Duration
	Err    error
}

// Failure is returned once an operation gives up.
type Failure struct {
	Op         string
	Class      Class
	Attempts   int
	Err        error
	Suggestion string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", f.Op, f.Class, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Executor runs operations under a retry policy. It is safe for concurrent use.
type Executor struct {
	opts   Options
	logger zerolog.Logger
}

// New builds an Executor.
func New(opts Options) *Executor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.TimeoutBackoff <= 0 {
		opts.TimeoutBackoff = DefaultTimeoutBackoff
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Executor{opts: opts, logger: logger}
}

// WithAttemptTimeout returns a copy of e using a different per-attempt timeout.
func (e *Executor) WithAttemptTimeout(d time.Duration) *Executor {
	clone := *e
	clone.opts.AttemptTimeout = d
	return &clone
}

// AttemptTimeout reports the per-attempt timeout, zero meaning unbounded.
func (e *Executor) AttemptTimeout() time.Duration {
	return e.opts.AttemptTimeout
}

// Backoff returns the delay before retry number retry (0 based) for class c.
func (e *Executor) Backoff(c Class, retry int) time.Duration {
	base := e.opts.TimeoutBackoff
	if c == ClassRateLimit {
		base = e.opts.RateLimitBackoff
	}
	return base << uint(retry)
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	var class Class
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.attempt(ctx, fn)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Info().Str("op", op).Int("attempt", attempt).Msg("retry: succeeded after retry")
			}
			return nil
		}
		if ctx.Err() != nil {
			// The caller gave up; do not report this as a provider failure.
			return ctx.Err()
		}
		class = Classify(lastErr)
		if !class.Retryable() || attempt == e.opts.MaxAttempts {
			return &Failure{
				Op:         op,
				Class:      class,
				Attempts:   attempt,
				Err:        lastErr,
				Suggestion: class.Suggestion(),
			}
		}
		delay := e.Backoff(class, attempt-1)
		e.logger.Warn().
			Err(lastErr).
			Str("op", op).
			Int("attempt", attempt).
			Str("class", string(class)).
			Dur("delay", delay).
			Msg("retry: attempt failed")
		if e.opts.OnRetry != nil {
			e.opts.OnRetry(Attempt{Op: op, Number: attempt, Class: class, Delay: delay, Err: lastErr})
		}
		if err := e.opts.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (e *Executor) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.opts.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()
	err := fn(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("attempt exceeded %s: %w: %w", e.opts.AttemptTimeout, context.DeadlineExceeded, err)
	}
	return err
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
