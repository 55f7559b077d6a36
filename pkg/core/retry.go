package core

import (
	"context"
	"time"
)

// Default retry parameters used by DefaultRetryPolicy and DefaultBatchOptions.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 100 * time.Millisecond
)

// Classifier decides whether an error is worth retrying. The engine never
// hard-codes an error list; retryability is a strategy supplied by the
// storage adapter or the caller.
type Classifier interface {
	IsRetryable(err error) bool
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(err error) bool

// IsRetryable implements Classifier.
func (f ClassifierFunc) IsRetryable(err error) bool { return f(err) }

// RetryPolicy controls WithRetry. MaxAttempts is the total number of
// invocations, so 3 means at most 3 calls. Between attempt n and n+1 the
// wrapper sleeps Delay * 2^n. A nil Classifier retries nothing.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Classifier  Classifier
	Logger      Logger
}

// DefaultRetryPolicy returns a policy with the stock attempt count and base
// delay and the given classifier.
func DefaultRetryPolicy(c Classifier) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Classifier:  c,
	}
}

// WithRetry runs op under the policy, retrying transient failures with
// exponential backoff. It returns the op result on success. The final
// error is returned exactly as op produced it, so callers can still match
// it with errors.Is and errors.As. Label names the operation in retry logs.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	log := policy.Logger
	if log == nil {
		log = nopLogger{}
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Classifier == nil || !policy.Classifier.IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := policy.Delay << attempt
		log.Warn("retrying after transient error",
			"op", label, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
