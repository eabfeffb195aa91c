package llm

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/conductor/internal/backoff"
)

// DefaultMaxAttempts is the total attempt count for retryable failures.
const DefaultMaxAttempts = 4

// Retrying wraps a client with jittered exponential backoff. Connection,
// rate-limit, and internal failures are retried; invalid requests are not.
type Retrying struct {
	inner       Client
	maxAttempts int
	policy      backoff.Policy
	logger      *slog.Logger
}

// NewRetrying wraps inner. maxAttempts of 0 selects DefaultMaxAttempts; the
// policy defaults to the API preset (base 10 s, factor 2, jitter 20%,
// cap 300 s).
func NewRetrying(inner Client, maxAttempts int, logger *slog.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:       inner,
		maxAttempts: maxAttempts,
		policy:      backoff.APIPolicy(),
		logger:      logger,
	}
}

// WithPolicy overrides the backoff policy, for tests.
func (r *Retrying) WithPolicy(p backoff.Policy) *Retrying {
	r.policy = p
	return r
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Generate calls the wrapped client, sleeping between retryable failures.
// Context cancellation interrupts both the call and the backoff sleep.
func (r *Retrying) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	result, err := backoff.RetryWithBackoff(ctx, r.policy, r.maxAttempts,
		func(attempt int) (*GenerateResponse, error) {
			resp, callErr := r.inner.Generate(ctx, req)
			if callErr == nil {
				return resp, nil
			}
			if !IsRetryable(callErr) {
				return nil, backoff.Permanent(callErr)
			}
			r.logger.Warn("llm call failed, will retry",
				"provider", r.inner.Name(),
				"attempt", attempt,
				"max_attempts", r.maxAttempts,
				"error", callErr)
			return nil, callErr
		})
	if err != nil {
		if result.LastError != nil {
			return nil, result.LastError
		}
		return nil, err
	}
	return result.Value, nil
}
