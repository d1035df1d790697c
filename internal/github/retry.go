// internal/github/retry.go
package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"

	apperrors "repo-cadence-collector/internal/errors"
)

// requestState models the lifecycle of one logical upstream request:
// Requesting -> {Success; RateLimited -> Waiting -> Requesting;
// Transient -> Backoff -> Requesting; Permanent -> return}.
// Exhausting the attempt budget in Backoff ends in Failed.
type requestState int

const (
	stateRequesting requestState = iota
	stateWaiting
	stateBackoff
	stateFailed
)

// retryPolicy parameterizes the state machine shared by all upstream calls.
type retryPolicy struct {
	maxAttempts     int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	rateLimitMargin time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:     3,
		initialBackoff:  time.Second,
		maxBackoff:      30 * time.Second,
		rateLimitMargin: 10 * time.Second,
	}
}

// execute drives fn through the retry state machine. Rate-limit waits do not
// consume the attempt budget; transient failures do. Permanent errors are
// surfaced immediately.
func (c *Client) execute(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.policy.initialBackoff
	bo.MaxInterval = c.policy.maxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	attempts := 0
	state := stateRequesting

	for {
		switch state {
		case stateRequesting:
			attempts++
			err := fn()
			if err == nil {
				return nil
			}
			lastErr = translateError(err)

			var rateErr *apperrors.RateLimitError
			var transientErr *apperrors.TransientError
			switch {
			case errors.As(lastErr, &rateErr):
				state = stateWaiting
			case errors.As(lastErr, &transientErr):
				if attempts >= c.policy.maxAttempts {
					state = stateFailed
				} else {
					state = stateBackoff
				}
			default:
				return lastErr
			}

		case stateWaiting:
			wait := c.rateLimitWait(lastErr)
			c.logger.Warn("Rate limit exhausted, waiting for reset", "op", op, "wait", wait.String())
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			state = stateRequesting

		case stateBackoff:
			d := bo.NextBackOff()
			c.logger.Debug("Transient upstream error, backing off", "op", op, "attempt", attempts, "backoff", d.String(), "error", lastErr)
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
			state = stateRequesting

		case stateFailed:
			return fmt.Errorf("%s: attempt budget exhausted: %w", op, lastErr)
		}
	}
}

// translateError converts an upstream error into the local taxonomy at the
// client boundary. A 403 with no budget remaining and a secondary-limit
// response both become a RateLimitError carrying the instant to resume at;
// 5xx and transport failures become a TransientError wrapping the cause;
// anything else is permanent and passes through unchanged.
func translateError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &apperrors.RateLimitError{Reset: rateErr.Rate.Reset.Time}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Now()
		if abuseErr.RetryAfter != nil {
			reset = reset.Add(*abuseErr.RetryAfter)
		}
		return &apperrors.RateLimitError{Reset: reset}
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		if ghErr.Response != nil && ghErr.Response.StatusCode >= 500 {
			return &apperrors.TransientError{Err: err}
		}
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &apperrors.TransientError{Err: err}
	}
	return err
}

func (c *Client) rateLimitWait(err error) time.Duration {
	var rateErr *apperrors.RateLimitError
	if errors.As(err, &rateErr) {
		until := time.Until(rateErr.Reset)
		if until < 0 {
			until = 0
		}
		return until + c.policy.rateLimitMargin
	}
	return c.policy.rateLimitMargin
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
