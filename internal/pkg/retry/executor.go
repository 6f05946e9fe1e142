// Package retry executes remote operations with bounded retries and
// configurable backoff. Failures are classified from the HTTP status
// carried on the error: authentication failures trigger a credential
// renewal before the next attempt, rate limiting enforces a minimum
// wait, server and transport errors back off normally, and anything
// else fails immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/pkg/logger"
)

// Class buckets a failed attempt by how it should be handled.
type Class int

const (
	// ClassRetryable covers transport errors and 5xx responses.
	ClassRetryable Class = iota
	// ClassRateLimited covers 429 responses.
	ClassRateLimited
	// ClassAuth covers 401 and 403 responses.
	ClassAuth
	// ClassTerminal covers everything that retrying cannot fix.
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassRateLimited:
		return "rate_limited"
	case ClassAuth:
		return "auth"
	default:
		return "terminal"
	}
}

// StatusCarrier is implemented by errors that wrap an HTTP response
// status.
type StatusCarrier interface {
	HTTPStatus() int
}

// Renewer refreshes expired credentials between attempts.
type Renewer interface {
	Renew(ctx context.Context) error
}

// ErrAttemptsExhausted wraps the final error after the retry budget is
// spent.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Executor runs operations under one retry policy. A nil Renewer
// disables credential renewal; auth failures then surface terminally.
type Executor struct {
	cfg     config.RetryConfig
	renewer Renewer
}

// New creates an Executor with the given policy.
func New(cfg config.RetryConfig, renewer Renewer) *Executor {
	return &Executor{cfg: cfg, renewer: renewer}
}

// Classify buckets an error from a remote call. Context cancellation
// is always terminal.
func Classify(err error) Class {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTerminal
	}

	var sc StatusCarrier
	if !errors.As(err, &sc) {
		// No response reached us: transport-level failure
		return ClassRetryable
	}

	status := sc.HTTPStatus()
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassRetryable
	default:
		return ClassTerminal
	}
}

// Do runs fn until it succeeds, fails terminally, or the retry budget
// is exhausted. The op label only appears in logs.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		class := Classify(lastErr)
		if class == ClassTerminal {
			return lastErr
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		wait := e.Delay(attempt)
		switch class {
		case ClassAuth:
			if e.renewer == nil {
				return lastErr
			}
			logger.Warn("credentials rejected, renewing session",
				"op", op, "attempt", attempt+1, "error", lastErr.Error())
			if renewErr := e.renewer.Renew(ctx); renewErr != nil {
				return fmt.Errorf("session renewal failed: %w", renewErr)
			}
			// Renewed credentials: retry promptly
			wait = 0
		case ClassRateLimited:
			if floor := e.cfg.RateLimitFloor(); wait < floor {
				wait = floor
			}
			logger.Warn("rate limited by remote API",
				"op", op, "attempt", attempt+1, "wait", wait.String())
		default:
			logger.Warn("transient failure, will retry",
				"op", op, "attempt", attempt+1, "wait", wait.String(), "error", lastErr.Error())
		}

		if wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w after %d attempts (%s): %w",
		ErrAttemptsExhausted, e.cfg.MaxRetries+1, op, lastErr)
}

// Delay computes the backoff before the attempt after the given
// zero-based one. Linear grows as base*(n+1); exponential doubles from
// base. Both are capped by MaxDelay.
func (e *Executor) Delay(attempt int) time.Duration {
	base := e.cfg.BaseDelay()
	var d time.Duration
	if e.cfg.BackoffStrategy == "exponential" {
		d = base << uint(attempt)
		if d < base {
			// Shift overflow
			d = e.cfg.MaxDelay()
		}
	} else {
		d = base * time.Duration(attempt+1)
	}
	if max := e.cfg.MaxDelay(); d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
