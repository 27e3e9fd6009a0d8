// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package retry wraps a single remote call with outcome classification and bounded retries.
//
// An outcome is one of:
//   - fatal: the caller's context is done, or an explicitly raised domain error (*errors.E); returned at once
//   - retryable: any other transport error, including per-request timeouts, or a response whose
//     status is not accepted
//   - success: a response whose status is accepted
//
// Retryable outcomes sleep for an interval taken from a backoff source and try again, up to
// Attempts times. After that one final unguarded attempt is made and its outcome is returned
// as-is, so a call that keeps failing is tried Attempts+1 times in total.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/logging"
)

// Backoff strategies understood by Policy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

const (
	DefaultAttempts = 3
	DefaultWait     = 3 * time.Second
)

// Outcome is what a wrapped call returns on the transport level.
type Outcome interface {
	// Status returns the protocol status code of the response.
	Status() int
	// Body returns the raw payload, used for bounded log previews.
	Body() []byte
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how a call is retried. The zero value makes a single attempt and accepts
// only status 200; see DefaultPolicy for the usual settings.
type Policy struct {
	Attempts int
	Wait     time.Duration
	Backoff  string
	// Accept lists the status codes treated as success. Empty means {200}.
	Accept []int
	// Fatal optionally marks additional errors as non-retryable.
	Fatal func(error) bool
	// Sleep replaces the real timer, mainly for tests.
	Sleep  SleepFunc
	Logger *slog.Logger
}

// DefaultPolicy mirrors the service defaults: 3 guarded attempts, 3 seconds apart.
func DefaultPolicy(logger *slog.Logger) Policy {
	return Policy{
		Attempts: DefaultAttempts,
		Wait:     DefaultWait,
		Backoff:  BackoffConstant,
		Logger:   logger,
	}
}

// Do runs call under the policy. name identifies the operation in logs and errors.
func Do[O Outcome](ctx context.Context, p Policy, name string, call func(context.Context) (O, error)) (O, error) {
	log := p.logger().With(slog.String("op", name))
	interval := p.intervals()
	attempts := p.Attempts
	if attempts < 0 {
		attempts = 0
	}

	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			var zero O
			return zero, err
		}

		out, err := call(ctx)
		if err != nil {
			if p.isFatal(ctx, err) {
				log.Debug("fatal error, not retrying", slog.Int("attempt", i), slog.Any("error", err))
				return out, err
			}
			log.Warn("exception thrown",
				slog.String("attempt", fmt.Sprintf("%d/%d", i, attempts)),
				slog.String("error", logging.Mask(err.Error())))
		} else {
			preview := logging.Mask(logging.Preview(string(out.Body()), logging.MaxLenPrintBody))
			log.Debug("response",
				slog.String("attempt", fmt.Sprintf("%d/%d", i, attempts)),
				slog.Int("status", out.Status()),
				slog.String("body", preview))
			if p.accepts(out.Status()) {
				return out, nil
			}
			log.Warn("response error",
				slog.String("attempt", fmt.Sprintf("%d/%d", i, attempts)),
				slog.Int("status", out.Status()),
				slog.String("body", preview))
		}

		if err := p.sleep(ctx, interval.NextBackOff()); err != nil {
			var zero O
			return zero, err
		}
	}

	out, err := call(ctx)
	if err != nil {
		if p.isFatal(ctx, err) {
			return out, err
		}
		log.Error("final attempt failed", slog.String("error", logging.Mask(err.Error())))
		return out, herrors.Wrap(herrors.Transport, name, err)
	}
	if !p.accepts(out.Status()) {
		preview := logging.Mask(logging.Preview(string(out.Body()), logging.MaxLenPrintBody))
		log.Error("final attempt rejected", slog.Int("status", out.Status()), slog.String("body", preview))
		return out, herrors.Wrap(herrors.Transport, name, &StatusError{Code: out.Status(), Preview: preview})
	}
	return out, nil
}

// StatusError reports a response whose status code was outside the accepted set.
type StatusError struct {
	Code    int
	Preview string
}

func (e *StatusError) Error() string {
	if e.Preview == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Preview)
}

// IsFatal reports whether err must propagate without another attempt. Context errors are
// not fatal by themselves: http.Client timeouts match context.DeadlineExceeded, and only the
// caller's own context being done stops the retries.
func IsFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	var domain *herrors.E
	return stderrors.As(err, &domain)
}

func (p Policy) isFatal(ctx context.Context, err error) bool {
	if IsFatal(ctx, err) {
		return true
	}
	return p.Fatal != nil && p.Fatal(err)
}

func (p Policy) accepts(code int) bool {
	if len(p.Accept) == 0 {
		return code == 200
	}
	return slices.Contains(p.Accept, code)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = p.Wait
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (p Policy) intervals() backoff.BackOff {
	if p.Backoff == BackoffExponential && p.Wait > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.Wait
		b.MaxInterval = 10 * p.Wait
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(p.Wait)
}

// SleepContext blocks for d, returning early with ctx.Err() if ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
