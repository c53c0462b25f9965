package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// RetryConfig controls exponential backoff around single platform calls.
type RetryConfig struct {
	MaxTries       uint          // total attempts including the first; <= 1 disables retrying
	InitialBackoff time.Duration // first wait
	MaxBackoff     time.Duration // cap for a single wait
}

// DefaultRetryConfig returns 3 attempts starting at 200ms, capped at 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:       3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ErrRejected marks a platform error that retrying cannot fix, such as a
// fire time that is already in the past. Platforms wrap it with %w.
var ErrRejected = errors.New("gateway: rejected by platform")

// Retrying retries failed Schedule and Cancel calls of the wrapped
// platform. The Batcher sits on top, so an event only counts as failed
// once every attempt for its reminders has been used up.
type Retrying struct {
	next Platform
	cfg  RetryConfig
}

// WithRetry wraps next. If cfg.MaxTries <= 1, next is returned unchanged.
func WithRetry(next Platform, cfg RetryConfig) Platform {
	if cfg.MaxTries <= 1 {
		return next
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) Schedule(ctx context.Context, n model.Notification) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		h, err := r.next.Schedule(ctx, n)
		return h, classify(err)
	}, r.options("schedule", n.EventID)...)
}

func (r *Retrying) Cancel(ctx context.Context, handle string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, classify(r.next.Cancel(ctx, handle))
	}, r.options("cancel", handle)...)
	return err
}

func (r *Retrying) options(operation, subject string) []backoff.RetryOption {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialBackoff
	eb.MaxInterval = r.cfg.MaxBackoff

	return []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			appLog.Warn("gateway: platform call failed, retrying", "operation", operation, "subject", subject, "backoff", wait, "err", err)
		}),
	}
}

// classify stops retrying once the caller gave up or the platform said no.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRejected) {
		return backoff.Permanent(err)
	}
	return err
}
