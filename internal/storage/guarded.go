package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgecommerce/storefront/internal/safepath"
)

const (
	defaultOpTimeout      = 30 * time.Second
	defaultDeleteAttempts = 3
	defaultRetryInterval  = 200 * time.Millisecond
)

// GuardOptions bounds calls made through a Guarded backend.
type GuardOptions struct {
	Timeout        time.Duration // per-call deadline
	DeleteAttempts int           // total Delete attempts, including the first
	RetryInterval  time.Duration // initial backoff between Delete attempts
}

// Guarded decorates a Storage with per-call timeouts and a small retry
// budget for Delete. Put is never retried: its body is a one-shot stream.
type Guarded struct {
	inner  Storage
	opts   GuardOptions
	logger *slog.Logger
}

// NewGuarded wraps inner. Zero option fields take package defaults.
func NewGuarded(inner Storage, opts GuardOptions, logger *slog.Logger) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	if opts.DeleteAttempts <= 0 {
		opts.DeleteAttempts = defaultDeleteAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, opts: opts, logger: logger}
}

func (g *Guarded) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	url, err := g.inner.Put(ctx, key, body, size, contentType)
	if err != nil && !errors.Is(err, ErrWriteFailure) && !errors.Is(err, safepath.ErrPathTraversal) {
		err = fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return url, err
}

func (g *Guarded) Delete(ctx context.Context, key string) error {
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()

		err := g.inner.Delete(actx, key)
		if errors.Is(err, safepath.ErrPathTraversal) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.opts.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.opts.DeleteAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		g.logger.Warn("storage delete failed, retrying",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("next_in", next),
			slog.String("error", err.Error()),
		)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, safepath.ErrPathTraversal) || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
