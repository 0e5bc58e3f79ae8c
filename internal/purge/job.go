// Package purge implements the deferred deletion job. A run finds images
// that have been pending deletion for longer than the grace period, removes
// their stored objects and then drops their descriptors from the product.
package purge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/forgecommerce/storefront/internal/registry"
	"github.com/forgecommerce/storefront/internal/storage"
)

const (
	DefaultGraceHours     = 24
	DefaultBatchLimit     = 100
	DefaultPersistTimeout = 30 * time.Second
)

// Registry is the part of the asset registry the job reads and writes.
type Registry interface {
	PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) (registry.CandidateBatch, error)
	RemovePurged(ctx context.Context, productID uuid.UUID, keys []string) (int, error)
}

// Options configures a Job.
type Options struct {
	GraceHours int           // negative takes DefaultGraceHours
	BatchLimit int           // products per run
	Workers    int           // products processed concurrently
	RunTimeout time.Duration // zero means no deadline beyond the caller's

	// PersistTimeout bounds the registry write after objects are deleted.
	// That write outlives RunTimeout so it gets a deadline of its own.
	PersistTimeout time.Duration
}

// Result summarises one run.
type Result struct {
	Cutoff          time.Time `json:"cutoff"`
	Products        int       `json:"products"`
	Unreadable      int       `json:"unreadable"`
	Examined        int       `json:"examined"`
	Purged          int       `json:"purged"`
	Failed          int       `json:"failed"`
	PersistFailures int       `json:"persistFailures"`
	Skipped         bool      `json:"skipped"`
	Duration        string    `json:"duration"`

	// Error is set when the candidate query itself failed.
	Error error `json:"-"`
}

func (r *Result) add(o productResult) {
	r.Examined += o.examined
	r.Purged += o.purged
	r.Failed += o.failed
	if o.persistFailed {
		r.PersistFailures++
	}
}

type productResult struct {
	examined      int
	purged        int
	failed        int
	persistFailed bool
}

// Job purges soft-deleted images past their grace period. Runs are
// single-flight: a Run started while another is active returns at once
// with Skipped set.
type Job struct {
	registry Registry
	store    storage.Storage
	opts     Options
	now      func() time.Time
	logger   *slog.Logger

	running atomic.Bool
}

// JobOption configures a Job beyond its Options.
type JobOption func(*Job)

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

// NewJob creates a deletion job.
func NewJob(reg Registry, store storage.Storage, opts Options, logger *slog.Logger, jobOpts ...JobOption) *Job {
	if opts.GraceHours < 0 {
		opts.GraceHours = DefaultGraceHours
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Job{
		registry: reg,
		store:    store,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range jobOpts {
		o(j)
	}
	return j
}

// Run performs one purge pass. Failures on individual images or products
// are logged and counted; they never abort the rest of the batch.
func (j *Job) Run(ctx context.Context) Result {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Info("purge run skipped: another run is in progress")
		return Result{Skipped: true}
	}
	defer j.running.Store(false)

	if j.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	res := Result{Cutoff: j.now().Add(-time.Duration(j.opts.GraceHours) * time.Hour)}

	batch, err := j.registry.PurgeCandidates(ctx, res.Cutoff, j.opts.BatchLimit)
	if err != nil {
		j.logger.Error("purge run failed to list candidates", slog.String("error", err.Error()))
		res.Error = err
		res.Duration = time.Since(start).String()
		return res
	}
	for _, u := range batch.Unreadable {
		j.logger.Error("skipping product with unreadable images",
			slog.String("product_id", u.ID.String()),
			slog.String("error", u.Err.Error()),
		)
	}
	products := batch.Products
	res.Products = len(products)
	res.Unreadable = len(batch.Unreadable)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(j.opts.Workers)
	for _, p := range products {
		g.Go(func() error {
			pr := j.purgeProduct(ctx, p, res.Cutoff)
			mu.Lock()
			res.add(pr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(start).String()
	j.logger.Info("purge run completed",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("products", res.Products),
		slog.Int("unreadable", res.Unreadable),
		slog.Int("examined", res.Examined),
		slog.Int("purged", res.Purged),
		slog.Int("failed", res.Failed),
		slog.Int("persist_failures", res.PersistFailures),
		slog.String("duration", res.Duration),
	)
	return res
}

// purgeProduct deletes the stored objects of every eligible image of p and
// then removes the descriptors whose delete succeeded.
func (j *Job) purgeProduct(ctx context.Context, p registry.Product, cutoff time.Time) productResult {
	var (
		out       productResult
		collected []string
		deleted   []registry.ImageAsset
	)
	productID := p.ID.String()

	for _, img := range p.PurgeCandidates(cutoff) {
		out.examined++

		if err := ctx.Err(); err != nil {
			out.failed++
			continue
		}

		key := img.StorageKey()
		if key == "" {
			j.logger.Warn("pending image has no storage key",
				slog.String("product_id", productID),
				slog.String("url", img.URL),
			)
			out.failed++
			continue
		}

		if err := j.store.Delete(ctx, key); err != nil {
			level := slog.LevelWarn
			if !errors.Is(err, storage.ErrBackendUnavailable) {
				level = slog.LevelError
			}
			j.logger.Log(ctx, level, "failed to delete stored image, will retry next run",
				slog.String("product_id", productID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			out.failed++
			continue
		}
		collected = append(collected, key)
		deleted = append(deleted, img)
	}

	if err := ctx.Err(); err != nil {
		j.logger.Warn("purge run deadline reached",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
	if len(collected) == 0 {
		return out
	}

	// The objects are gone at this point. If the registry write fails the
	// descriptors stay pending and the next run deletes the already absent
	// objects again, which succeeds.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.opts.PersistTimeout)
	defer cancel()
	removed, err := j.registry.RemovePurged(pctx, p.ID, collected)
	if err != nil {
		j.logger.Error("failed to remove purged images from product",
			slog.String("product_id", productID),
			slog.Any("keys", collected),
			slog.String("error", err.Error()),
		)
		out.persistFailed = true
		return out
	}

	out.purged = removed
	for _, img := range deleted {
		img = img.Purged()
		j.logger.Info("product image purged",
			slog.String("product_id", productID),
			slog.String("key", img.StorageKey()),
			slog.String("state", img.State().String()),
		)
	}
	return out
}
