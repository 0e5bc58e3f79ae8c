// Package registry owns the product document and its ordered list of image
// descriptors. All mutations go through Registry.Update, which re-reads the
// document and saves it under an optimistic version check.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrProductNotFound is returned when a product does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrImageNotFound is returned when a product has no image with the given key.
	ErrImageNotFound = errors.New("image not found")

	// ErrVersionConflict is returned by Repository.Save when the stored
	// document changed since it was read.
	ErrVersionConflict = errors.New("product version conflict")

	// errNoChange lets an update function skip the save.
	errNoChange = errors.New("no change")
)

const defaultUpdateAttempts = 5

// Repository persists product documents.
type Repository interface {
	// Create inserts a new product and returns it with Version 1.
	Create(ctx context.Context, p Product) (Product, error)

	// Get returns the product with id or ErrProductNotFound.
	Get(ctx context.Context, id uuid.UUID) (Product, error)

	// Save stores p if the persisted version still equals p.Version and
	// returns the document with its new version. A stale version yields
	// ErrVersionConflict.
	Save(ctx context.Context, p Product) (Product, error)

	// ListPurgeCandidates returns up to limit products holding at least one
	// image soft-deleted at or before cutoff. Documents that fail to decode
	// are reported in the batch instead of failing the listing.
	ListPurgeCandidates(ctx context.Context, cutoff time.Time, limit int) (CandidateBatch, error)
}

// CandidateBatch is one listing of purge candidates.
type CandidateBatch struct {
	Products []Product
	// Unreadable holds products whose stored image list could not be decoded.
	Unreadable []UnreadableProduct
}

// UnreadableProduct is a stored product document that failed to decode.
type UnreadableProduct struct {
	ID  uuid.UUID
	Err error
}

// Registry is the asset registry service.
type Registry struct {
	repo     Repository
	now      func() time.Time
	attempts int
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used to stamp soft deletes.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithUpdateAttempts sets how many read-modify-write rounds Update makes
// before giving up on a version conflict.
func WithUpdateAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// New creates a registry backed by repo.
func New(repo Repository, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		repo:     repo,
		now:      time.Now,
		attempts: defaultUpdateAttempts,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new product document.
func (r *Registry) Create(ctx context.Context, p Product) (Product, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	created, err := r.repo.Create(ctx, p)
	if err != nil {
		return Product{}, fmt.Errorf("creating product: %w", err)
	}
	return created, nil
}

// Get returns the full product document.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	return r.repo.Get(ctx, id)
}

// Update applies fn to a fresh copy of the product and saves the result,
// retrying from a new read when another writer got there first. If fn
// returns an error the document is left unchanged and the error returned.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, fn func(*Product) error) (Product, error) {
	for attempt := 1; ; attempt++ {
		p, err := r.repo.Get(ctx, id)
		if err != nil {
			return Product{}, err
		}

		if err := fn(&p); err != nil {
			if errors.Is(err, errNoChange) {
				return p, nil
			}
			return Product{}, err
		}

		saved, err := r.repo.Save(ctx, p)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= r.attempts {
			return Product{}, fmt.Errorf("saving product %s: %w", id, err)
		}

		r.logger.Debug("product version conflict, retrying",
			slog.String("product_id", id.String()),
			slog.Int("attempt", attempt),
		)
	}
}

// Append adds an active image to the end of the product's list.
func (r *Registry) Append(ctx context.Context, productID uuid.UUID, img ImageAsset) (Product, error) {
	return r.Update(ctx, productID, func(p *Product) error {
		p.AppendImage(img)
		return nil
	})
}

// MarkDeleted soft-deletes the image stored under key. Calling it again on
// an image that is already pending deletion is a no-op and keeps the
// original deletedAt.
func (r *Registry) MarkDeleted(ctx context.Context, productID uuid.UUID, key string) (ImageAsset, error) {
	var marked ImageAsset
	_, err := r.Update(ctx, productID, func(p *Product) error {
		img, changed, err := p.MarkImageDeleted(key, r.now())
		if err != nil {
			return err
		}
		marked = img
		if !changed {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return ImageAsset{}, err
	}

	deletedAt, _ := marked.DeletedAt()
	r.logger.Info("product image soft-deleted",
		slog.String("product_id", productID.String()),
		slog.String("key", key),
		slog.Time("deleted_at", deletedAt),
	)
	return marked, nil
}

// ActiveImages returns the images of a product that are not pending deletion.
func (r *Registry) ActiveImages(ctx context.Context, productID uuid.UUID) ([]ImageAsset, error) {
	p, err := r.repo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	return p.ActiveImages(), nil
}

// RemovePurged drops the given pending images from the product after their
// stored objects were deleted. It returns the number of descriptors removed.
func (r *Registry) RemovePurged(ctx context.Context, productID uuid.UUID, keys []string) (int, error) {
	removed := 0
	_, err := r.Update(ctx, productID, func(p *Product) error {
		removed = p.RemovePending(keys)
		if removed == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// PurgeCandidates lists up to limit products holding images soft-deleted at
// or before cutoff.
func (r *Registry) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) (CandidateBatch, error) {
	batch, err := r.repo.ListPurgeCandidates(ctx, cutoff, limit)
	if err != nil {
		return CandidateBatch{}, fmt.Errorf("listing purge candidates: %w", err)
	}
	return batch, nil
}
