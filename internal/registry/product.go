package registry

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog document that owns an ordered list of images.
// Version is bumped by every successful save and guards concurrent writers.
type Product struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	Price     decimal.Decimal
	Images    []ImageAsset
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveImages returns the images that are not pending deletion, in order.
func (p Product) ActiveImages() []ImageAsset {
	out := make([]ImageAsset, 0, len(p.Images))
	for _, img := range p.Images {
		if img.State() == StateActive {
			out = append(out, img)
		}
	}
	return out
}

// FindImage returns the image stored under key.
func (p Product) FindImage(key string) (ImageAsset, bool) {
	for _, img := range p.Images {
		if img.StorageKey() == key {
			return img, true
		}
	}
	return ImageAsset{}, false
}

// AppendImage adds img at the end of the list.
func (p *Product) AppendImage(img ImageAsset) {
	p.Images = append(p.Images, img)
}

// MarkImageDeleted soft-deletes the image stored under key. changed is
// false when the image was already pending deletion.
func (p *Product) MarkImageDeleted(key string, now time.Time) (img ImageAsset, changed bool, err error) {
	for i := range p.Images {
		if p.Images[i].StorageKey() != key {
			continue
		}
		changed = p.Images[i].markDeleted(now)
		return p.Images[i], changed, nil
	}
	return ImageAsset{}, false, ErrImageNotFound
}

// PurgeCandidates returns the images soft-deleted at or before cutoff.
func (p Product) PurgeCandidates(cutoff time.Time) []ImageAsset {
	var out []ImageAsset
	for _, img := range p.Images {
		if img.purgeableAt(cutoff) {
			out = append(out, img)
		}
	}
	return out
}

// RemovePending drops pending images whose storage key is in keys,
// preserving the order of the rest. Active images are never removed, so a
// key reused by a fresh upload survives. It returns the number removed.
func (p *Product) RemovePending(keys []string) int {
	if len(keys) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}

	kept := make([]ImageAsset, 0, len(p.Images))
	removed := 0
	for _, img := range p.Images {
		if _, ok := drop[img.StorageKey()]; ok && img.Deleted() {
			removed++
			continue
		}
		kept = append(kept, img)
	}
	p.Images = kept
	return removed
}
